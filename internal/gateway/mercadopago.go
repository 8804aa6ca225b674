// Package gateway implements the MercadoPago HTTP client used to create
// payment preferences and to re-fetch authoritative payment status when a
// webhook arrives.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"shop-backend/internal/models"
)

// Client talks to the MercadoPago REST API.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a gateway client with a bounded request timeout.
func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PreferenceItem is one line of a payment preference. Shipping is sent as a
// synthetic item when the order carries a shipping cost.
type PreferenceItem struct {
	Title       string `json:"title"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	CurrencyID  string `json:"currency_id"`
	Description string `json:"description,omitempty"`
}

// Payer identifies who is paying.
type Payer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// BackURLs are the redirect targets after the hosted checkout.
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceRequest is the payload sent to create a payment preference.
// ExternalReference is the correlation id the gateway echoes back on the
// webhook.
type PreferenceRequest struct {
	Items               []PreferenceItem `json:"items"`
	Payer               Payer            `json:"payer"`
	BackURLs            BackURLs         `json:"back_urls"`
	ExternalReference   string           `json:"external_reference"`
	NotificationURL     string           `json:"notification_url"`
	StatementDescriptor string           `json:"statement_descriptor,omitempty"`
	PaymentMethods      PaymentMethods   `json:"payment_methods"`
}

// PaymentMethods configures accepted methods and installments.
type PaymentMethods struct {
	Installments int `json:"installments"`
}

// ItemsTotal sums the line items actually sent to the gateway.
func (r *PreferenceRequest) ItemsTotal() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// Preference is the created gateway-side payment intent.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
}

// PaymentInfo is the authoritative payment record fetched from the gateway.
type PaymentInfo struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	ExternalReference string  `json:"external_reference"`
	PaymentMethodID   string  `json:"payment_method_id"`
	PaymentTypeID     string  `json:"payment_type_id"`
	TransactionAmount float64 `json:"transaction_amount"`
}

// Gateway payment statuses
const (
	PaymentStatusApproved  = "approved"
	PaymentStatusRejected  = "rejected"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusPending   = "pending"
)

// Notification is the inbound webhook body. Only payment-typed events carry
// a payment id worth acting on; everything else is acknowledged unread.
type Notification struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
	Data  struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// EventType normalizes the two field names MercadoPago uses for the event
// kind.
func (n *Notification) EventType() string {
	if n.Topic != "" {
		return n.Topic
	}
	return n.Type
}

// PaymentID returns the payment id carried by a payment notification.
func (n *Notification) PaymentID() string {
	return n.Data.ID.String()
}

// CreatePreference creates a payment preference listing the order's line
// items. Network failures and 5xx answers surface as ErrGatewayUnavailable
// so the caller can retry.
func (c *Client) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preference: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/checkout/preferences", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build preference request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create preference: %v: %w", err, models.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("create preference: gateway answered %d: %w",
			resp.StatusCode, models.ErrGatewayUnavailable)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create preference: unexpected status %d", resp.StatusCode)
	}

	var pref Preference
	if err := json.NewDecoder(resp.Body).Decode(&pref); err != nil {
		return nil, fmt.Errorf("failed to decode preference response: %w", err)
	}
	return &pref, nil
}

// GetPayment fetches the authoritative state of a payment by id. The
// webhook handler never trusts the status carried in the notification body;
// it always goes through this call.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %v: %w", paymentID, err, models.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("payment %s: %w", paymentID, models.ErrNotFound)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("get payment %s: gateway answered %d: %w",
			paymentID, resp.StatusCode, models.ErrGatewayUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get payment %s: unexpected status %d", paymentID, resp.StatusCode)
	}

	var info PaymentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode payment response: %w", err)
	}
	return &info, nil
}
