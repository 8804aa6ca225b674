package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-backend/internal/gateway"
	"shop-backend/internal/models"
	"shop-backend/internal/store"
	"shop-backend/internal/util"

	"go.uber.org/zap"
)

// PreferenceSettings configures the payment intents sent to the gateway.
type PreferenceSettings struct {
	Currency            string
	SuccessURL          string
	FailureURL          string
	PendingURL          string
	WebhookURL          string
	StatementDescriptor string
	Installments        int
}

// PaymentService is the gateway-facing half of the payment flow: it builds
// payment preferences from orders or guest snapshots and processes inbound
// webhook notifications, re-fetching the authoritative payment state before
// handing the result to the checkout orchestrator.
type PaymentService struct {
	gateway   PaymentGateway
	orders    OrderStore
	carts     CartStore
	catalog   CatalogStore
	snapshots SnapshotStore
	checkout  *CheckoutService
	settings  PreferenceSettings
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	gw PaymentGateway,
	orders OrderStore,
	carts CartStore,
	catalog CatalogStore,
	snapshots SnapshotStore,
	checkout *CheckoutService,
	settings PreferenceSettings,
) *PaymentService {
	return &PaymentService{
		gateway:   gw,
		orders:    orders,
		carts:     carts,
		catalog:   catalog,
		snapshots: snapshots,
		checkout:  checkout,
		settings:  settings,
		logger:    util.GetLogger(),
	}
}

// PreferenceResult is returned to the client initiating a payment.
type PreferenceResult struct {
	PreferenceID     string `json:"preference_id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point,omitempty"`
	Total            int64  `json:"total"`
}

func (ps *PaymentService) basePreference(corr models.CorrelationID, payer gateway.Payer) *gateway.PreferenceRequest {
	return &gateway.PreferenceRequest{
		Payer: payer,
		BackURLs: gateway.BackURLs{
			Success: ps.settings.SuccessURL,
			Failure: ps.settings.FailureURL,
			Pending: ps.settings.PendingURL,
		},
		ExternalReference:   corr.String(),
		NotificationURL:     ps.settings.WebhookURL,
		StatementDescriptor: ps.settings.StatementDescriptor,
		PaymentMethods:      gateway.PaymentMethods{Installments: ps.settings.Installments},
	}
}

func (ps *PaymentService) shippingItem(deliveryMethod string, cost int64) gateway.PreferenceItem {
	label := "Shipping - Home delivery"
	if deliveryMethod == models.DeliveryMethodPickup {
		label = "Shipping - Store pickup"
	}
	return gateway.PreferenceItem{
		Title:      label,
		Quantity:   1,
		UnitPrice:  cost,
		CurrencyID: ps.settings.Currency,
	}
}

// reconcileTotal warns when the items actually sent to the gateway do not
// add up to the stored total. Drift between orchestrator and adapter
// pricing is a bug worth surfacing, but the payment still proceeds.
func (ps *PaymentService) reconcileTotal(req *gateway.PreferenceRequest, expected int64, corr models.CorrelationID) {
	if got := req.ItemsTotal(); got != expected {
		ps.logger.Warn("Preference items do not reconcile with stored total",
			zap.String("correlation_id", corr.String()),
			zap.Int64("items_total", got),
			zap.Int64("expected_total", expected))
	}
}

func (ps *PaymentService) createPreference(ctx context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error) {
	start := time.Now()
	pref, err := ps.gateway.CreatePreference(ctx, req)
	util.GatewayRequestLatency.WithLabelValues("create_preference").Observe(time.Since(start).Seconds())
	return pref, err
}

// CreatePreferenceForOrder builds a payment preference for an existing
// pending order (authenticated flow). Line items come from the order's
// frozen snapshot, never from the live catalog.
func (ps *PaymentService) CreatePreferenceForOrder(ctx context.Context, userID, orderID int64, payerEmail, payerName string) (*PreferenceResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePreferenceForOrder")
	defer span.End()

	order, err := ps.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.UserID.Valid || order.UserID.Int64 != userID {
		return nil, models.ErrNotFound
	}

	items, err := ps.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	corr := models.OrderCorrelation(orderID)
	req := ps.basePreference(corr, gateway.Payer{Email: payerEmail, Name: payerName})
	for _, item := range items {
		req.Items = append(req.Items, gateway.PreferenceItem{
			Title:       item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			CurrencyID:  ps.settings.Currency,
			Description: item.ProductName,
		})
	}
	if order.ShippingCost > 0 {
		req.Items = append(req.Items, ps.shippingItem(order.DeliveryMethod, order.ShippingCost))
	}
	ps.reconcileTotal(req, order.Total, corr)

	pref, err := ps.createPreference(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := ps.orders.SetPaymentPreference(ctx, orderID, pref.ID); err != nil {
		ps.logger.Error("Failed to record preference id",
			zap.Int64("order_id", orderID), zap.Error(err))
	}

	ps.logger.Info("Preference created for order",
		zap.Int64("order_id", orderID),
		zap.String("preference_id", pref.ID))

	return &PreferenceResult{
		PreferenceID:     pref.ID,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
		Total:            order.Total,
	}, nil
}

// CreatePreferenceForGuest builds a payment preference from a prepared
// guest snapshot and the live cart. Prices are the current effective ones;
// the order itself does not exist until the webhook confirms.
func (ps *PaymentService) CreatePreferenceForGuest(ctx context.Context, sessionToken string) (*PreferenceResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePreferenceForGuest")
	defer span.End()

	snapshot, err := ps.snapshots.GetGuestCheckout(ctx, sessionToken)
	if err != nil {
		return nil, err
	}

	lines, err := ps.carts.ListCartLines(ctx, models.GuestIdentity(sessionToken))
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, models.ErrEmptyCart
	}

	corr := models.GuestCorrelation(sessionToken)
	req := ps.basePreference(corr, gateway.Payer{
		Email: snapshot.Contact.Email,
		Name:  snapshot.Contact.Name,
	})

	now := time.Now()
	for _, line := range lines {
		product, err := ps.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		unitPrice, err := ps.catalog.EffectiveUnitPrice(ctx, line.ProductID, now)
		if err != nil {
			return nil, err
		}
		req.Items = append(req.Items, gateway.PreferenceItem{
			Title:       product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   unitPrice,
			CurrencyID:  ps.settings.Currency,
			Description: product.Name,
		})
	}
	if snapshot.ShippingCost > 0 {
		req.Items = append(req.Items, ps.shippingItem(snapshot.DeliveryMethod, snapshot.ShippingCost))
	}
	ps.reconcileTotal(req, snapshot.Total, corr)

	pref, err := ps.createPreference(ctx, req)
	if err != nil {
		return nil, err
	}

	ps.logger.Info("Preference created for guest",
		zap.String("session_token", sessionToken),
		zap.String("preference_id", pref.ID))

	return &PreferenceResult{
		PreferenceID:     pref.ID,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
		Total:            snapshot.Total,
	}, nil
}

// HandleWebhook processes an inbound gateway notification. Only payment
// events are acted on; the payment's status is always re-fetched from the
// gateway by id, never trusted from the notification body. Every expected
// no-op returns nil so the HTTP layer acknowledges with success; an error
// return means the gateway should redeliver.
func (ps *PaymentService) HandleWebhook(ctx context.Context, notification *gateway.Notification) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if notification.EventType() != "payment" {
		util.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		ps.logger.Debug("Ignoring non-payment notification",
			zap.String("type", notification.EventType()))
		return nil
	}

	paymentID := notification.PaymentID()
	if paymentID == "" {
		util.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		ps.logger.Warn("Payment notification without payment id")
		return nil
	}

	start := time.Now()
	info, err := ps.gateway.GetPayment(ctx, paymentID)
	util.GatewayRequestLatency.WithLabelValues("get_payment").Observe(time.Since(start).Seconds())
	if errors.Is(err, models.ErrNotFound) {
		ps.logger.Warn("Gateway does not know payment", zap.String("payment_id", paymentID))
		util.WebhookEventsTotal.WithLabelValues("payment_not_found").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to verify payment %s: %w", paymentID, err)
	}

	if info.ExternalReference == "" {
		ps.logger.Warn("Payment without external reference",
			zap.String("payment_id", paymentID))
		util.WebhookEventsTotal.WithLabelValues("no_reference").Inc()
		return nil
	}

	corr, err := models.ParseCorrelationID(info.ExternalReference)
	if err != nil {
		ps.logger.Warn("Unparseable external reference",
			zap.String("payment_id", paymentID),
			zap.String("external_reference", info.ExternalReference),
			zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues("bad_reference").Inc()
		return nil
	}

	ps.logger.Info("Processing payment notification",
		zap.String("payment_id", paymentID),
		zap.String("status", info.Status),
		zap.String("correlation_id", corr.String()),
		zap.Bool("guest", corr.IsGuest()))

	details := store.PaymentDetails{
		GatewayPaymentID: paymentID,
		PaymentMethod:    info.PaymentMethodID,
		PaymentType:      info.PaymentTypeID,
	}
	return ps.checkout.ConfirmPayment(ctx, corr, info.Status, details)
}
