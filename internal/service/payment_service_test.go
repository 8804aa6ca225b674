package service

import (
	"context"
	"encoding/json"
	"testing"

	"shop-backend/internal/gateway"
	"shop-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentNotification(id string) *gateway.Notification {
	n := &gateway.Notification{Type: "payment"}
	n.Data.ID = json.Number(id)
	return n
}

func TestHandleWebhookIgnoresNonPayment(t *testing.T) {
	env := newTestEnv()

	err := env.payments.HandleWebhook(context.Background(), &gateway.Notification{Type: "merchant_order"})
	assert.NoError(t, err)
}

func TestHandleWebhookMissingPaymentID(t *testing.T) {
	env := newTestEnv()

	err := env.payments.HandleWebhook(context.Background(), &gateway.Notification{Type: "payment"})
	assert.NoError(t, err)
}

func TestHandleWebhookUnknownPayment(t *testing.T) {
	env := newTestEnv()

	err := env.payments.HandleWebhook(context.Background(), paymentNotification("424242"))
	assert.NoError(t, err, "gateway does not know the payment, acknowledge and move on")
}

func TestHandleWebhookConfirmsOrder(t *testing.T) {
	env := newTestEnv()
	env.catalog.addProduct(1, "Lamp", 10000, 5)
	seedCart(t, env, models.AccountIdentity(1), map[int64]int{1: 2})
	ctx := context.Background()

	totals, err := env.checkout.BeginCheckout(ctx, 1, "pickup")
	require.NoError(t, err)

	env.gateway.payments["555"] = &gateway.PaymentInfo{
		ID:                555,
		Status:            gateway.PaymentStatusApproved,
		ExternalReference: models.OrderCorrelation(totals.OrderID).String(),
		PaymentMethodID:   "visa",
		PaymentTypeID:     "credit_card",
	}

	require.NoError(t, env.payments.HandleWebhook(ctx, paymentNotification("555")))

	order, err := env.orders.GetOrder(ctx, totals.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, 3, env.catalog.stock(1))

	payment, err := env.orders.GetPaymentByOrder(ctx, totals.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "555", payment.PaymentID.String)
	assert.Equal(t, "visa", payment.PaymentMethod.String)
}

func TestHandleWebhookStatusFromGatewayNotBody(t *testing.T) {
	env := newTestEnv()
	env.catalog.addProduct(1, "Lamp", 10000, 5)
	seedCart(t, env, models.AccountIdentity(1), map[int64]int{1: 1})
	ctx := context.Background()

	totals, err := env.checkout.BeginCheckout(ctx, 1, "pickup")
	require.NoError(t, err)

	// The gateway reports rejected regardless of what the webhook body said.
	env.gateway.payments["777"] = &gateway.PaymentInfo{
		ID:                777,
		Status:            gateway.PaymentStatusRejected,
		ExternalReference: models.OrderCorrelation(totals.OrderID).String(),
	}

	require.NoError(t, env.payments.HandleWebhook(ctx, paymentNotification("777")))

	order, err := env.orders.GetOrder(ctx, totals.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, order.Status)
	assert.Equal(t, 5, env.catalog.stock(1))
}

func TestHandleWebhookGuestFlow(t *testing.T) {
	env := newTestEnv()
	env.catalog.addProduct(1, "Lamp", 10000, 5)
	token := models.NewGuestToken()
	seedCart(t, env, models.GuestIdentity(token), map[int64]int{1: 2})
	ctx := context.Background()

	_, err := env.checkout.PrepareGuestPayment(ctx, token, models.GuestContact{Email: "g@example.com", Name: "G"}, "delivery")
	require.NoError(t, err)

	env.gateway.payments["888"] = &gateway.PaymentInfo{
		ID:                888,
		Status:            gateway.PaymentStatusApproved,
		ExternalReference: token,
	}

	require.NoError(t, env.payments.HandleWebhook(ctx, paymentNotification("888")))

	order, err := env.orders.GetPaidOrderBySession(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
}

func TestHandleWebhookEmptyReference(t *testing.T) {
	env := newTestEnv()
	env.gateway.payments["999"] = &gateway.PaymentInfo{ID: 999, Status: gateway.PaymentStatusApproved}

	err := env.payments.HandleWebhook(context.Background(), paymentNotification("999"))
	assert.NoError(t, err)
}

func TestCreatePreferenceForOrder(t *testing.T) {
	env := newTestEnv()
	env.catalog.addProduct(1, "Lamp", 10000, 5)
	seedCart(t, env, models.AccountIdentity(1), map[int64]int{1: 2})
	ctx := context.Background()

	totals, err := env.checkout.BeginCheckout(ctx, 1, "delivery")
	require.NoError(t, err)

	result, err := env.payments.CreatePreferenceForOrder(ctx, 1, totals.OrderID, "buyer@example.com", "Buyer")
	require.NoError(t, err)
	assert.NotEmpty(t, result.PreferenceID)
	assert.Equal(t, totals.Total, result.Total)

	require.Len(t, env.gateway.preferences, 1)
	req := env.gateway.preferences[0]
	assert.Equal(t, models.OrderCorrelation(totals.OrderID).String(), req.ExternalReference)
	assert.Equal(t, totals.Total, req.ItemsTotal(), "line items plus shipping match the stored total")

	payment, err := env.orders.GetPaymentByOrder(ctx, totals.OrderID)
	require.NoError(t, err)
	assert.Equal(t, result.PreferenceID, payment.PreferenceID.String)
}

func TestCreatePreferenceForOrderWrongOwner(t *testing.T) {
	env := newTestEnv()
	env.catalog.addProduct(1, "Lamp", 10000, 5)
	seedCart(t, env, models.AccountIdentity(1), map[int64]int{1: 1})
	ctx := context.Background()

	totals, err := env.checkout.BeginCheckout(ctx, 1, "pickup")
	require.NoError(t, err)

	_, err = env.payments.CreatePreferenceForOrder(ctx, 2, totals.OrderID, "x@example.com", "X")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCreatePreferenceForGuest(t *testing.T) {
	env := newTestEnv()
	env.catalog.addProduct(1, "Lamp", 10000, 5)
	token := models.NewGuestToken()
	seedCart(t, env, models.GuestIdentity(token), map[int64]int{1: 2})
	ctx := context.Background()

	totals, err := env.checkout.PrepareGuestPayment(ctx, token, models.GuestContact{Email: "g@example.com", Name: "G"}, "delivery")
	require.NoError(t, err)

	result, err := env.payments.CreatePreferenceForGuest(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, totals.Total, result.Total)

	require.Len(t, env.gateway.preferences, 1)
	req := env.gateway.preferences[0]
	assert.Equal(t, token, req.ExternalReference)
	assert.Equal(t, "g@example.com", req.Payer.Email)
}

func TestCreatePreferenceForGuestWithoutSnapshot(t *testing.T) {
	env := newTestEnv()

	_, err := env.payments.CreatePreferenceForGuest(context.Background(), models.NewGuestToken())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
