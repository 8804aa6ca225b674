package service

import (
	"context"
	"time"

	"shop-backend/internal/gateway"
	"shop-backend/internal/models"
	"shop-backend/internal/store"
)

// CatalogStore is the catalog surface the checkout flow consumes: product
// lookups and effective (offer-adjusted) pricing. Stock mutations happen
// inside OrderStore transactions.
type CatalogStore interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	EffectiveUnitPrice(ctx context.Context, productID int64, at time.Time) (int64, error)
}

// CartStore holds cart lines keyed by (identity, product).
type CartStore interface {
	ListCartLines(ctx context.Context, owner models.Identity) ([]models.CartItem, error)
	UpsertCartLine(ctx context.Context, owner models.Identity, productID int64, quantity int) (*models.CartItem, error)
	SetCartLineQuantity(ctx context.Context, owner models.Identity, productID int64, quantity int) error
	RemoveCartLine(ctx context.Context, owner models.Identity, productID int64) error
	ClearCart(ctx context.Context, owner models.Identity) (int64, error)
	MigrateCart(ctx context.Context, sessionToken string, userID int64) error
}

// OrderStore is the order/payment ledger. Its mutating methods are each a
// single atomic unit; the confirm methods serialize concurrent deliveries
// for the same order via row locks.
type OrderStore interface {
	CreateCheckout(ctx context.Context, order *models.Order, lines []models.OrderItem) (int64, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetPendingOrder(ctx context.Context, userID int64) (*models.Order, error)
	GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error)
	SetPaymentPreference(ctx context.Context, orderID int64, preferenceID string) error
	MarkOrderPaid(ctx context.Context, orderID int64, details store.PaymentDetails) (*store.ConfirmResult, error)
	MarkOrderRejected(ctx context.Context, orderID int64, details store.PaymentDetails) (*store.ConfirmResult, error)
	GetPaidOrderBySession(ctx context.Context, sessionToken string) (*models.Order, error)
	CreateGuestPaidOrder(ctx context.Context, snapshot *models.GuestCheckout, lines []models.OrderItem, details store.PaymentDetails) (*store.ConfirmResult, error)
	CancelPendingOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	AdvanceOrderStatus(ctx context.Context, orderID int64, to string) (*models.Order, error)
}

// SnapshotStore keeps the ephemeral guest checkout snapshots and the
// short-lived locks that serialize webhook deliveries.
type SnapshotStore interface {
	SaveGuestCheckout(ctx context.Context, snapshot *models.GuestCheckout, ttl time.Duration) error
	GetGuestCheckout(ctx context.Context, sessionToken string) (*models.GuestCheckout, error)
	DeleteGuestCheckout(ctx context.Context, sessionToken string) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error)
}

// Notifier receives order lifecycle events, fire-and-forget. Failures are
// logged by the caller and never propagate to the request path.
type Notifier interface {
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
}
