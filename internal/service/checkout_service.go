package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"shop-backend/internal/gateway"
	"shop-backend/internal/models"
	"shop-backend/internal/store"
	"shop-backend/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pricing holds the business parameters of the checkout flow.
type Pricing struct {
	Currency              string
	ShippingFlatFee       int64
	FreeShippingThreshold int64
	GuestCheckoutTTL      time.Duration
}

// CheckoutService orchestrates the cart-to-order flow: eager pending orders
// for authenticated accounts, deferred materialization for guests, and the
// exactly-once stock decrement on payment confirmation.
type CheckoutService struct {
	catalog   CatalogStore
	carts     CartStore
	orders    OrderStore
	snapshots SnapshotStore
	notifier  Notifier
	pricing   Pricing
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	catalog CatalogStore,
	carts CartStore,
	orders OrderStore,
	snapshots SnapshotStore,
	notifier Notifier,
	pricing Pricing,
) *CheckoutService {
	return &CheckoutService{
		catalog:   catalog,
		carts:     carts,
		orders:    orders,
		snapshots: snapshots,
		notifier:  notifier,
		pricing:   pricing,
		logger:    util.GetLogger(),
	}
}

// CheckoutTotals is what both checkout flows return to the client.
type CheckoutTotals struct {
	OrderID              int64  `json:"order_id,omitempty"`
	CorrelationToken     string `json:"correlation_token,omitempty"`
	Total                int64  `json:"total"`
	TotalProducts        int64  `json:"total_products"`
	DeliveryMethod       string `json:"delivery_method"`
	ShippingCost         int64  `json:"shipping_cost"`
	FreeShippingUnlocked bool   `json:"free_shipping_unlocked"`
}

// priceCartLines resolves each cart line against the catalog: current
// product, offer-adjusted unit price, and a stock sufficiency check. The
// returned lines are the price snapshot frozen into the order.
func (s *CheckoutService) priceCartLines(ctx context.Context, lines []models.CartItem, verifyStock bool) ([]models.OrderItem, int64, error) {
	now := time.Now()
	priced := make([]models.OrderItem, 0, len(lines))
	var totalProducts int64

	for _, line := range lines {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return nil, 0, err
		}
		if verifyStock && line.Quantity > product.Stock {
			return nil, 0, &models.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
			}
		}
		unitPrice, err := s.catalog.EffectiveUnitPrice(ctx, line.ProductID, now)
		if err != nil {
			return nil, 0, err
		}
		subtotal := unitPrice * int64(line.Quantity)
		totalProducts += subtotal
		priced = append(priced, models.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   unitPrice,
			Quantity:    line.Quantity,
			Subtotal:    subtotal,
		})
	}
	return priced, totalProducts, nil
}

// shippingCost computes the shipping fee: flat for delivery, zero for
// pickup, waived entirely once the product total reaches the free-shipping
// threshold.
func (s *CheckoutService) shippingCost(totalProducts int64, deliveryMethod string) (int64, bool) {
	freeShipping := totalProducts >= s.pricing.FreeShippingThreshold
	if deliveryMethod != models.DeliveryMethodDelivery {
		return 0, freeShipping
	}
	if freeShipping {
		return 0, true
	}
	return s.pricing.ShippingFlatFee, false
}

// BeginCheckout turns an authenticated account's cart into a pending order:
// prior pending orders are cancelled, lines are snapshotted at current
// effective prices, a pending payment is created and the cart is cleared.
// Stock is not decremented until the payment webhook confirms.
func (s *CheckoutService) BeginCheckout(ctx context.Context, userID int64, deliveryMethod string) (*CheckoutTotals, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.BeginCheckout")
	defer span.End()

	deliveryMethod = models.ValidDeliveryMethod(deliveryMethod)
	owner := models.AccountIdentity(userID)

	lines, err := s.carts.ListCartLines(ctx, owner)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(lines) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, models.ErrEmptyCart
	}

	priced, totalProducts, err := s.priceCartLines(ctx, lines, true)
	if err != nil {
		if _, ok := models.IsInsufficientStock(err); ok {
			util.CheckoutsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		}
		return nil, err
	}

	shipping, freeShipping := s.shippingCost(totalProducts, deliveryMethod)
	order := &models.Order{
		UserID:         sql.NullInt64{Int64: userID, Valid: true},
		DeliveryMethod: deliveryMethod,
		ShippingCost:   shipping,
		Total:          totalProducts + shipping,
	}

	cancelled, err := s.orders.CreateCheckout(ctx, order, priced)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}
	if cancelled > 0 {
		s.logger.Info("Cancelled prior pending orders",
			zap.Int64("user_id", userID),
			zap.Int64("count", cancelled))
	}

	util.CheckoutsStartedTotal.WithLabelValues("account").Inc()
	s.logger.Info("Checkout started",
		zap.Int64("user_id", userID),
		zap.Int64("order_id", order.ID),
		zap.Int64("total", order.Total))

	return &CheckoutTotals{
		OrderID:              order.ID,
		Total:                order.Total,
		TotalProducts:        totalProducts,
		DeliveryMethod:       deliveryMethod,
		ShippingCost:         shipping,
		FreeShippingUnlocked: freeShipping,
	}, nil
}

// PrepareGuestPayment computes a guest checkout snapshot and stores it under
// the session token for the webhook to consume. No order or payment is
// created and the cart is left untouched; the stock check here is advisory
// and repeated at confirmation time.
func (s *CheckoutService) PrepareGuestPayment(ctx context.Context, sessionToken string, contact models.GuestContact, deliveryMethod string) (*CheckoutTotals, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PrepareGuestPayment")
	defer span.End()

	deliveryMethod = models.ValidDeliveryMethod(deliveryMethod)
	owner := models.GuestIdentity(sessionToken)

	lines, err := s.carts.ListCartLines(ctx, owner)
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(lines) == 0 {
		util.CheckoutsFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, models.ErrEmptyCart
	}

	_, totalProducts, err := s.priceCartLines(ctx, lines, true)
	if err != nil {
		if _, ok := models.IsInsufficientStock(err); ok {
			util.CheckoutsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		}
		return nil, err
	}

	shipping, freeShipping := s.shippingCost(totalProducts, deliveryMethod)
	snapshot := &models.GuestCheckout{
		SessionToken:   sessionToken,
		Contact:        contact,
		DeliveryMethod: deliveryMethod,
		ShippingCost:   shipping,
		TotalProducts:  totalProducts,
		Total:          totalProducts + shipping,
		FreeShipping:   freeShipping,
		CreatedAt:      time.Now(),
	}

	if err := s.snapshots.SaveGuestCheckout(ctx, snapshot, s.pricing.GuestCheckoutTTL); err != nil {
		return nil, fmt.Errorf("failed to save guest checkout: %w", err)
	}

	util.CheckoutsStartedTotal.WithLabelValues("guest").Inc()
	s.logger.Info("Guest payment prepared",
		zap.String("session_token", sessionToken),
		zap.Int64("total", snapshot.Total))

	return &CheckoutTotals{
		CorrelationToken:     sessionToken,
		Total:                snapshot.Total,
		TotalProducts:        totalProducts,
		DeliveryMethod:       deliveryMethod,
		ShippingCost:         shipping,
		FreeShippingUnlocked: freeShipping,
	}, nil
}

// ConfirmPayment applies a verified gateway payment result to the checkout
// it correlates with. Expected nothing-to-do conditions (already processed,
// missing order or snapshot, empty cart) are absorbed here: the webhook
// must acknowledge them as success so the gateway stops retrying. Only
// genuinely unexpected failures propagate.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, corr models.CorrelationID, gatewayStatus string, details store.PaymentDetails) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ConfirmPayment")
	defer span.End()

	if corr.IsGuest() {
		return s.confirmGuestPayment(ctx, corr.GuestToken, gatewayStatus, details)
	}
	return s.confirmOrderPayment(ctx, corr.OrderID, gatewayStatus, details)
}

func (s *CheckoutService) confirmOrderPayment(ctx context.Context, orderID int64, gatewayStatus string, details store.PaymentDetails) error {
	switch gatewayStatus {
	case gateway.PaymentStatusApproved:
		res, err := s.orders.MarkOrderPaid(ctx, orderID, details)
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("Webhook for unknown order", zap.Int64("order_id", orderID))
			util.WebhookEventsTotal.WithLabelValues("order_not_found").Inc()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to confirm order %d: %w", orderID, err)
		}
		if res.AlreadyProcessed {
			s.logger.Info("Payment already processed", zap.Int64("order_id", orderID))
			util.WebhookEventsTotal.WithLabelValues("already_processed").Inc()
			return nil
		}
		s.logSkippedLines(orderID, res.Skipped)
		util.OrdersPaidTotal.Inc()
		util.WebhookEventsTotal.WithLabelValues("confirmed").Inc()
		s.logger.Info("Order paid",
			zap.Int64("order_id", orderID),
			zap.String("gateway_payment_id", details.GatewayPaymentID))
		s.publishPaid(ctx, res.Order, details)
		return nil

	case gateway.PaymentStatusRejected, gateway.PaymentStatusCancelled:
		res, err := s.orders.MarkOrderRejected(ctx, orderID, details)
		if errors.Is(err, models.ErrNotFound) {
			util.WebhookEventsTotal.WithLabelValues("order_not_found").Inc()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to reject order %d: %w", orderID, err)
		}
		if res.AlreadyProcessed {
			util.WebhookEventsTotal.WithLabelValues("already_processed").Inc()
			return nil
		}
		util.OrdersCancelledTotal.WithLabelValues("payment_rejected").Inc()
		util.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		s.logger.Info("Order cancelled after rejected payment", zap.Int64("order_id", orderID))
		s.publishCancelled(ctx, orderID, "payment_rejected")
		return nil

	default:
		// pending and in_process leave everything untouched
		util.WebhookEventsTotal.WithLabelValues("pending").Inc()
		s.logger.Info("Payment not final yet",
			zap.Int64("order_id", orderID),
			zap.String("status", gatewayStatus))
		return nil
	}
}

func (s *CheckoutService) confirmGuestPayment(ctx context.Context, sessionToken, gatewayStatus string, details store.PaymentDetails) error {
	if gatewayStatus != gateway.PaymentStatusApproved {
		// Rejected, cancelled or pending: cart and snapshot stay intact so
		// the guest can retry.
		util.WebhookEventsTotal.WithLabelValues("guest_" + gatewayStatus).Inc()
		s.logger.Info("Guest payment not approved, nothing to do",
			zap.String("session_token", sessionToken),
			zap.String("status", gatewayStatus))
		return nil
	}

	locked, err := s.snapshots.AcquireLock(ctx, "webhook:"+sessionToken, 30*time.Second)
	if err != nil {
		return fmt.Errorf("failed to acquire webhook lock: %w", err)
	}
	if !locked {
		s.logger.Info("Concurrent webhook delivery in flight",
			zap.String("session_token", sessionToken))
		util.WebhookEventsTotal.WithLabelValues("locked").Inc()
		return nil
	}
	defer func() {
		if err := s.snapshots.ReleaseLock(ctx, "webhook:"+sessionToken); err != nil {
			s.logger.Warn("Failed to release webhook lock", zap.Error(err))
		}
	}()

	if _, err := s.orders.GetPaidOrderBySession(ctx, sessionToken); err == nil {
		s.logger.Info("Guest order already materialized",
			zap.String("session_token", sessionToken))
		util.WebhookEventsTotal.WithLabelValues("already_processed").Inc()
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check existing guest order: %w", err)
	}

	snapshot, err := s.snapshots.GetGuestCheckout(ctx, sessionToken)
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Warn("Guest checkout snapshot missing or expired",
			zap.String("session_token", sessionToken))
		util.WebhookEventsTotal.WithLabelValues("missing_snapshot").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load guest checkout: %w", err)
	}

	lines, err := s.carts.ListCartLines(ctx, models.GuestIdentity(sessionToken))
	if err != nil {
		return fmt.Errorf("failed to load guest cart: %w", err)
	}
	if len(lines) == 0 {
		s.logger.Warn("Guest cart empty at confirmation",
			zap.String("session_token", sessionToken))
		util.WebhookEventsTotal.WithLabelValues("empty_cart").Inc()
		return nil
	}

	// Prices are recomputed from the live catalog at confirmation time;
	// stock sufficiency is decided per line inside the transaction.
	priced, err := s.priceConfirmedLines(ctx, sessionToken, lines)
	if err != nil {
		return fmt.Errorf("failed to price guest cart: %w", err)
	}

	res, err := s.orders.CreateGuestPaidOrder(ctx, snapshot, priced, details)
	if err != nil {
		return fmt.Errorf("failed to materialize guest order: %w", err)
	}
	if res.AlreadyProcessed {
		util.WebhookEventsTotal.WithLabelValues("already_processed").Inc()
		return nil
	}

	if err := s.snapshots.DeleteGuestCheckout(ctx, sessionToken); err != nil {
		s.logger.Warn("Failed to delete consumed guest checkout", zap.Error(err))
	}

	s.logSkippedLines(res.Order.ID, res.Skipped)
	util.OrdersPaidTotal.Inc()
	util.WebhookEventsTotal.WithLabelValues("confirmed").Inc()
	s.logger.Info("Guest order materialized",
		zap.Int64("order_id", res.Order.ID),
		zap.String("session_token", sessionToken),
		zap.Int64("total", res.Order.Total))
	s.publishPaid(ctx, res.Order, details)
	return nil
}

// priceConfirmedLines resolves guest cart lines at confirmation time. The
// amount was already captured by the gateway, so a line whose product has
// vanished from the catalog since the checkout was prepared is dropped and
// logged rather than failing the confirmation; the order still materializes
// with the remaining lines. Other catalog errors propagate so the gateway
// redelivers.
func (s *CheckoutService) priceConfirmedLines(ctx context.Context, sessionToken string, lines []models.CartItem) ([]models.OrderItem, error) {
	now := time.Now()
	priced := make([]models.OrderItem, 0, len(lines))

	for _, line := range lines {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err == nil {
			var unitPrice int64
			unitPrice, err = s.catalog.EffectiveUnitPrice(ctx, line.ProductID, now)
			if err == nil {
				priced = append(priced, models.OrderItem{
					ProductID:   product.ID,
					ProductName: product.Name,
					UnitPrice:   unitPrice,
					Quantity:    line.Quantity,
					Subtotal:    unitPrice * int64(line.Quantity),
				})
				continue
			}
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		util.StockDecrementSkipsTotal.Inc()
		s.logger.Error("Product no longer available for guest order line",
			zap.String("session_token", sessionToken),
			zap.Int64("product_id", line.ProductID))
	}
	return priced, nil
}

// logSkippedLines records lines whose stock could not be taken during
// confirmation. The amount was already captured by the gateway, so the
// skipped lines stay charged; this log is the trail for manual follow-up.
func (s *CheckoutService) logSkippedLines(orderID int64, skipped []int64) {
	for _, productID := range skipped {
		util.StockDecrementSkipsTotal.Inc()
		s.logger.Error("Stock could not be taken for order line",
			zap.Int64("order_id", orderID),
			zap.Int64("product_id", productID))
	}
}

// CancelPendingOrder cancels the account's own pending order, restoring the
// snapshotted quantities to stock.
func (s *CheckoutService) CancelPendingOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CancelPendingOrder")
	defer span.End()

	order, err := s.orders.CancelPendingOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.WithLabelValues("user_cancelled").Inc()
	s.logger.Info("Pending order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("user_id", userID))
	s.publishCancelled(ctx, orderID, "user_cancelled")
	return order, nil
}

// AdvanceOrderStatus moves a paid order along the fulfillment states,
// publishing a shipped notification when it leaves the warehouse.
func (s *CheckoutService) AdvanceOrderStatus(ctx context.Context, orderID int64, to string) (*models.Order, error) {
	order, err := s.orders.AdvanceOrderStatus(ctx, orderID, to)
	if err != nil {
		return nil, err
	}

	if to == models.OrderStatusShipped {
		event := &models.OrderShippedEvent{
			BaseEvent:    newBaseEvent(models.EventTypeOrderShipped),
			OrderID:      order.ID,
			ContactEmail: order.ContactEmail(),
		}
		if err := s.notifier.PublishOrderShipped(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderShipped event", zap.Error(err))
		}
	}
	return order, nil
}

// GetOrder returns an account's order with its lines.
func (s *CheckoutService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if !order.UserID.Valid || order.UserID.Int64 != userID {
		return nil, nil, models.ErrNotFound
	}
	items, err := s.orders.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListOrders returns the account's order history, newest first.
func (s *CheckoutService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.ListOrdersByUser(ctx, userID)
}

// PendingOrder returns the account's most recent pending order with its
// lines, or models.ErrNotFound.
func (s *CheckoutService) PendingOrder(ctx context.Context, userID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.orders.GetPendingOrder(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

func (s *CheckoutService) publishPaid(ctx context.Context, order *models.Order, details store.PaymentDetails) {
	items, err := s.orders.GetOrderItems(ctx, order.ID)
	if err != nil {
		s.logger.Error("Failed to load items for notification", zap.Error(err))
	}

	eventItems := make([]models.OrderEventItem, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.OrderEventItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	paidEvent := &models.OrderPaidEvent{
		BaseEvent:    newBaseEvent(models.EventTypeOrderPaid),
		OrderID:      order.ID,
		ContactEmail: order.ContactEmail(),
		ContactName:  order.GuestName.String,
		Total:        order.Total,
		ShippingCost: order.ShippingCost,
		Items:        eventItems,
	}
	if err := s.notifier.PublishOrderPaid(ctx, paidEvent); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}

	payment, err := s.orders.GetPaymentByOrder(ctx, order.ID)
	if err != nil {
		s.logger.Error("Failed to load payment for notification", zap.Error(err))
		return
	}
	completedEvent := &models.PaymentCompletedEvent{
		BaseEvent:     newBaseEvent(models.EventTypePaymentCompleted),
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		Amount:        payment.Amount,
		GatewayID:     details.GatewayPaymentID,
		PaymentMethod: details.PaymentMethod,
	}
	if err := s.notifier.PublishPaymentCompleted(ctx, completedEvent); err != nil {
		s.logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
	}
}

func (s *CheckoutService) publishCancelled(ctx context.Context, orderID int64, reason string) {
	event := &models.OrderCancelledEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:   orderID,
		Reason:    reason,
	}
	if err := s.notifier.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
