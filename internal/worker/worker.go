package worker

import (
	"context"

	"shop-backend/internal/broker"
	"shop-backend/internal/models"
	"shop-backend/internal/util"

	"go.uber.org/zap"
)

// NotificationWorker consumes order lifecycle events and dispatches the
// customer-facing notifications. The actual mail transport lives behind the
// notifications provider; here we log the dispatch with enough detail to
// reconstruct it.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPaid(w.handleOrderPaid)
	eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	eventHandler.OnOrderShipped(w.handleOrderShipped)
	eventHandler.OnPaymentCompleted(w.handlePaymentCompleted)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	w.logger.Info("Dispatching order confirmation",
		zap.Int64("order_id", event.OrderID),
		zap.String("email", event.ContactEmail),
		zap.Int64("total", event.Total),
		zap.Int("items", len(event.Items)))
	return nil
}

func (w *NotificationWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	w.logger.Info("Dispatching cancellation notice",
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason))
	return nil
}

func (w *NotificationWorker) handleOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error {
	w.logger.Info("Dispatching shipping notice",
		zap.Int64("order_id", event.OrderID),
		zap.String("email", event.ContactEmail))
	return nil
}

func (w *NotificationWorker) handlePaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	w.logger.Info("Dispatching payment receipt",
		zap.Int64("order_id", event.OrderID),
		zap.Int64("payment_id", event.PaymentID),
		zap.Int64("amount", event.Amount),
		zap.String("method", event.PaymentMethod))
	return nil
}
