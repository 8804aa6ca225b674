package models

import "time"

// Event types
const (
	EventTypeOrderPaid        = "ORDER_PAID"
	EventTypeOrderCancelled   = "ORDER_CANCELLED"
	EventTypeOrderShipped     = "ORDER_SHIPPED"
	EventTypePaymentCompleted = "PAYMENT_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEventItem is an order line as carried inside events.
type OrderEventItem struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

// OrderPaidEvent is published once per order when payment is confirmed.
type OrderPaidEvent struct {
	BaseEvent
	OrderID      int64            `json:"order_id"`
	ContactEmail string           `json:"contact_email"`
	ContactName  string           `json:"contact_name"`
	Total        int64            `json:"total"`
	ShippingCost int64            `json:"shipping_cost"`
	Items        []OrderEventItem `json:"items"`
}

// OrderCancelledEvent is published when a pending order is cancelled,
// either by the user or by a rejected payment.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Reason  string `json:"reason"`
}

// OrderShippedEvent is published when an order moves to shipped.
type OrderShippedEvent struct {
	BaseEvent
	OrderID      int64  `json:"order_id"`
	ContactEmail string `json:"contact_email"`
}

// PaymentCompletedEvent is published alongside OrderPaid with the gateway
// payment details.
type PaymentCompletedEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	PaymentID     int64  `json:"payment_id"`
	Amount        int64  `json:"amount"`
	GatewayID     string `json:"gateway_id"`
	PaymentMethod string `json:"payment_method"`
}
