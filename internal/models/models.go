package models

import (
	"database/sql"
	"time"
)

// Product represents a product in the catalog
type Product struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	Stock     int       `db:"stock" json:"stock"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Offer is a time-bounded percentage discount on a single product.
type Offer struct {
	ID              int64        `db:"id" json:"id"`
	ProductID       int64        `db:"product_id" json:"product_id"`
	DiscountPercent int          `db:"discount_percent" json:"discount_percent"`
	Active          bool         `db:"active" json:"active"`
	StartsAt        time.Time    `db:"starts_at" json:"starts_at"`
	EndsAt          sql.NullTime `db:"ends_at" json:"ends_at,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

// EffectiveAt reports whether the offer applies at the given instant.
func (o *Offer) EffectiveAt(now time.Time) bool {
	if !o.Active || now.Before(o.StartsAt) {
		return false
	}
	return !o.EndsAt.Valid || !now.After(o.EndsAt.Time)
}

// DiscountedPrice applies the offer's percentage to a base price.
func (o *Offer) DiscountedPrice(base int64) int64 {
	return base - base*int64(o.DiscountPercent)/100
}

// CartItem is one line of a cart. Exactly one of UserID / SessionToken is
// set; the pair (owner, product) is unique. Price is not stored here, it is
// resolved from the catalog at read time.
type CartItem struct {
	ID           int64          `db:"id" json:"id"`
	UserID       sql.NullInt64  `db:"user_id" json:"user_id,omitempty"`
	SessionToken sql.NullString `db:"session_token" json:"session_token,omitempty"`
	ProductID    int64          `db:"product_id" json:"product_id"`
	Quantity     int            `db:"quantity" json:"quantity"`
	AddedAt      time.Time      `db:"added_at" json:"added_at"`
}

// Order represents a customer order. Authenticated checkouts create it in
// StatusPending before payment; guest checkouts materialize it directly in
// StatusPaid from the payment webhook, so guest orders are never observed
// pending.
type Order struct {
	ID             int64          `db:"id" json:"id"`
	UserID         sql.NullInt64  `db:"user_id" json:"user_id,omitempty"`
	SessionToken   sql.NullString `db:"session_token" json:"session_token,omitempty"`
	GuestEmail     sql.NullString `db:"guest_email" json:"guest_email,omitempty"`
	GuestName      sql.NullString `db:"guest_name" json:"guest_name,omitempty"`
	GuestPhone     sql.NullString `db:"guest_phone" json:"guest_phone,omitempty"`
	GuestAddress   sql.NullString `db:"guest_address" json:"guest_address,omitempty"`
	DeliveryMethod string         `db:"delivery_method" json:"delivery_method"`
	ShippingCost   int64          `db:"shipping_cost" json:"shipping_cost"`
	Status         string         `db:"status" json:"status"`
	Total          int64          `db:"total" json:"total"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ContactEmail returns the address order notifications go to. Guest orders
// carry it inline; account orders store none here, the dispatcher resolves
// those from the account profile.
func (o *Order) ContactEmail() string {
	return o.GuestEmail.String
}

// OrderItem is an immutable snapshot of a product at order-creation time.
// Name and unit price are frozen here and never follow later catalog edits.
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	ProductName string `db:"product_name" json:"product_name"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
	Quantity    int    `db:"quantity" json:"quantity"`
	Subtotal    int64  `db:"subtotal" json:"subtotal"`
}

// Payment represents a payment attempt against an order.
type Payment struct {
	ID            int64          `db:"id" json:"id"`
	OrderID       int64          `db:"order_id" json:"order_id"`
	Amount        int64          `db:"amount" json:"amount"`
	Status        string         `db:"status" json:"status"`
	PreferenceID  sql.NullString `db:"preference_id" json:"preference_id,omitempty"`
	PaymentID     sql.NullString `db:"payment_id" json:"payment_id,omitempty"`
	PaymentMethod sql.NullString `db:"payment_method" json:"payment_method,omitempty"`
	PaymentType   sql.NullString `db:"payment_type" json:"payment_type,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// GuestContact holds the contact fields a guest supplies before paying.
type GuestContact struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// GuestCheckout is the ephemeral snapshot produced when a guest prepares a
// payment. No order or payment exists yet; the webhook consumes this to
// materialize the order once the gateway reports approval.
type GuestCheckout struct {
	SessionToken   string       `json:"session_token"`
	Contact        GuestContact `json:"contact"`
	DeliveryMethod string       `json:"delivery_method"`
	ShippingCost   int64        `json:"shipping_cost"`
	TotalProducts  int64        `json:"total_products"`
	Total          int64        `json:"total"`
	FreeShipping   bool         `json:"free_shipping"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Delivery methods
const (
	DeliveryMethodDelivery = "delivery"
	DeliveryMethodPickup   = "pickup"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusPaid       = "paid"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusRejected  = "rejected"
)

// orderTransitions is the explicit transition table for order statuses.
// Delivered and cancelled are terminal.
var orderTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidDeliveryMethod normalizes a delivery method, defaulting to delivery
// for unknown values.
func ValidDeliveryMethod(m string) string {
	if m == DeliveryMethodPickup {
		return DeliveryMethodPickup
	}
	return DeliveryMethodDelivery
}
