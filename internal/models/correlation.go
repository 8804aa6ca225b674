package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GuestTokenPrefix namespaces guest session tokens so that a token can never
// parse as a numeric order id. The payment gateway echoes the correlation
// value back verbatim, and the webhook must route it to exactly one of the
// two checkout flows.
const GuestTokenPrefix = "gs_"

// CorrelationID is the tagged value threaded through the payment gateway
// round-trip. Exactly one of the two fields is set: OrderID for
// authenticated checkouts, GuestToken for guest checkouts.
type CorrelationID struct {
	OrderID    int64
	GuestToken string
}

// IsGuest reports whether the correlation id addresses a guest checkout.
func (c CorrelationID) IsGuest() bool {
	return c.GuestToken != ""
}

// String renders the value sent to the gateway as external reference.
func (c CorrelationID) String() string {
	if c.IsGuest() {
		return c.GuestToken
	}
	return strconv.FormatInt(c.OrderID, 10)
}

// OrderCorrelation builds a correlation id for an existing order.
func OrderCorrelation(orderID int64) CorrelationID {
	return CorrelationID{OrderID: orderID}
}

// GuestCorrelation builds a correlation id for a guest session token.
func GuestCorrelation(token string) CorrelationID {
	return CorrelationID{GuestToken: token}
}

// NewGuestToken generates a fresh guest session token. The non-numeric
// prefix keeps the token space disjoint from order ids.
func NewGuestToken() string {
	return GuestTokenPrefix + uuid.New().String()
}

// ParseCorrelationID decides at parse time which flow an external reference
// belongs to: a numeric value is an order id, anything else is a guest
// session token. Tokens minted by NewGuestToken can never be numeric, so the
// two spaces do not collide for references this system issued.
func ParseCorrelationID(ref string) (CorrelationID, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return CorrelationID{}, fmt.Errorf("empty external reference")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if id <= 0 {
			return CorrelationID{}, fmt.Errorf("invalid order id in external reference: %d", id)
		}
		return CorrelationID{OrderID: id}, nil
	}
	return CorrelationID{GuestToken: ref}, nil
}
