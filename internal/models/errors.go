package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart is returned when a checkout is attempted on a cart with
	// no lines.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrNotFound is returned when an order, product, payment or guest
	// checkout snapshot does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed marks an idempotent no-op: the state transition
	// the caller asked for has already happened. Callers treat it as
	// success.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrGatewayUnavailable is returned when the payment gateway cannot be
	// reached or answers with a transient failure. Retryable by the caller.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrIllegalTransition is returned when an order status change is not
	// allowed by the transition table.
	ErrIllegalTransition = errors.New("illegal order status transition")
)

// InsufficientStockError reports the first cart line whose quantity exceeds
// the available stock.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (product %d): %d available",
		e.ProductName, e.ProductID, e.Available)
}

// IsInsufficientStock extracts an InsufficientStockError from an error chain.
func IsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var ise *InsufficientStockError
	if errors.As(err, &ise) {
		return ise, true
	}
	return nil, false
}
