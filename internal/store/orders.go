package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-backend/internal/models"

	"github.com/jmoiron/sqlx"
)

// PaymentDetails carries the gateway-side identifiers recorded on a
// confirmed or rejected payment.
type PaymentDetails struct {
	GatewayPaymentID string
	PaymentMethod    string
	PaymentType      string
}

// ConfirmResult reports what a confirmation transaction did. Skipped lists
// product ids whose stock could not be taken; those lines stay on the order
// and remain charged, since the gateway already captured the amount.
type ConfirmResult struct {
	Order            *models.Order
	AlreadyProcessed bool
	Skipped          []int64
}

// CreateCheckout atomically cancels any prior pending orders for the
// account, creates a new pending order with snapshotted lines and a pending
// payment, and clears the account's cart. Stock is not touched here; it is
// decremented when the payment webhook confirms.
func (s *Store) CreateCheckout(ctx context.Context, order *models.Order, lines []models.OrderItem) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cancelled int64
	res, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE user_id = $2 AND status = $3",
		models.OrderStatusCancelled, order.UserID.Int64, models.OrderStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel prior pending orders: %w", err)
	}
	cancelled, _ = res.RowsAffected()

	err = tx.GetContext(ctx, order, `
		INSERT INTO orders (user_id, delivery_method, shipping_cost, status, total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`,
		order.UserID.Int64, order.DeliveryMethod, order.ShippingCost,
		models.OrderStatusPending, order.Total)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	if err := insertOrderItems(ctx, tx, order.ID, lines); err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO payments (order_id, amount, status) VALUES ($1, $2, $3)",
		order.ID, order.Total, models.PaymentStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to create payment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE user_id = $1", order.UserID.Int64)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cart: %w", err)
	}

	return cancelled, tx.Commit()
}

func insertOrderItems(ctx context.Context, tx *sqlx.Tx, orderID int64, lines []models.OrderItem) error {
	for _, line := range lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, line.ProductID, line.ProductName, line.UnitPrice, line.Quantity, line.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all lines of an order.
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// ListOrdersByUser retrieves an account's orders, newest first.
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetPendingOrder retrieves the account's most recent pending order, if any.
func (s *Store) GetPendingOrder(ctx context.Context, userID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT * FROM orders WHERE user_id = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`, userID, models.OrderStatusPending)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetPaymentByOrder retrieves the most recent payment for an order.
func (s *Store) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment for order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// SetPaymentPreference records the gateway preference id on the order's
// payment.
func (s *Store) SetPaymentPreference(ctx context.Context, orderID int64, preferenceID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET preference_id = $1, updated_at = NOW() WHERE order_id = $2",
		preferenceID, orderID)
	return err
}

// MarkOrderPaid confirms an approved payment for an existing pending order.
// The order row is locked for the duration of the transaction so concurrent
// webhook deliveries for the same payment serialize; the pending-status
// check makes the second delivery a no-op. Stock is decremented per line,
// best effort: a line whose product vanished or ran out is skipped, the
// others still commit.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID int64, details PaymentDetails) (*ConfirmResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if order.Status != models.OrderStatusPending {
		return &ConfirmResult{Order: &order, AlreadyProcessed: true}, nil
	}

	var items []models.OrderItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID); err != nil {
		return nil, err
	}

	var skipped []int64
	for _, item := range items {
		if err := decrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			if _, ok := models.IsInsufficientStock(err); ok || errors.Is(err, models.ErrNotFound) {
				skipped = append(skipped, item.ProductID)
				continue
			}
			return nil, err
		}
	}

	err = tx.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *`,
		models.OrderStatusPaid, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, payment_id = $2, payment_method = $3,
		       payment_type = $4, updated_at = NOW()
		WHERE order_id = $5`,
		models.PaymentStatusCompleted, details.GatewayPaymentID,
		details.PaymentMethod, details.PaymentType, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ConfirmResult{Order: &order, Skipped: skipped}, nil
}

// MarkOrderRejected cancels a pending order whose payment the gateway
// rejected. Stock was never decremented for pending orders, so there is
// nothing to restore. A non-pending order makes this a no-op.
func (s *Store) MarkOrderRejected(ctx context.Context, orderID int64, details PaymentDetails) (*ConfirmResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if order.Status != models.OrderStatusPending {
		return &ConfirmResult{Order: &order, AlreadyProcessed: true}, nil
	}

	err = tx.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *`,
		models.OrderStatusCancelled, orderID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payments SET status = $1, payment_id = $2, updated_at = NOW()
		WHERE order_id = $3`,
		models.PaymentStatusRejected, details.GatewayPaymentID, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ConfirmResult{Order: &order}, nil
}

// GetPaidOrderBySession retrieves an already-materialized paid guest order
// for a session token, used for duplicate webhook suppression.
func (s *Store) GetPaidOrderBySession(ctx context.Context, sessionToken string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT * FROM orders WHERE session_token = $1 AND status = $2
		ORDER BY created_at DESC LIMIT 1`, sessionToken, models.OrderStatusPaid)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateGuestPaidOrder materializes a guest order directly in paid status
// from the prepared snapshot and the candidate lines computed from the live
// cart. Per line, stock is taken atomically; lines that cannot be taken are
// skipped and not added to the order. The completed payment is recorded and
// the session's cart lines are deleted, all in one transaction. A partial
// unique index on orders(session_token) for paid orders rejects a
// concurrent duplicate materialization.
func (s *Store) CreateGuestPaidOrder(ctx context.Context, snapshot *models.GuestCheckout, lines []models.OrderItem, details PaymentDetails) (*ConfirmResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existing models.Order
	err = tx.GetContext(ctx, &existing, `
		SELECT * FROM orders WHERE session_token = $1 AND status = $2 LIMIT 1`,
		snapshot.SessionToken, models.OrderStatusPaid)
	if err == nil {
		return &ConfirmResult{Order: &existing, AlreadyProcessed: true}, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		INSERT INTO orders (session_token, guest_email, guest_name, guest_phone,
		                    guest_address, delivery_method, shipping_cost, status, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *`,
		snapshot.SessionToken, snapshot.Contact.Email, snapshot.Contact.Name,
		snapshot.Contact.Phone, snapshot.Contact.Address, snapshot.DeliveryMethod,
		snapshot.ShippingCost, models.OrderStatusPaid, snapshot.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to create guest order: %w", err)
	}

	var skipped []int64
	for _, line := range lines {
		if err := decrementStock(ctx, tx, line.ProductID, line.Quantity); err != nil {
			if _, ok := models.IsInsufficientStock(err); ok || errors.Is(err, models.ErrNotFound) {
				skipped = append(skipped, line.ProductID)
				continue
			}
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, unit_price, quantity, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, line.ProductID, line.ProductName, line.UnitPrice, line.Quantity, line.Subtotal)
		if err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (order_id, amount, status, payment_id, payment_method, payment_type)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, snapshot.Total, models.PaymentStatusCompleted,
		details.GatewayPaymentID, details.PaymentMethod, details.PaymentType)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE session_token = $1", snapshot.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("failed to clear guest cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &ConfirmResult{Order: &order, Skipped: skipped}, nil
}

// CancelPendingOrder cancels an account's own pending order and restores
// stock for each line. Pending orders never decremented stock, so the
// restore is a safety net rather than a true reversal.
func (s *Store) CancelPendingOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		SELECT * FROM orders WHERE id = $1 AND user_id = $2 AND status = $3 FOR UPDATE`,
		orderID, userID, models.OrderStatusPending)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var items []models.OrderItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID); err != nil {
		return nil, err
	}
	for _, item := range items {
		_, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1 WHERE id = $2",
			item.Quantity, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to restore stock: %w", err)
		}
	}

	err = tx.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *`,
		models.OrderStatusCancelled, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

// AdvanceOrderStatus moves an order along the fulfillment state machine,
// checking the transition table under a row lock.
func (s *Store) AdvanceOrderStatus(ctx context.Context, orderID int64, to string) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if !models.CanTransition(order.Status, to) {
		return nil, fmt.Errorf("%s -> %s: %w", order.Status, to, models.ErrIllegalTransition)
	}

	err = tx.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING *`,
		to, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}
