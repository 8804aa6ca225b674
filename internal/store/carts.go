package store

import (
	"context"
	"fmt"

	"shop-backend/internal/models"
)

// cartFilter returns the WHERE clause and argument selecting one identity's
// cart lines.
func cartFilter(owner models.Identity) (string, interface{}) {
	if owner.IsGuest() {
		return "session_token = $1", owner.SessionToken
	}
	return "user_id = $1", owner.UserID
}

// ListCartLines returns all cart lines for an identity.
func (s *Store) ListCartLines(ctx context.Context, owner models.Identity) ([]models.CartItem, error) {
	where, arg := cartFilter(owner)
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE "+where+" ORDER BY added_at", arg)
	return items, err
}

// UpsertCartLine adds quantity units of a product to the identity's cart,
// merging into the existing line when one exists. The (owner, product)
// uniqueness is enforced by partial unique indexes on cart_items.
func (s *Store) UpsertCartLine(ctx context.Context, owner models.Identity, productID int64, quantity int) (*models.CartItem, error) {
	var item models.CartItem
	var err error
	if owner.IsGuest() {
		err = s.db.GetContext(ctx, &item, `
			INSERT INTO cart_items (session_token, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_token, product_id) WHERE session_token IS NOT NULL
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
			RETURNING *`, owner.SessionToken, productID, quantity)
	} else {
		err = s.db.GetContext(ctx, &item, `
			INSERT INTO cart_items (user_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, product_id) WHERE user_id IS NOT NULL
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
			RETURNING *`, owner.UserID, productID, quantity)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert cart line: %w", err)
	}
	return &item, nil
}

// SetCartLineQuantity replaces the quantity of an existing line.
func (s *Store) SetCartLineQuantity(ctx context.Context, owner models.Identity, productID int64, quantity int) error {
	where, arg := cartFilter(owner)
	res, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $2 WHERE "+where+" AND product_id = $3",
		arg, quantity, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RemoveCartLine deletes one line from the cart.
func (s *Store) RemoveCartLine(ctx context.Context, owner models.Identity, productID int64) error {
	where, arg := cartFilter(owner)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE "+where+" AND product_id = $2", arg, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearCart removes every line owned by the identity and returns how many
// lines were removed.
func (s *Store) ClearCart(ctx context.Context, owner models.Identity) (int64, error) {
	where, arg := cartFilter(owner)
	res, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE "+where, arg)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MigrateCart moves a guest session's cart lines to an authenticated
// account, merging quantities where the account already has the product.
func (s *Store) MigrateCart(ctx context.Context, sessionToken string, userID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var guestLines []models.CartItem
	if err := tx.SelectContext(ctx, &guestLines,
		"SELECT * FROM cart_items WHERE session_token = $1", sessionToken); err != nil {
		return err
	}

	for _, line := range guestLines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (user_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, product_id) WHERE user_id IS NOT NULL
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
			userID, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("failed to migrate cart line: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE session_token = $1", sessionToken); err != nil {
		return err
	}

	return tx.Commit()
}
