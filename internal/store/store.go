package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shop-backend/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetProduct retrieves an active product by ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1 AND active", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves all active products.
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products WHERE active ORDER BY name")
	return products, err
}

// EffectiveUnitPrice resolves the unit price of a product at the given
// instant, applying the first matching active offer if any.
func (s *Store) EffectiveUnitPrice(ctx context.Context, productID int64, at time.Time) (int64, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return s.effectivePrice(ctx, product, at)
}

// effectivePrice applies the first active offer for the product, if any.
// The offers table does not strictly enforce one offer per product; the
// first match by newest-first ordering wins.
func (s *Store) effectivePrice(ctx context.Context, product *models.Product, at time.Time) (int64, error) {
	var offer models.Offer
	err := s.db.GetContext(ctx, &offer, `
		SELECT * FROM offers
		WHERE product_id = $1 AND active AND starts_at <= $2
		  AND (ends_at IS NULL OR ends_at >= $2)
		ORDER BY created_at DESC
		LIMIT 1`, product.ID, at)
	if err == sql.ErrNoRows {
		return product.Price, nil
	}
	if err != nil {
		return 0, err
	}
	return offer.DiscountedPrice(product.Price), nil
}

// AvailableStock returns the current stock of a product.
func (s *Store) AvailableStock(ctx context.Context, productID int64) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock, "SELECT stock FROM products WHERE id = $1", productID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
	}
	return stock, err
}

// DecrementStock atomically takes quantity units of stock, failing without
// effect when fewer units are available. Never drives stock negative.
func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	return decrementStock(ctx, s.db, productID, quantity)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func decrementStock(ctx context.Context, db execer, productID int64, quantity int) error {
	res, err := db.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var p models.Product
		err := db.GetContext(ctx, &p, "SELECT * FROM products WHERE id = $1", productID)
		if err == sql.ErrNoRows {
			return fmt.Errorf("product %d: %w", productID, models.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return &models.InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Available:   p.Stock,
		}
	}
	return nil
}

// RestoreStock returns quantity units of stock to a product.
func (s *Store) RestoreStock(ctx context.Context, productID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET stock = stock + $1 WHERE id = $2",
		quantity, productID)
	return err
}
