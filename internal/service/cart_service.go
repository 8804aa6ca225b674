package service

import (
	"context"
	"fmt"
	"time"

	"shop-backend/internal/models"
	"shop-backend/internal/util"

	"go.uber.org/zap"
)

// CartService manages cart lines for both account holders and guest
// sessions. Quantities are validated against current stock at mutation
// time; the authoritative check still happens at checkout.
type CartService struct {
	catalog CatalogStore
	carts   CartStore
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(catalog CatalogStore, carts CartStore) *CartService {
	return &CartService{
		catalog: catalog,
		carts:   carts,
		logger:  util.GetLogger(),
	}
}

// CartLine is a cart row enriched with catalog data and effective pricing.
type CartLine struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// CartSummary aggregates a cart for display.
type CartSummary struct {
	Lines      []CartLine `json:"lines"`
	LinesCount int        `json:"lines_count"`
	TotalItems int        `json:"total_items"`
	TotalPrice int64      `json:"total_price"`
}

// AddToCart merges quantity into an existing line or creates one. The
// merged quantity must fit in current stock, so repeated adds cannot
// climb past what the shelf holds.
func (cs *CartService) AddToCart(ctx context.Context, owner models.Identity, productID int64, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddToCart")
	defer span.End()

	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	product, err := cs.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	existing := 0
	lines, err := cs.carts.ListCartLines(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if line.ProductID == productID {
			existing = line.Quantity
			break
		}
	}

	if existing+quantity > product.Stock {
		return nil, &models.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Stock,
		}
	}

	item, err := cs.carts.UpsertCartLine(ctx, owner, productID, quantity)
	if err != nil {
		return nil, err
	}

	cs.logger.Info("Cart line added",
		zap.String("owner", owner.String()),
		zap.Int64("product_id", productID),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

// UpdateQuantity replaces a line's quantity outright. Zero or negative
// removes the line.
func (cs *CartService) UpdateQuantity(ctx context.Context, owner models.Identity, productID int64, quantity int) error {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	if quantity <= 0 {
		return cs.carts.RemoveCartLine(ctx, owner, productID)
	}

	product, err := cs.catalog.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if quantity > product.Stock {
		return &models.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Stock,
		}
	}

	return cs.carts.SetCartLineQuantity(ctx, owner, productID, quantity)
}

// Remove deletes a single line from the cart.
func (cs *CartService) Remove(ctx context.Context, owner models.Identity, productID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Remove")
	defer span.End()
	return cs.carts.RemoveCartLine(ctx, owner, productID)
}

// Clear empties the cart and returns how many lines were dropped.
func (cs *CartService) Clear(ctx context.Context, owner models.Identity) (int64, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()
	return cs.carts.ClearCart(ctx, owner)
}

// Summary prices the cart with current effective prices. Lines whose
// product has gone missing or inactive are shown with zero price rather
// than failing the whole view.
func (cs *CartService) Summary(ctx context.Context, owner models.Identity) (*CartSummary, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Summary")
	defer span.End()

	lines, err := cs.carts.ListCartLines(ctx, owner)
	if err != nil {
		return nil, err
	}

	summary := &CartSummary{Lines: make([]CartLine, 0, len(lines))}
	now := time.Now()
	for _, line := range lines {
		entry := CartLine{ProductID: line.ProductID, Quantity: line.Quantity}
		product, err := cs.catalog.GetProduct(ctx, line.ProductID)
		if err == nil {
			entry.ProductName = product.Name
			if price, perr := cs.catalog.EffectiveUnitPrice(ctx, line.ProductID, now); perr == nil {
				entry.UnitPrice = price
				entry.Subtotal = price * int64(line.Quantity)
			}
		} else {
			cs.logger.Warn("Cart references unavailable product",
				zap.Int64("product_id", line.ProductID), zap.Error(err))
		}
		summary.Lines = append(summary.Lines, entry)
		summary.TotalItems += line.Quantity
		summary.TotalPrice += entry.Subtotal
	}
	summary.LinesCount = len(summary.Lines)
	return summary, nil
}

// Migrate folds a guest session's cart into a user's cart after login,
// merging quantities where both hold the same product.
func (cs *CartService) Migrate(ctx context.Context, sessionToken string, userID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Migrate")
	defer span.End()

	if err := cs.carts.MigrateCart(ctx, sessionToken, userID); err != nil {
		return err
	}
	cs.logger.Info("Guest cart migrated",
		zap.String("session_token", sessionToken),
		zap.Int64("user_id", userID))
	return nil
}
