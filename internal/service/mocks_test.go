package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"shop-backend/internal/gateway"
	"shop-backend/internal/models"
	"shop-backend/internal/store"
)

// In-memory fakes for the service ports. They replicate the store's
// observable semantics (cancel-then-create checkout, best-effort stock
// decrement, duplicate suppression) without a database.

type fakeCatalog struct {
	mu        sync.Mutex
	products  map[int64]*models.Product
	discounts map[int64]int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		products:  make(map[int64]*models.Product),
		discounts: make(map[int64]int),
	}
}

func (f *fakeCatalog) addProduct(id int64, name string, price int64, stock int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[id] = &models.Product{ID: id, Name: name, Price: price, Stock: stock, Active: true}
}

func (f *fakeCatalog) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok || !p.Active {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeCatalog) ListProducts(ctx context.Context) ([]models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Product, 0, len(f.products))
	for _, p := range f.products {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeCatalog) EffectiveUnitPrice(ctx context.Context, productID int64, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok {
		return 0, models.ErrNotFound
	}
	price := p.Price
	if pct, ok := f.discounts[productID]; ok {
		price = price - price*int64(pct)/100
	}
	return price, nil
}

func (f *fakeCatalog) stock(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].Stock
}

// decrement mirrors the store's conditional update: it fails without
// effect when the quantity exceeds what is left.
func (f *fakeCatalog) decrement(productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[productID]
	if !ok || !p.Active {
		return models.ErrNotFound
	}
	if p.Stock < quantity {
		return &models.InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Available: p.Stock}
	}
	p.Stock -= quantity
	return nil
}

func (f *fakeCatalog) restore(productID int64, quantity int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.products[productID]; ok {
		p.Stock += quantity
	}
}

type fakeCarts struct {
	mu    sync.Mutex
	lines map[string][]models.CartItem
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{lines: make(map[string][]models.CartItem)}
}

func (f *fakeCarts) ListCartLines(ctx context.Context, owner models.Identity) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CartItem(nil), f.lines[owner.String()]...), nil
}

func (f *fakeCarts) UpsertCartLine(ctx context.Context, owner models.Identity, productID int64, quantity int) (*models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner.String()
	for i := range f.lines[key] {
		if f.lines[key][i].ProductID == productID {
			f.lines[key][i].Quantity += quantity
			cp := f.lines[key][i]
			return &cp, nil
		}
	}
	item := models.CartItem{ProductID: productID, Quantity: quantity, AddedAt: time.Now()}
	if owner.IsGuest() {
		item.SessionToken = sql.NullString{String: owner.SessionToken, Valid: true}
	} else {
		item.UserID = sql.NullInt64{Int64: owner.UserID, Valid: true}
	}
	f.lines[key] = append(f.lines[key], item)
	return &item, nil
}

func (f *fakeCarts) SetCartLineQuantity(ctx context.Context, owner models.Identity, productID int64, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner.String()
	for i := range f.lines[key] {
		if f.lines[key][i].ProductID == productID {
			f.lines[key][i].Quantity = quantity
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeCarts) RemoveCartLine(ctx context.Context, owner models.Identity, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := owner.String()
	for i := range f.lines[key] {
		if f.lines[key][i].ProductID == productID {
			f.lines[key] = append(f.lines[key][:i], f.lines[key][i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func (f *fakeCarts) ClearCart(ctx context.Context, owner models.Identity) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.lines[owner.String()]))
	delete(f.lines, owner.String())
	return n, nil
}

func (f *fakeCarts) MigrateCart(ctx context.Context, sessionToken string, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	guestKey := models.GuestIdentity(sessionToken).String()
	userKey := models.AccountIdentity(userID).String()
	for _, guestLine := range f.lines[guestKey] {
		merged := false
		for i := range f.lines[userKey] {
			if f.lines[userKey][i].ProductID == guestLine.ProductID {
				f.lines[userKey][i].Quantity += guestLine.Quantity
				merged = true
				break
			}
		}
		if !merged {
			guestLine.SessionToken = sql.NullString{}
			guestLine.UserID = sql.NullInt64{Int64: userID, Valid: true}
			f.lines[userKey] = append(f.lines[userKey], guestLine)
		}
	}
	delete(f.lines, guestKey)
	return nil
}

type fakeOrders struct {
	mu       sync.Mutex
	nextID   int64
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	payments map[int64]*models.Payment
	catalog  *fakeCatalog
	carts    *fakeCarts
}

func newFakeOrders(catalog *fakeCatalog, carts *fakeCarts) *fakeOrders {
	return &fakeOrders{
		nextID:   1,
		orders:   make(map[int64]*models.Order),
		items:    make(map[int64][]models.OrderItem),
		payments: make(map[int64]*models.Payment),
		catalog:  catalog,
		carts:    carts,
	}
}

func (f *fakeOrders) CreateCheckout(ctx context.Context, order *models.Order, lines []models.OrderItem) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var cancelled int64
	for _, o := range f.orders {
		if o.UserID.Valid && o.UserID.Int64 == order.UserID.Int64 && o.Status == models.OrderStatusPending {
			o.Status = models.OrderStatusCancelled
			cancelled++
		}
	}

	order.ID = f.nextID
	f.nextID++
	order.Status = models.OrderStatusPending
	order.CreatedAt = time.Now()
	f.orders[order.ID] = order

	stored := make([]models.OrderItem, len(lines))
	copy(stored, lines)
	for i := range stored {
		stored[i].OrderID = order.ID
	}
	f.items[order.ID] = stored

	f.payments[order.ID] = &models.Payment{
		ID: order.ID, OrderID: order.ID,
		Amount: order.Total, Status: models.PaymentStatusPending,
	}

	f.carts.mu.Lock()
	delete(f.carts.lines, models.AccountIdentity(order.UserID.Int64).String())
	f.carts.mu.Unlock()
	return cancelled, nil
}

func (f *fakeOrders) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeOrders) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID.Valid && o.UserID.Int64 == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) GetPendingOrder(ctx context.Context, userID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.UserID.Valid && o.UserID.Int64 == userID && o.Status == models.OrderStatusPending {
			cp := *o
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeOrders) GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeOrders) SetPaymentPreference(ctx context.Context, orderID int64, preferenceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[orderID]; ok {
		p.PreferenceID = sql.NullString{String: preferenceID, Valid: true}
	}
	return nil
}

func (f *fakeOrders) MarkOrderPaid(ctx context.Context, orderID int64, details store.PaymentDetails) (*store.ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if o.Status != models.OrderStatusPending {
		cp := *o
		return &store.ConfirmResult{Order: &cp, AlreadyProcessed: true}, nil
	}

	var skipped []int64
	for _, item := range f.items[orderID] {
		if err := f.catalog.decrement(item.ProductID, item.Quantity); err != nil {
			skipped = append(skipped, item.ProductID)
		}
	}

	o.Status = models.OrderStatusPaid
	p := f.payments[orderID]
	p.Status = models.PaymentStatusCompleted
	p.PaymentID = sql.NullString{String: details.GatewayPaymentID, Valid: true}
	p.PaymentMethod = sql.NullString{String: details.PaymentMethod, Valid: true}

	cp := *o
	return &store.ConfirmResult{Order: &cp, Skipped: skipped}, nil
}

func (f *fakeOrders) MarkOrderRejected(ctx context.Context, orderID int64, details store.PaymentDetails) (*store.ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, models.ErrNotFound)
	}
	if o.Status != models.OrderStatusPending {
		cp := *o
		return &store.ConfirmResult{Order: &cp, AlreadyProcessed: true}, nil
	}

	o.Status = models.OrderStatusCancelled
	f.payments[orderID].Status = models.PaymentStatusRejected

	cp := *o
	return &store.ConfirmResult{Order: &cp}, nil
}

func (f *fakeOrders) GetPaidOrderBySession(ctx context.Context, sessionToken string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.SessionToken.Valid && o.SessionToken.String == sessionToken && o.Status == models.OrderStatusPaid {
			cp := *o
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeOrders) CreateGuestPaidOrder(ctx context.Context, snapshot *models.GuestCheckout, lines []models.OrderItem, details store.PaymentDetails) (*store.ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, o := range f.orders {
		if o.SessionToken.Valid && o.SessionToken.String == snapshot.SessionToken && o.Status == models.OrderStatusPaid {
			cp := *o
			return &store.ConfirmResult{Order: &cp, AlreadyProcessed: true}, nil
		}
	}

	order := &models.Order{
		ID:             f.nextID,
		SessionToken:   sql.NullString{String: snapshot.SessionToken, Valid: true},
		GuestEmail:     sql.NullString{String: snapshot.Contact.Email, Valid: true},
		GuestName:      sql.NullString{String: snapshot.Contact.Name, Valid: true},
		DeliveryMethod: snapshot.DeliveryMethod,
		ShippingCost:   snapshot.ShippingCost,
		Status:         models.OrderStatusPaid,
		Total:          snapshot.Total,
		CreatedAt:      time.Now(),
	}
	f.nextID++
	f.orders[order.ID] = order

	var skipped []int64
	var stored []models.OrderItem
	for _, line := range lines {
		if err := f.catalog.decrement(line.ProductID, line.Quantity); err != nil {
			skipped = append(skipped, line.ProductID)
			continue
		}
		line.OrderID = order.ID
		stored = append(stored, line)
	}
	f.items[order.ID] = stored

	f.payments[order.ID] = &models.Payment{
		ID: order.ID, OrderID: order.ID,
		Amount: snapshot.Total, Status: models.PaymentStatusCompleted,
		PaymentID: sql.NullString{String: details.GatewayPaymentID, Valid: true},
	}

	f.carts.mu.Lock()
	delete(f.carts.lines, models.GuestIdentity(snapshot.SessionToken).String())
	f.carts.mu.Unlock()

	cp := *order
	return &store.ConfirmResult{Order: &cp, Skipped: skipped}, nil
}

func (f *fakeOrders) CancelPendingOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[orderID]
	if !ok || !o.UserID.Valid || o.UserID.Int64 != userID || o.Status != models.OrderStatusPending {
		return nil, models.ErrNotFound
	}
	for _, item := range f.items[orderID] {
		f.catalog.restore(item.ProductID, item.Quantity)
	}
	o.Status = models.OrderStatusCancelled
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) AdvanceOrderStatus(ctx context.Context, orderID int64, to string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, ok := f.orders[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !models.CanTransition(o.Status, to) {
		return nil, fmt.Errorf("%s -> %s: %w", o.Status, to, models.ErrIllegalTransition)
	}
	o.Status = to
	cp := *o
	return &cp, nil
}

type fakeSnapshots struct {
	mu        sync.Mutex
	snapshots map[string]*models.GuestCheckout
	locks     map[string]bool
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		snapshots: make(map[string]*models.GuestCheckout),
		locks:     make(map[string]bool),
	}
}

func (f *fakeSnapshots) SaveGuestCheckout(ctx context.Context, snapshot *models.GuestCheckout, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *snapshot
	f.snapshots[snapshot.SessionToken] = &cp
	return nil
}

func (f *fakeSnapshots) GetGuestCheckout(ctx context.Context, sessionToken string) (*models.GuestCheckout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[sessionToken]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSnapshots) DeleteGuestCheckout(ctx context.Context, sessionToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snapshots, sessionToken)
	return nil
}

func (f *fakeSnapshots) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[lockKey] {
		return false, nil
	}
	f.locks[lockKey] = true
	return true, nil
}

func (f *fakeSnapshots) ReleaseLock(ctx context.Context, lockKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, lockKey)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	paid      []*models.OrderPaidEvent
	cancelled []*models.OrderCancelledEvent
	shipped   []*models.OrderShippedEvent
	completed []*models.PaymentCompletedEvent
}

func (f *fakeNotifier) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, event)
	return nil
}

func (f *fakeNotifier) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, event)
	return nil
}

func (f *fakeNotifier) PublishOrderShipped(ctx context.Context, event *models.OrderShippedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipped = append(f.shipped, event)
	return nil
}

func (f *fakeNotifier) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, event)
	return nil
}

type fakeGateway struct {
	mu          sync.Mutex
	payments    map[string]*gateway.PaymentInfo
	preferences []*gateway.PreferenceRequest
	prefErr     error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]*gateway.PaymentInfo)}
}

func (f *fakeGateway) CreatePreference(ctx context.Context, req *gateway.PreferenceRequest) (*gateway.Preference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefErr != nil {
		return nil, f.prefErr
	}
	f.preferences = append(f.preferences, req)
	return &gateway.Preference{
		ID:        fmt.Sprintf("pref-%d", len(f.preferences)),
		InitPoint: "https://pay.example/init",
	}, nil
}

func (f *fakeGateway) GetPayment(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.payments[paymentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return info, nil
}

// testEnv bundles the fakes and the services under test.
type testEnv struct {
	catalog   *fakeCatalog
	carts     *fakeCarts
	orders    *fakeOrders
	snapshots *fakeSnapshots
	notifier  *fakeNotifier
	gateway   *fakeGateway
	checkout  *CheckoutService
	cart      *CartService
	payments  *PaymentService
}

func newTestEnv() *testEnv {
	catalog := newFakeCatalog()
	carts := newFakeCarts()
	orders := newFakeOrders(catalog, carts)
	snapshots := newFakeSnapshots()
	notifier := &fakeNotifier{}
	gw := newFakeGateway()

	pricing := Pricing{
		Currency:              "CLP",
		ShippingFlatFee:       3500,
		FreeShippingThreshold: 50000,
		GuestCheckoutTTL:      24 * time.Hour,
	}
	checkout := NewCheckoutService(catalog, carts, orders, snapshots, notifier, pricing)
	cart := NewCartService(catalog, carts)
	payments := NewPaymentService(gw, orders, carts, catalog, snapshots, checkout, PreferenceSettings{
		Currency:     "CLP",
		SuccessURL:   "https://shop.example/ok",
		FailureURL:   "https://shop.example/fail",
		PendingURL:   "https://shop.example/pending",
		WebhookURL:   "https://shop.example/webhook",
		Installments: 12,
	})

	return &testEnv{
		catalog:   catalog,
		carts:     carts,
		orders:    orders,
		snapshots: snapshots,
		notifier:  notifier,
		gateway:   gw,
		checkout:  checkout,
		cart:      cart,
		payments:  payments,
	}
}
