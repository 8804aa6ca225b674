package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"shop-backend/internal/gateway"
	"shop-backend/internal/models"
	"shop-backend/internal/service"
	"shop-backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	catalog  service.CatalogStore
	carts    *service.CartService
	checkout *service.CheckoutService
	payments *service.PaymentService
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(catalog service.CatalogStore, carts *service.CartService, checkout *service.CheckoutService, payments *service.PaymentService) *Handler {
	return &Handler{
		catalog:  catalog,
		carts:    carts,
		checkout: checkout,
		payments: payments,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addToCart)
		v1.PUT("/cart/items/:productId", h.updateCartItem)
		v1.DELETE("/cart/items/:productId", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/migrate", h.migrateCart)

		v1.POST("/checkout", h.beginCheckout)
		v1.POST("/checkout/guest", h.prepareGuestCheckout)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/pending", h.getPendingOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/status", h.advanceOrderStatus)

		v1.POST("/payments/preference", h.createPreference)
		v1.POST("/payments/webhook", h.paymentWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// identity resolves the caller: an authenticated user id from the
// X-User-ID header (set by the auth proxy upstream) or a guest session
// token. A guest without a token gets one minted, echoed back in the
// X-Session-Token response header.
func (h *Handler) identity(c *gin.Context) models.Identity {
	if raw := c.GetHeader("X-User-ID"); raw != "" {
		if userID, err := strconv.ParseInt(raw, 10, 64); err == nil && userID > 0 {
			return models.AccountIdentity(userID)
		}
	}
	token := c.GetHeader("X-Session-Token")
	if token == "" {
		token = models.NewGuestToken()
	}
	c.Header("X-Session-Token", token)
	return models.GuestIdentity(token)
}

// userID returns the authenticated user id or replies 401.
func (h *Handler) userID(c *gin.Context) (int64, bool) {
	owner := h.identity(c)
	if owner.IsGuest() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return 0, false
	}
	return owner.UserID, true
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	if stockErr, ok := models.IsInsufficientStock(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Insufficient stock",
			"product_id": stockErr.ProductID,
			"product":    stockErr.ProductName,
			"available":  stockErr.Available,
		})
		return
	}
	switch {
	case errors.Is(err, models.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, models.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Illegal status transition"})
	case errors.Is(err, models.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway unavailable"})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	price, err := h.catalog.EffectiveUnitPrice(c.Request.Context(), id, time.Now())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product, "effective_price": price})
}

type addToCartRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
}

func (h *Handler) addToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	item, err := h.carts.AddToCart(c.Request.Context(), h.identity(c), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) getCart(c *gin.Context) {
	summary, err := h.carts.Summary(c.Request.Context(), h.identity(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req updateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.carts.UpdateQuantity(c.Request.Context(), h.identity(c), productID, req.Quantity); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	if err := h.carts.Remove(c.Request.Context(), h.identity(c), productID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (h *Handler) clearCart(c *gin.Context) {
	removed, err := h.carts.Clear(c.Request.Context(), h.identity(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type migrateCartRequest struct {
	SessionToken string `json:"session_token" binding:"required"`
}

// migrateCart folds a guest cart into the authenticated user's cart.
func (h *Handler) migrateCart(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req migrateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.carts.Migrate(c.Request.Context(), req.SessionToken, userID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "migrated"})
}

type beginCheckoutRequest struct {
	DeliveryMethod string `json:"delivery_method"`
}

func (h *Handler) beginCheckout(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req beginCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	totals, err := h.checkout.BeginCheckout(c.Request.Context(), userID, req.DeliveryMethod)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, totals)
}

type guestCheckoutRequest struct {
	Email          string `json:"email" binding:"required,email"`
	Name           string `json:"name" binding:"required"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	DeliveryMethod string `json:"delivery_method"`
}

func (h *Handler) prepareGuestCheckout(c *gin.Context) {
	owner := h.identity(c)
	if !owner.IsGuest() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Guest checkout requires a guest session"})
		return
	}

	var req guestCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	contact := models.GuestContact{
		Email:   req.Email,
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
	}
	totals, err := h.checkout.PrepareGuestPayment(c.Request.Context(), owner.SessionToken, contact, req.DeliveryMethod)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	orders, err := h.checkout.ListOrders(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getPendingOrder(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	order, items, err := h.checkout.PendingOrder(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

func (h *Handler) getOrder(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, items, err := h.checkout.GetOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "items": items})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.checkout.CancelPendingOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type advanceStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// advanceOrderStatus moves an order along the fulfillment pipeline. Meant
// for back-office tooling behind the auth proxy.
func (h *Handler) advanceOrderStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req advanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	order, err := h.checkout.AdvanceOrderStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

type preferenceRequest struct {
	OrderID    int64  `json:"order_id"`
	PayerEmail string `json:"payer_email"`
	PayerName  string `json:"payer_name"`
}

// createPreference starts a payment. Authenticated callers pass the pending
// order id; guests pay against their prepared checkout snapshot.
func (h *Handler) createPreference(c *gin.Context) {
	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	owner := h.identity(c)
	var (
		result *service.PreferenceResult
		err    error
	)
	if owner.IsGuest() {
		result, err = h.payments.CreatePreferenceForGuest(c.Request.Context(), owner.SessionToken)
	} else {
		if req.OrderID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
			return
		}
		result, err = h.payments.CreatePreferenceForOrder(c.Request.Context(), owner.UserID, req.OrderID, req.PayerEmail, req.PayerName)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// paymentWebhook receives gateway notifications. The body is advisory; the
// payment is re-fetched by id before anything changes. Expected no-ops are
// acknowledged with 200 so the gateway stops retrying, and only failures
// worth a redelivery return 5xx.
func (h *Handler) paymentWebhook(c *gin.Context) {
	var notification gateway.Notification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification body"})
		return
	}

	// The gateway also mirrors the identifiers in query parameters.
	if notification.Topic == "" {
		notification.Topic = c.Query("topic")
	}
	if notification.Type == "" {
		notification.Type = c.Query("type")
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), &notification); err != nil {
		h.logger.Error("Webhook processing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
