package api

import (
	"io"
	"net/http"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	resolver   KeyResolver
	carts      *service.CartService
	checkout   *service.CheckoutService
	inventory  *service.InventoryService
	orders     *service.OrderService
	reconciler *service.ReconcilerService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	resolver KeyResolver,
	carts *service.CartService,
	checkout *service.CheckoutService,
	inventory *service.InventoryService,
	orders *service.OrderService,
	reconciler *service.ReconcilerService,
) *Handler {
	return &Handler{
		resolver:   resolver,
		carts:      carts,
		checkout:   checkout,
		inventory:  inventory,
		orders:     orders,
		reconciler: reconciler,
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

	v1 := router.Group("/v1")

	// Webhooks carry their own signature-based authentication.
	v1.POST("/webhooks/stripe", h.stripeWebhook)

	authed := v1.Group("", authMiddleware(h.resolver))
	{
		authed.POST("/carts", h.createCart)
		authed.GET("/carts/:cartId", h.getCart)
		authed.POST("/carts/:cartId/items", h.setCartItems)
		authed.POST("/carts/:cartId/checkout", h.checkoutCart)
	}

	admin := v1.Group("", authMiddleware(h.resolver), adminOnly())
	{
		admin.GET("/inventory", h.listInventory)
		admin.POST("/inventory/:sku/adjust", h.adjustInventory)
		admin.GET("/orders", h.listOrders)
		admin.POST("/orders/test", h.createTestOrder)
		admin.GET("/orders/:orderId", h.getOrder)
		admin.POST("/orders/:orderId/refund", h.refundOrder)
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

type createCartRequest struct {
	CustomerEmail string `json:"customer_email"`
}

func (h *Handler) createCart(c *gin.Context) {
	auth := getAuth(c)

	var req createCartRequest
	_ = c.ShouldBindJSON(&req)

	cart, err := h.carts.CreateCart(c.Request.Context(), auth.Store, req.CustomerEmail)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, cartResponse(cart, nil))
}

func (h *Handler) getCart(c *gin.Context) {
	auth := getAuth(c)

	cart, items, err := h.carts.GetCart(c.Request.Context(), auth.Store, c.Param("cartId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, cartResponse(cart, items))
}

type setItemsRequest struct {
	Items []service.CartItemRequest `json:"items"`
}

func (h *Handler) setCartItems(c *gin.Context) {
	auth := getAuth(c)

	var req setItemsRequest
	_ = c.ShouldBindJSON(&req)

	cart, items, err := h.carts.SetItems(c.Request.Context(), auth.Store, c.Param("cartId"), req.Items)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, cartResponse(cart, items))
}

type checkoutRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

func (h *Handler) checkoutCart(c *gin.Context) {
	auth := getAuth(c)

	var req checkoutRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.checkout.Checkout(c.Request.Context(), auth.Store, c.Param("cartId"), req.SuccessURL, req.CancelURL)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) listInventory(c *gin.Context) {
	auth := getAuth(c)
	ctx := c.Request.Context()

	if sku := c.Query("sku"); sku != "" {
		level, err := h.inventory.Get(ctx, auth.Store.ID, sku)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, inventoryResponse(level))
		return
	}

	levels, err := h.inventory.List(ctx, auth.Store.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]gin.H, 0, len(levels))
	for i := range levels {
		items = append(items, inventoryResponse(&levels[i]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type adjustRequest struct {
	Delta  *int   `json:"delta"`
	Reason string `json:"reason"`
}

func (h *Handler) adjustInventory(c *gin.Context) {
	auth := getAuth(c)

	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Delta == nil {
		respondError(c, apperr.InvalidRequest("delta is required"))
		return
	}

	level, err := h.inventory.Adjust(c.Request.Context(), auth.Store, c.Param("sku"), *req.Delta, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, inventoryResponse(level))
}

func (h *Handler) listOrders(c *gin.Context) {
	auth := getAuth(c)

	orders, itemsByOrder, err := h.orders.ListOrders(c.Request.Context(), auth.Store)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]gin.H, 0, len(orders))
	for i := range orders {
		items = append(items, orderResponse(&orders[i], itemsByOrder[orders[i].ID]))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) getOrder(c *gin.Context) {
	auth := getAuth(c)

	order, items, err := h.orders.GetOrder(c.Request.Context(), auth.Store, c.Param("orderId"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, orderResponse(order, items))
}

type refundRequest struct {
	AmountCents *int64 `json:"amount_cents"`
}

func (h *Handler) refundOrder(c *gin.Context) {
	auth := getAuth(c)

	var req refundRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.orders.Refund(c.Request.Context(), auth.Store, c.Param("orderId"), req.AmountCents)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type testOrderRequest struct {
	CustomerEmail string                    `json:"customer_email"`
	Items         []service.CartItemRequest `json:"items"`
}

func (h *Handler) createTestOrder(c *gin.Context) {
	auth := getAuth(c)

	var req testOrderRequest
	_ = c.ShouldBindJSON(&req)

	order, items, err := h.orders.CreateTestOrder(c.Request.Context(), auth.Store, req.CustomerEmail, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, orderResponse(order, items))
}

func (h *Handler) stripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, apperr.InvalidRequest("failed to read body"))
		return
	}

	if err := h.reconciler.HandleWebhook(c.Request.Context(), body, c.GetHeader("Stripe-Signature")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func cartResponse(cart *models.Cart, items []models.CartItem) gin.H {
	if items == nil {
		items = []models.CartItem{}
	}
	return gin.H{
		"id":             cart.ID,
		"status":         cart.Status,
		"currency":       cart.Currency,
		"customer_email": cart.CustomerEmail,
		"items":          items,
		"expires_at":     cart.ExpiresAt,
	}
}

func inventoryResponse(level *models.InventoryLevel) gin.H {
	return gin.H{
		"sku":       level.SKU,
		"on_hand":   level.OnHand,
		"reserved":  level.Reserved,
		"available": level.Available(),
	}
}

func orderResponse(order *models.Order, items []models.OrderItem) gin.H {
	if items == nil {
		items = []models.OrderItem{}
	}
	return gin.H{
		"id":             order.ID,
		"number":         order.Number,
		"status":         order.Status,
		"customer_email": order.CustomerEmail,
		"ship_to":        order.ShipTo,
		"amounts": gin.H{
			"subtotal_cents": order.SubtotalCents,
			"tax_cents":      order.TaxCents,
			"shipping_cents": order.ShippingCents,
			"total_cents":    order.TotalCents,
			"currency":       order.Currency,
		},
		"stripe": gin.H{
			"checkout_session_id": order.StripeCheckoutSessionID,
			"payment_intent_id":   order.StripePaymentIntentID,
		},
		"items":      items,
		"created_at": order.CreatedAt,
	}
}

func respondError(c *gin.Context, err error) {
	ae := apperr.FromError(err)
	if ae.Code == apperr.CodeInternal {
		util.GetLogger().Error("Internal error", zap.Error(err))
	}

	payload := gin.H{"code": ae.Code, "message": ae.Message}
	if ae.SKU != "" {
		payload["details"] = gin.H{"sku": ae.SKU}
	}
	c.JSON(ae.Status, gin.H{"error": payload})
}

func abortWithError(c *gin.Context, err error) {
	respondError(c, err)
	c.Abort()
}
