package httpserver

import (
	"log"
	"net/http"
	"strings"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	"smartshop/internal/identity"
	accountsvc "smartshop/internal/service/account"
	catalogsvc "smartshop/internal/service/catalog"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	deps    Deps
	logger  *log.Logger
	closing <-chan struct{}
}

type cartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type loginResponse struct {
	Account   *domain.Account `json:"account"`
	Token     string          `json:"token"`
	TokenType string          `json:"tokenType"`
	ExpiresIn int             `json:"expiresIn"`
}

type listResponse[T any] struct {
	Count   int `json:"count"`
	Results []T `json:"results"`
}

// fail writes err and logs it when it is not part of the service error set.
func (h *handlers) fail(c *gin.Context, err error) {
	if status, _ := statusFor(err); status == http.StatusInternalServerError {
		h.logger.Printf("http: %s %s error=%v", c.Request.Method, c.FullPath(), err)
	}
	writeError(c, err)
}

func (h *handlers) userID(c *gin.Context) (string, bool) {
	id, err := identity.Require(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return id, true
}

func (h *handlers) signup(c *gin.Context) {
	var req accountsvc.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	acct, err := h.deps.Accounts.Signup(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (h *handlers) login(c *gin.Context) {
	var req accountsvc.Credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	acct, token, err := h.deps.Accounts.Login(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Account:   acct,
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: h.deps.Accounts.SessionTTLSeconds(),
	})
}

func (h *handlers) logout(c *gin.Context) {
	if err := h.deps.Accounts.Logout(c.Request.Context(), c.GetString(tokenCtxKey)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listProducts(c *gin.Context) {
	products, err := h.deps.Catalog.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if products == nil {
		products = []domain.Product{}
	}
	c.JSON(http.StatusOK, listResponse[domain.Product]{Count: len(products), Results: products})
}

func (h *handlers) getProduct(c *gin.Context) {
	p, err := h.deps.Catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) productSummary(c *gin.Context) {
	summary, err := h.deps.Catalog.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) createProduct(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var in catalogsvc.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}
	p, err := h.deps.Catalog.Create(c.Request.Context(), userID, in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *handlers) updateProduct(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var in catalogsvc.ProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid json")
		return
	}
	p, err := h.deps.Catalog.Update(c.Request.Context(), userID, c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) deleteProduct(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	if err := h.deps.Catalog.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) getCart(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	h.respondCart(c, http.StatusOK, userID)
}

func (h *handlers) cartTotals(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	totals, err := h.deps.Carts.Totals(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (h *handlers) addCartItem(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ProductID) == "" {
		badRequest(c, "productId and quantity are required")
		return
	}
	ctx := c.Request.Context()
	product, err := h.deps.Catalog.Get(ctx, req.ProductID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.deps.Carts.AddToCart(ctx, userID, *product, req.Quantity); err != nil {
		h.fail(c, err)
		return
	}
	h.respondCart(c, http.StatusCreated, userID)
}

func (h *handlers) setCartItem(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ProductID) == "" {
		badRequest(c, "productId and quantity are required")
		return
	}
	if err := h.deps.Carts.SetQuantity(c.Request.Context(), userID, c.Param("id"), req.Quantity, req.ProductID); err != nil {
		h.fail(c, err)
		return
	}
	h.respondCart(c, http.StatusOK, userID)
}

func (h *handlers) removeCartItem(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	if err := h.deps.Carts.Remove(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) clearCart(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	if err := h.deps.Carts.Clear(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) respondCart(c *gin.Context, status int, userID string) {
	ctx := c.Request.Context()
	lines, err := h.deps.Carts.Lines(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	totals, err := h.deps.Carts.Totals(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if lines == nil {
		lines = []domain.CartLine{}
	}
	c.JSON(status, gin.H{"lines": lines, "totals": totals})
}

func (h *handlers) checkout(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id, err := h.deps.Orders.Checkout(ctx, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	order, err := h.deps.Orders.GetOrder(ctx, userID, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *handlers) listOrders(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	orders := []domain.Order{}
	for o, err := range h.deps.Orders.GetOrders(c.Request.Context(), userID) {
		if err != nil {
			h.fail(c, err)
			return
		}
		orders = append(orders, o)
	}
	c.JSON(http.StatusOK, listResponse[domain.Order]{Count: len(orders), Results: orders})
}

func (h *handlers) getOrder(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	order, err := h.deps.Orders.GetOrder(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *handlers) startSync(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	if err := h.deps.Sync.Start(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.deps.Sync.Status(userID))
}

func (h *handlers) stopSync(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	h.deps.Sync.Stop(userID)
	c.JSON(http.StatusOK, h.deps.Sync.Status(userID))
}

func (h *handlers) syncStatus(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.deps.Sync.Status(userID))
}

func (h *handlers) pushSync(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	n, err := h.deps.Sync.SyncToCloud(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pushed": n, "status": h.deps.Sync.Status(userID)})
}

func (h *handlers) watchProducts(c *gin.Context) {
	sub, err := h.deps.Catalog.Watch(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	stream(c, h.closing, "products", sub)
}

func (h *handlers) watchCart(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	sub, err := h.deps.Carts.Watch(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	stream(c, h.closing, "cart", sub)
}

func (h *handlers) watchOrders(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	sub, err := h.deps.Orders.Watch(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	stream(c, h.closing, "orders", sub)
}

// stream relays every snapshot of sub as a server-sent event until the
// client goes away, the server shuts down or the subscription ends.
func stream[T any](c *gin.Context, closing <-chan struct{}, event string, sub *feed.Subscription[T]) {
	defer sub.Close()
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closing:
			return
		case v, ok := <-sub.Updates():
			if !ok {
				return
			}
			c.SSEvent(event, v)
			c.Writer.Flush()
		}
	}
}
