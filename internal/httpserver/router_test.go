package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	"smartshop/internal/metrics"
	"smartshop/internal/remote"
	"smartshop/internal/repository/memory"
	accountsvc "smartshop/internal/service/account"
	cartsvc "smartshop/internal/service/cart"
	catalogsvc "smartshop/internal/service/catalog"
	"smartshop/internal/service/catalogsync"
	ordersvc "smartshop/internal/service/order"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router *gin.Engine
	mirror *remote.Memory
	sync   *catalogsync.Reconciler
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	broker := feed.NewBroker()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mirror := remote.NewMemory()
	reconciler := catalogsync.New(store.Products(), mirror, broker, m, nil)
	t.Cleanup(reconciler.Close)

	router, err := buildRouter(logDiscard(), nil, Deps{
		Accounts: accountsvc.New(store.Accounts(), store.Sessions(), time.Hour),
		Catalog:  catalogsvc.New(store, store.Products(), broker, broker, reconciler, nil),
		Carts: cartsvc.New(cartsvc.Deps{
			Tx: store, Carts: store.Carts(), Products: store.Products(),
			Publisher: broker, Broker: broker, Metrics: m,
		}),
		Orders: ordersvc.New(ordersvc.Deps{
			Tx: store, Carts: store.Carts(), Products: store.Products(), Orders: store.Orders(),
			Publisher: broker, Broker: broker, Metrics: m,
		}),
		Sync:     reconciler,
		Metrics:  m,
		Gatherer: reg,
	}, nil)
	require.NoError(t, err)
	return testAPI{router: router, mirror: mirror, sync: reconciler}
}

func logDiscard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func (a testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a testAPI) login(t *testing.T, email string) string {
	t.Helper()
	creds := map[string]string{"email": email, "password": "Abcdefg1"}
	rec := a.do(t, http.MethodPost, "/auth/signup", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPost, "/auth/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, 3600, resp.ExpiresIn)
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRouter_CartToOrderFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "shopper@example.com")

	rec := api.do(t, http.MethodPost, "/products", token, map[string]any{"name": "Mug", "quantity": 5, "price": "10.00"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	product := decode[domain.Product](t, rec)

	rec = api.do(t, http.MethodPost, "/cart/items", token, cartItemRequest{ProductID: product.ID, Quantity: 6})
	require.Equal(t, http.StatusConflict, rec.Code)
	stockErr := decode[errorResponse](t, rec)
	assert.Equal(t, "insufficient_stock", stockErr.Error)
	require.NotNil(t, stockErr.Available)
	assert.Equal(t, 5, *stockErr.Available)

	rec = api.do(t, http.MethodPost, "/cart/items", token, cartItemRequest{ProductID: product.ID, Quantity: 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodGet, "/cart/totals", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decode[domain.CartTotals](t, rec)
	assert.Equal(t, 1, totals.ItemCount)
	assert.Equal(t, 2, totals.Quantity)
	assert.True(t, totals.Amount.Equal(decimal.NewFromInt(20)), totals.Amount.String())

	rec = api.do(t, http.MethodPost, "/orders", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[domain.Order](t, rec)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(20)))

	rec = api.do(t, http.MethodGet, "/products/"+product.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[domain.Product](t, rec).Quantity)

	rec = api.do(t, http.MethodGet, "/orders", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[listResponse[domain.Order]](t, rec)
	require.Equal(t, 1, orders.Count)
	assert.Equal(t, order.ID, orders.Results[0].ID)

	rec = api.do(t, http.MethodGet, "/orders/"+order.ID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, "/orders", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodGet, "/cart", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(mustField(t, rec, "lines")))
}

func TestRouter_OrdersAreScopedToTheCaller(t *testing.T) {
	api := newTestAPI(t)
	alice := api.login(t, "alice@example.com")
	bob := api.login(t, "bob@example.com")

	rec := api.do(t, http.MethodPost, "/products", alice, map[string]any{"name": "Tee", "quantity": 1, "price": "5"})
	require.Equal(t, http.StatusCreated, rec.Code)
	product := decode[domain.Product](t, rec)

	rec = api.do(t, http.MethodPost, "/cart/items", alice, cartItemRequest{ProductID: product.ID, Quantity: 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = api.do(t, http.MethodPost, "/orders", alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[domain.Order](t, rec)

	rec = api.do(t, http.MethodGet, "/orders/"+order.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_AuthRequired(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/cart", "/orders", "/sync/status"} {
		rec := api.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := api.do(t, http.MethodGet, "/cart", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "x@example.com", "password": "Abcdefg1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_LogoutRevokesToken(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "user@example.com")

	rec := api.do(t, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodGet, "/cart", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_SyncPushAndStatus(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "owner@example.com")

	rec := api.do(t, http.MethodPost, "/products", token, map[string]any{"name": "Mug", "quantity": 5, "price": "10.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPost, "/sync/push", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `1`, string(mustField(t, rec, "pushed")))

	api.mirror.Fail(errors.New("remote down"))
	rec = api.do(t, http.MethodPost, "/sync/push", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = api.do(t, http.MethodGet, "/sync/status", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, catalogsync.StateError, decode[catalogsync.Status](t, rec).State)

	rec = api.do(t, http.MethodPost, "/products", token, map[string]any{"name": "Tee", "quantity": 1, "price": "5"})
	assert.Equal(t, http.StatusCreated, rec.Code, "local write must survive a remote failure")
}

func TestRouter_InvalidInput(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "user@example.com")

	rec := api.do(t, http.MethodPost, "/products", token, map[string]any{"name": "", "quantity": 1, "price": "5"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/cart/items", token, map[string]any{"quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/cart/items", token, cartItemRequest{ProductID: "missing", Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/auth/signup", "", map[string]string{"email": "user@example.com", "password": "Abcdefg1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `smartshop_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestReadyHandler_DBUnreachable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/readyz", readyHandler(failingPinger{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
}

func TestWatchProducts_StreamsSnapshot(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "user@example.com")
	rec := api.do(t, http.MethodPost, "/products", token, map[string]any{"name": "Mug", "quantity": 5, "price": "10.00"})
	require.Equal(t, http.StatusCreated, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/products/watch", nil).WithContext(ctx)
	stream := httptest.NewRecorder()
	api.router.ServeHTTP(stream, req)

	body := stream.Body.String()
	assert.Contains(t, body, "event:products")
	assert.Contains(t, body, `"name":"Mug"`)
	// gin's SSE render appends a charset to the media type.
	assert.True(t, strings.HasPrefix(stream.Header().Get("Content-Type"), "text/event-stream"), stream.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", stream.Header().Get("Cache-Control"))
}

func TestProductSummary(t *testing.T) {
	api := newTestAPI(t)
	token := api.login(t, "user@example.com")
	for _, body := range []map[string]any{
		{"name": "Mug", "quantity": 5, "price": "10.00"},
		{"name": "Tee", "quantity": 2, "price": "0.25"},
	} {
		rec := api.do(t, http.MethodPost, "/products", token, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	rec := api.do(t, http.MethodPost, "/products", token, map[string]any{"name": "Pen", "quantity": 1, "price": "0.001"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/products/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[domain.CatalogSummary](t, rec)
	assert.Equal(t, 2, summary.Count)
	assert.True(t, summary.StockValue.Equal(decimal.RequireFromString("50.50")), summary.StockValue.String())
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{&domain.InsufficientStockError{ProductID: "p1"}, http.StatusConflict},
		{fmt.Errorf("wrap: %w", domain.ErrItemNotFound), http.StatusNotFound},
		{&domain.SyncError{Op: "push", Err: errors.New("x")}, http.StatusBadGateway},
		{&domain.StorageError{Op: "list", Err: errors.New("x")}, http.StatusInternalServerError},
		{accountsvc.ErrInvalidCredentials, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		assert.Equal(t, tc.want, got, tc.err.Error())
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}

func mustField(t *testing.T, rec *httptest.ResponseRecorder, key string) json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	v, ok := m[key]
	require.True(t, ok, "missing field %s in %s", key, rec.Body.String())
	return v
}
