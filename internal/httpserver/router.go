package httpserver

import (
	"context"
	"errors"
	"io"
	"iter"
	"log"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/feed"
	"smartshop/internal/metrics"
	accountsvc "smartshop/internal/service/account"
	cartsvc "smartshop/internal/service/cart"
	catalogsvc "smartshop/internal/service/catalog"
	"smartshop/internal/service/catalogsync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type AccountService interface {
	Signup(ctx context.Context, in accountsvc.Credentials) (*domain.Account, error)
	Login(ctx context.Context, in accountsvc.Credentials) (*domain.Account, string, error)
	Logout(ctx context.Context, token string) error
	LookupByToken(ctx context.Context, token string) (*domain.Account, error)
	SessionTTLSeconds() int
}

type CatalogService interface {
	List(ctx context.Context) ([]domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)
	Count(ctx context.Context) (int, error)
	Summary(ctx context.Context) (domain.CatalogSummary, error)
	Create(ctx context.Context, userID string, in catalogsvc.ProductInput) (*domain.Product, error)
	Update(ctx context.Context, userID, id string, in catalogsvc.ProductInput) (*domain.Product, error)
	Delete(ctx context.Context, userID, id string) error
	Watch(ctx context.Context) (*feed.Subscription[[]domain.Product], error)
}

type CartService interface {
	AddToCart(ctx context.Context, userID string, product domain.Product, qty int) error
	SetQuantity(ctx context.Context, userID, itemID string, newQty int, productID string) error
	Remove(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
	Totals(ctx context.Context, userID string) (domain.CartTotals, error)
	Lines(ctx context.Context, userID string) ([]domain.CartLine, error)
	Watch(ctx context.Context, userID string) (*feed.Subscription[cartsvc.View], error)
}

type OrderService interface {
	Checkout(ctx context.Context, userID string) (string, error)
	GetOrders(ctx context.Context, userID string) iter.Seq2[domain.Order, error]
	GetOrder(ctx context.Context, userID, id string) (*domain.Order, error)
	OrderCount(ctx context.Context, userID string) (int, error)
	Watch(ctx context.Context, userID string) (*feed.Subscription[[]domain.Order], error)
}

type SyncService interface {
	Start(ctx context.Context, userID string) error
	Stop(userID string)
	Status(userID string) catalogsync.Status
	SyncToCloud(ctx context.Context, userID string) (int, error)
}

// Deps are the services behind the routes. Sync, Metrics and Gatherer are
// optional; without Sync the /sync routes are not mounted.
type Deps struct {
	Accounts    AccountService
	Catalog     CatalogService
	Carts       CartService
	Orders      OrderService
	Sync        SyncService
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
}

// buildRouter wires routes for the API. Watch streams end when closing is
// closed.
func buildRouter(logger *log.Logger, db Pinger, deps Deps, closing <-chan struct{}) (*gin.Engine, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if deps.Accounts == nil || deps.Catalog == nil || deps.Carts == nil || deps.Orders == nil {
		return nil, errors.New("httpserver: accounts, catalog, carts and orders services are required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery())
	router.Use(metricsMiddleware(deps.Metrics))
	router.Use(cors.New(corsConfig(deps.CORSOrigins)))

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db))
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	h := &handlers{deps: deps, logger: logger, closing: closing}

	auth := router.Group("/auth")
	auth.POST("/signup", h.signup)
	auth.POST("/login", h.login)
	auth.POST("/logout", authMiddleware(deps.Accounts), h.logout)

	products := router.Group("/products")
	products.GET("", h.listProducts)
	products.GET("/watch", h.watchProducts)
	products.GET("/summary", h.productSummary)
	products.GET("/:id", h.getProduct)
	products.POST("", authMiddleware(deps.Accounts), h.createProduct)
	products.PUT("/:id", authMiddleware(deps.Accounts), h.updateProduct)
	products.DELETE("/:id", authMiddleware(deps.Accounts), h.deleteProduct)

	cart := router.Group("/cart", authMiddleware(deps.Accounts))
	cart.GET("", h.getCart)
	cart.GET("/totals", h.cartTotals)
	cart.GET("/watch", h.watchCart)
	cart.POST("/items", h.addCartItem)
	cart.PUT("/items/:id", h.setCartItem)
	cart.DELETE("/items/:id", h.removeCartItem)
	cart.DELETE("", h.clearCart)

	orders := router.Group("/orders", authMiddleware(deps.Accounts))
	orders.POST("", h.checkout)
	orders.GET("", h.listOrders)
	orders.GET("/watch", h.watchOrders)
	orders.GET("/:id", h.getOrder)

	if deps.Sync != nil {
		syncRoutes := router.Group("/sync", authMiddleware(deps.Accounts))
		syncRoutes.POST("/listen", h.startSync)
		syncRoutes.DELETE("/listen", h.stopSync)
		syncRoutes.GET("/status", h.syncStatus)
		syncRoutes.POST("/push", h.pushSync)
	}

	return router, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
