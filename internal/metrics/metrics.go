package metrics

import (
	"errors"
	"strconv"
	"time"

	"smartshop/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	CartMutations *prometheus.CounterVec
	OrdersPlaced  prometheus.Counter
	OrderFailures *prometheus.CounterVec
	SyncInserted  prometheus.Counter
	SyncErrors    *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CartMutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartshop_cart_mutations_total",
			Help: "Cart operations by kind and outcome",
		}, []string{"op", "result"}),
		OrdersPlaced: f.NewCounter(prometheus.CounterOpts{
			Name: "smartshop_orders_placed_total",
			Help: "Orders committed",
		}),
		OrderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartshop_order_failures_total",
			Help: "Order placements that failed, by reason",
		}, []string{"reason"}),
		SyncInserted: f.NewCounter(prometheus.CounterOpts{
			Name: "smartshop_sync_inserted_total",
			Help: "Products inserted locally from the remote catalog",
		}),
		SyncErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartshop_sync_errors_total",
			Help: "Remote catalog failures by operation",
		}, []string{"op"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartshop_remote_breaker_state",
			Help: "1 for the current state of the remote catalog circuit breaker",
		}, []string{"state"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smartshop_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDurations: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smartshop_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// ObserveCart records the outcome of a cart operation.
func (m *Metrics) ObserveCart(op string, err error) {
	if m == nil {
		return
	}
	m.CartMutations.WithLabelValues(op, Reason(err)).Inc()
}

// ObserveOrder records a placement attempt.
func (m *Metrics) ObserveOrder(err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.OrdersPlaced.Inc()
		return
	}
	m.OrderFailures.WithLabelValues(Reason(err)).Inc()
}

// AddSyncInserted counts products merged in from the remote catalog.
func (m *Metrics) AddSyncInserted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SyncInserted.Add(float64(n))
}

// IncSyncError counts a failed remote operation.
func (m *Metrics) IncSyncError(op string) {
	if m == nil {
		return
	}
	m.SyncErrors.WithLabelValues(op).Inc()
}

// SetBreakerState marks state as the current breaker state.
func (m *Metrics) SetBreakerState(state string) {
	if m == nil {
		return
	}
	for _, s := range []string{"closed", "half-open", "open"} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.BreakerState.WithLabelValues(s).Set(v)
	}
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDurations.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Reason maps an error onto a short label value.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, domain.ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, domain.ErrSync):
		return "sync"
	default:
		return "storage"
	}
}
