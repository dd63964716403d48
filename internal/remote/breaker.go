package remote

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"smartshop/internal/domain"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings configures the circuit breaker around remote writes.
type BreakerSettings struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open before a trial call.
	Cooldown time.Duration
	// Timeout bounds each remote write. Zero means no bound.
	Timeout time.Duration
	// OnStateChange is called with the new state name.
	OnStateChange func(state string)
}

// Breaker guards a Mirror's writes with a circuit breaker so a dead remote
// fails fast. Subscribe passes through.
type Breaker struct {
	inner   Mirror
	cb      *gobreaker.CircuitBreaker[struct{}]
	timeout time.Duration
}

func NewBreaker(inner Mirror, settings BreakerSettings, logger *log.Logger) *Breaker {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	failures := settings.Failures
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "remote-catalog",
		Timeout: settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("remote: breaker name=%s from=%s to=%s", name, from, to)
			if settings.OnStateChange != nil {
				settings.OnStateChange(to.String())
			}
		},
	})
	return &Breaker{inner: inner, cb: cb, timeout: settings.Timeout}
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) Upsert(ctx context.Context, ownerID string, p domain.Product) error {
	return b.run(ctx, func(ctx context.Context) error {
		return b.inner.Upsert(ctx, ownerID, p)
	})
}

func (b *Breaker) UpsertBatch(ctx context.Context, ownerID string, products []domain.Product) error {
	return b.run(ctx, func(ctx context.Context) error {
		return b.inner.UpsertBatch(ctx, ownerID, products)
	})
}

func (b *Breaker) Delete(ctx context.Context, ownerID, productID string) error {
	return b.run(ctx, func(ctx context.Context) error {
		return b.inner.Delete(ctx, ownerID, productID)
	})
}

func (b *Breaker) Subscribe(ctx context.Context, ownerID string) (<-chan Snapshot, error) {
	return b.inner.Subscribe(ctx, ownerID)
}

func (b *Breaker) run(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		if b.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		return struct{}{}, op(ctx)
	})
	return err
}
