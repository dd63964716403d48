// Package memory holds process-local implementations of every repository.
// It backs the "memory" storage driver and the service tests.
package memory

import (
	"context"
	"maps"
	"sync"

	"smartshop/internal/domain"
	"smartshop/internal/repository/session"
)

type txKey struct{ store *Store }

// Store keeps all tables behind one mutex. A transaction holds the mutex for
// its whole duration and restores the tables it started from when it fails.
type Store struct {
	mu sync.Mutex

	products   map[string]domain.Product
	tombstones map[string]struct{}
	lines      map[string]domain.CartLine
	orders     map[string]domain.Order
	accounts   map[string]domain.Account
	sessions   map[string]session.Session
	nextID     int
}

func NewStore() *Store {
	return &Store{
		products:   make(map[string]domain.Product),
		tombstones: make(map[string]struct{}),
		lines:      make(map[string]domain.CartLine),
		orders:     make(map[string]domain.Order),
		accounts:   make(map[string]domain.Account),
		sessions:   make(map[string]session.Session),
	}
}

type tables struct {
	products   map[string]domain.Product
	tombstones map[string]struct{}
	lines      map[string]domain.CartLine
	orders     map[string]domain.Order
}

func (s *Store) snapshot() tables {
	return tables{
		products:   maps.Clone(s.products),
		tombstones: maps.Clone(s.tombstones),
		lines:      maps.Clone(s.lines),
		orders:     maps.Clone(s.orders),
	}
}

func (s *Store) restore(t tables) {
	s.products = t.products
	s.tombstones = t.tombstones
	s.lines = t.lines
	s.orders = t.orders
}

// InTx runs fn with the store locked. Nested calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{store: s}, true)); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{store: s}).(bool)
	return v
}

// locked runs fn under the store mutex unless ctx already holds it.
func (s *Store) locked(ctx context.Context, fn func()) {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn()
}
