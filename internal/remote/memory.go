package remote

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"smartshop/internal/domain"
)

// Memory is a process-local Mirror. It serves the memory storage driver and
// tests; Fail makes every later call return the given error.
type Memory struct {
	mu      sync.Mutex
	owners  map[string]map[string]domain.Product
	subs    map[string]map[chan struct{}]struct{}
	failErr error
	writes  int
}

func NewMemory() *Memory {
	return &Memory{
		owners: make(map[string]map[string]domain.Product),
		subs:   make(map[string]map[chan struct{}]struct{}),
	}
}

// Fail makes writes and new subscriptions return err until Fail(nil).
// Active subscriptions receive err as a Snapshot.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
	m.notifyAll()
}

// Writes reports how many write calls reached the mirror.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Products returns the owner's products sorted by id.
func (m *Memory) Products(ownerID string) []domain.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.productsLocked(ownerID)
}

func (m *Memory) Upsert(ctx context.Context, ownerID string, p domain.Product) error {
	return m.UpsertBatch(ctx, ownerID, []domain.Product{p})
}

func (m *Memory) UpsertBatch(_ context.Context, ownerID string, products []domain.Product) error {
	m.mu.Lock()
	m.writes++
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	set, ok := m.owners[ownerID]
	if !ok {
		set = make(map[string]domain.Product)
		m.owners[ownerID] = set
	}
	for _, p := range products {
		set[p.ID] = p
	}
	m.mu.Unlock()
	m.notify(ownerID)
	return nil
}

func (m *Memory) Delete(_ context.Context, ownerID, productID string) error {
	m.mu.Lock()
	m.writes++
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	delete(m.owners[ownerID], productID)
	m.mu.Unlock()
	m.notify(ownerID)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, ownerID string) (<-chan Snapshot, error) {
	m.mu.Lock()
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return nil, err
	}
	signal := make(chan struct{}, 1)
	set, ok := m.subs[ownerID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		m.subs[ownerID] = set
	}
	set[signal] = struct{}{}
	first := m.productsLocked(ownerID)
	m.mu.Unlock()

	out := make(chan Snapshot, 1)
	out <- Snapshot{Products: first}
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.subs[ownerID], signal)
			m.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-signal:
			}
			m.mu.Lock()
			snap := Snapshot{Products: m.productsLocked(ownerID), Err: m.failErr}
			if snap.Err != nil {
				snap.Products = nil
			}
			m.mu.Unlock()
			if !send(ctx, out, snap) {
				return
			}
		}
	}()
	return out, nil
}

// Put writes products for an owner as if another device had pushed them.
func (m *Memory) Put(ownerID string, products ...domain.Product) {
	m.mu.Lock()
	set, ok := m.owners[ownerID]
	if !ok {
		set = make(map[string]domain.Product)
		m.owners[ownerID] = set
	}
	for _, p := range products {
		set[p.ID] = p
	}
	m.mu.Unlock()
	m.notify(ownerID)
}

func (m *Memory) productsLocked(ownerID string) []domain.Product {
	out := make([]domain.Product, 0, len(m.owners[ownerID]))
	for _, p := range m.owners[ownerID] {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (m *Memory) notify(ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[ownerID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Memory) notifyAll() {
	m.mu.Lock()
	owners := make([]string, 0, len(m.subs))
	for owner := range m.subs {
		owners = append(owners, owner)
	}
	m.mu.Unlock()
	for _, owner := range owners {
		m.notify(owner)
	}
}
