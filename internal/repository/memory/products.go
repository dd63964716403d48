package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"smartshop/internal/domain"
	"smartshop/internal/repository/product"
)

type productRepo struct{ s *Store }

// Products returns the catalog view of the store.
func (s *Store) Products() product.Repository { return productRepo{s: s} }

func (r productRepo) List(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	r.s.locked(ctx, func() {
		out = make([]domain.Product, 0, len(r.s.products))
		for _, p := range r.s.products {
			out = append(out, p)
		}
	})
	slices.SortFunc(out, func(a, b domain.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (r productRepo) Count(ctx context.Context) (int, error) {
	var n int
	r.s.locked(ctx, func() { n = len(r.s.products) })
	return n, nil
}

func (r productRepo) Summary(ctx context.Context) (domain.CatalogSummary, error) {
	var products []domain.Product
	r.s.locked(ctx, func() {
		products = make([]domain.Product, 0, len(r.s.products))
		for _, p := range r.s.products {
			products = append(products, p)
		}
	})
	return domain.SummaryOf(products), nil
}

func (r productRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var (
		p  domain.Product
		ok bool
	)
	r.s.locked(ctx, func() { p, ok = r.s.products[id] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

// GetForUpdate is GetByID: a transaction already holds the whole store.
func (r productRepo) GetForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return r.GetByID(ctx, id)
}

func (r productRepo) Create(ctx context.Context, p domain.Product) (*domain.Product, error) {
	var err error
	r.s.locked(ctx, func() {
		if _, exists := r.s.products[p.ID]; exists {
			err = domain.ErrAlreadyExists
			return
		}
		now := time.Now().UTC()
		p.CreatedAt, p.UpdatedAt = now, now
		r.s.products[p.ID] = p
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r productRepo) Update(ctx context.Context, p domain.Product) (*domain.Product, error) {
	var err error
	r.s.locked(ctx, func() {
		current, ok := r.s.products[p.ID]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		p.CreatedAt = current.CreatedAt
		p.UpdatedAt = time.Now().UTC()
		r.s.products[p.ID] = p
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r productRepo) Upsert(ctx context.Context, p domain.Product) (*domain.Product, error) {
	r.s.locked(ctx, func() {
		now := time.Now().UTC()
		p.CreatedAt = now
		if current, ok := r.s.products[p.ID]; ok {
			p.CreatedAt = current.CreatedAt
		}
		p.UpdatedAt = now
		r.s.products[p.ID] = p
	})
	return &p, nil
}

func (r productRepo) Delete(ctx context.Context, id string) error {
	var err error
	r.s.locked(ctx, func() {
		if _, ok := r.s.products[id]; !ok {
			err = domain.ErrNotFound
			return
		}
		delete(r.s.products, id)
		r.s.tombstones[id] = struct{}{}
	})
	return err
}

func (r productRepo) InsertIfAbsent(ctx context.Context, p domain.Product) (bool, error) {
	inserted := false
	r.s.locked(ctx, func() {
		if _, exists := r.s.products[p.ID]; exists {
			return
		}
		if _, deleted := r.s.tombstones[p.ID]; deleted {
			return
		}
		now := time.Now().UTC()
		p.CreatedAt, p.UpdatedAt = now, now
		r.s.products[p.ID] = p
		inserted = true
	})
	return inserted, nil
}

func (r productRepo) DeductStock(ctx context.Context, id string, quantity int) (*domain.Product, error) {
	var (
		p   domain.Product
		err error
	)
	r.s.locked(ctx, func() {
		current, ok := r.s.products[id]
		if !ok || current.Quantity < quantity {
			err = domain.ErrConflict
			return
		}
		current.Quantity -= quantity
		current.UpdatedAt = time.Now().UTC()
		r.s.products[id] = current
		p = current
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
