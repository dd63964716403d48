package memory

import (
	"cmp"
	"context"
	"iter"
	"slices"

	"smartshop/internal/domain"
	"smartshop/internal/repository/order"
)

type orderRepo struct{ s *Store }

// Orders returns the order view of the store.
func (s *Store) Orders() order.Repository { return orderRepo{s: s} }

func (r orderRepo) Create(ctx context.Context, o domain.Order) error {
	var err error
	r.s.locked(ctx, func() {
		if _, exists := r.s.orders[o.ID]; exists {
			err = domain.ErrAlreadyExists
			return
		}
		o.Lines = slices.Clone(o.Lines)
		r.s.orders[o.ID] = o
	})
	return err
}

func (r orderRepo) GetByID(ctx context.Context, userID, id string) (*domain.Order, error) {
	var (
		o  domain.Order
		ok bool
	)
	r.s.locked(ctx, func() { o, ok = r.s.orders[id] })
	if !ok || o.UserID != userID {
		return nil, domain.ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}

func (r orderRepo) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	var out []domain.Order
	for o, err := range r.StreamByUser(ctx, userID) {
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// StreamByUser copies the user's orders under the lock and yields them
// after releasing it, so consumers may call back into the store.
func (r orderRepo) StreamByUser(ctx context.Context, userID string) iter.Seq2[domain.Order, error] {
	return func(yield func(domain.Order, error) bool) {
		var snapshot []domain.Order
		r.s.locked(ctx, func() {
			for _, o := range r.s.orders {
				if o.UserID == userID {
					o.Lines = slices.Clone(o.Lines)
					snapshot = append(snapshot, o)
				}
			}
		})
		slices.SortFunc(snapshot, func(a, b domain.Order) int {
			return cmp.Or(b.PlacedAt.Compare(a.PlacedAt), cmp.Compare(a.ID, b.ID))
		})
		for _, o := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(domain.Order{}, err)
				return
			}
			if !yield(o, nil) {
				return
			}
		}
	}
}

func (r orderRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	n := 0
	r.s.locked(ctx, func() {
		for _, o := range r.s.orders {
			if o.UserID == userID {
				n++
			}
		}
	})
	return n, nil
}
