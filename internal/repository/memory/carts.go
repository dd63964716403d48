package memory

import (
	"cmp"
	"context"
	"slices"

	"smartshop/internal/domain"
	"smartshop/internal/repository/cart"
)

type cartRepo struct{ s *Store }

// Carts returns the cart view of the store.
func (s *Store) Carts() cart.Repository { return cartRepo{s: s} }

func (r cartRepo) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	var out []domain.CartLine
	r.s.locked(ctx, func() { out = r.s.userLines(userID) })
	slices.SortFunc(out, func(a, b domain.CartLine) int {
		return cmp.Or(b.AddedAt.Compare(a.AddedAt), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (r cartRepo) GetByID(ctx context.Context, id string) (*domain.CartLine, error) {
	var (
		line domain.CartLine
		ok   bool
	)
	r.s.locked(ctx, func() { line, ok = r.s.lines[id] })
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &line, nil
}

func (r cartRepo) GetByUserAndProduct(ctx context.Context, userID, productID string) (*domain.CartLine, error) {
	var found *domain.CartLine
	r.s.locked(ctx, func() {
		for _, line := range r.s.lines {
			if line.UserID == userID && line.ProductID == productID {
				found = &line
				return
			}
		}
	})
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

func (r cartRepo) Insert(ctx context.Context, line domain.CartLine) error {
	var err error
	r.s.locked(ctx, func() {
		if _, exists := r.s.lines[line.ID]; exists {
			err = domain.ErrAlreadyExists
			return
		}
		for _, existing := range r.s.lines {
			if existing.UserID == line.UserID && existing.ProductID == line.ProductID {
				err = domain.ErrAlreadyExists
				return
			}
		}
		r.s.lines[line.ID] = line
	})
	return err
}

func (r cartRepo) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	var err error
	r.s.locked(ctx, func() {
		line, ok := r.s.lines[id]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		line.Quantity = quantity
		r.s.lines[id] = line
	})
	return err
}

func (r cartRepo) Delete(ctx context.Context, id string) error {
	var err error
	r.s.locked(ctx, func() {
		if _, ok := r.s.lines[id]; !ok {
			err = domain.ErrNotFound
			return
		}
		delete(r.s.lines, id)
	})
	return err
}

func (r cartRepo) DeleteLines(ctx context.Context, userID string, ids []string) (int64, error) {
	var n int64
	r.s.locked(ctx, func() {
		for _, id := range ids {
			if line, ok := r.s.lines[id]; ok && line.UserID == userID {
				delete(r.s.lines, id)
				n++
			}
		}
	})
	return n, nil
}

func (r cartRepo) ClearByUser(ctx context.Context, userID string) (int64, error) {
	var n int64
	r.s.locked(ctx, func() {
		for id, line := range r.s.lines {
			if line.UserID == userID {
				delete(r.s.lines, id)
				n++
			}
		}
	})
	return n, nil
}

func (r cartRepo) Totals(ctx context.Context, userID string) (domain.CartTotals, error) {
	var lines []domain.CartLine
	r.s.locked(ctx, func() { lines = r.s.userLines(userID) })
	return domain.TotalsOf(lines), nil
}

func (s *Store) userLines(userID string) []domain.CartLine {
	var out []domain.CartLine
	for _, line := range s.lines {
		if line.UserID == userID {
			out = append(out, line)
		}
	}
	return out
}
