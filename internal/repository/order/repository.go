package order

import (
	"context"
	"iter"

	"smartshop/internal/domain"
)

// Repository stores placed orders. Orders are never updated once written.
type Repository interface {
	Create(ctx context.Context, o domain.Order) error
	GetByID(ctx context.Context, userID, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// StreamByUser yields the user's orders most recent first. Rows are read
	// lazily; the iteration stops at the first error.
	StreamByUser(ctx context.Context, userID string) iter.Seq2[domain.Order, error]
	CountByUser(ctx context.Context, userID string) (int, error)
}
