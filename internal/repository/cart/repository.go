package cart

import (
	"context"

	"smartshop/internal/domain"
)

// Repository is the local cart store. Lines are scoped by user id.
type Repository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error)
	GetByID(ctx context.Context, id string) (*domain.CartLine, error)
	GetByUserAndProduct(ctx context.Context, userID, productID string) (*domain.CartLine, error)
	Insert(ctx context.Context, line domain.CartLine) error
	UpdateQuantity(ctx context.Context, id string, quantity int) error
	Delete(ctx context.Context, id string) error
	// DeleteLines removes the user's lines with the given ids and reports
	// how many existed.
	DeleteLines(ctx context.Context, userID string, ids []string) (int64, error)
	ClearByUser(ctx context.Context, userID string) (int64, error)
	Totals(ctx context.Context, userID string) (domain.CartTotals, error)
}
