package product

import (
	"context"

	"smartshop/internal/domain"
)

// Repository is the local catalog store.
type Repository interface {
	List(ctx context.Context) ([]domain.Product, error)
	Count(ctx context.Context) (int, error)
	Summary(ctx context.Context) (domain.CatalogSummary, error)
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	// GetForUpdate reads a product and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Product, error)
	Create(ctx context.Context, p domain.Product) (*domain.Product, error)
	Update(ctx context.Context, p domain.Product) (*domain.Product, error)
	Upsert(ctx context.Context, p domain.Product) (*domain.Product, error)
	Delete(ctx context.Context, id string) error
	// InsertIfAbsent inserts p unless a product with the same id exists or
	// was deleted locally. It reports whether a row was written.
	InsertIfAbsent(ctx context.Context, p domain.Product) (bool, error)
	// DeductStock subtracts quantity when enough stock is on hand and
	// returns domain.ErrConflict otherwise.
	DeductStock(ctx context.Context, id string, quantity int) (*domain.Product, error)
}
