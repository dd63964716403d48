package seed

import (
	"context"
	"errors"
	"fmt"

	"smartshop/internal/domain"
	accountsvc "smartshop/internal/service/account"

	"github.com/shopspring/decimal"
)

// Demo credentials created by Apply.
const (
	DemoEmail    = "demo@smartshop.local"
	DemoPassword = "Demo12345"
)

// Catalog inserts products that are neither present nor deleted locally.
type Catalog interface {
	InsertIfAbsent(ctx context.Context, p domain.Product) (bool, error)
}

// Accounts registers shoppers.
type Accounts interface {
	Signup(ctx context.Context, in accountsvc.Credentials) (*domain.Account, error)
}

type productSeed struct {
	ID       string
	Name     string
	Quantity int
	Price    string
	Image    string
}

var products = []productSeed{
	{ID: "7b0c2a1e-5f33-4c1e-9d4a-000000000001", Name: "Demo T-Shirt", Quantity: 25, Price: "19.99", Image: "demo/tshirt.png"},
	{ID: "7b0c2a1e-5f33-4c1e-9d4a-000000000002", Name: "Demo Mug", Quantity: 40, Price: "12.99", Image: "demo/mug.png"},
	{ID: "7b0c2a1e-5f33-4c1e-9d4a-000000000003", Name: "Demo Sticker", Quantity: 3, Price: "0.10"},
}

// Result counts what Apply created.
type Result struct {
	Products int
	Account  bool
}

// Apply inserts demo products and the demo account for manual testing. It is
// idempotent: existing products and accounts are left untouched and deleted
// demo products stay deleted.
func Apply(ctx context.Context, catalog Catalog, accounts Accounts) (Result, error) {
	var res Result
	for _, s := range products {
		p := domain.Product{
			ID:       s.ID,
			Name:     s.Name,
			Quantity: s.Quantity,
			Price:    decimal.RequireFromString(s.Price),
		}
		if s.Image != "" {
			image := s.Image
			p.ImageRef = &image
		}
		inserted, err := catalog.InsertIfAbsent(ctx, p)
		if err != nil {
			return res, fmt.Errorf("insert product %s: %w", s.Name, err)
		}
		if inserted {
			res.Products++
		}
	}

	if accounts == nil {
		return res, nil
	}
	_, err := accounts.Signup(ctx, accountsvc.Credentials{Email: DemoEmail, Password: DemoPassword})
	switch {
	case err == nil:
		res.Account = true
	case errors.Is(err, accountsvc.ErrEmailTaken):
	default:
		return res, fmt.Errorf("create demo account: %w", err)
	}
	return res, nil
}
