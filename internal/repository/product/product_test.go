package product

import (
	"context"
	"errors"
	"os"
	"testing"

	"smartshop/internal/domain"
	"smartshop/internal/migrate"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

func TestPostgres_CreateGetList(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	repo := NewPostgres(pool, nil)

	created, err := repo.Create(ctx, domain.Product{ID: "p1", Name: "Mug", Quantity: 5, Price: decimal.RequireFromString("10.00")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID != "p1" || created.Quantity != 5 || !created.Price.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("unexpected product %+v", created)
	}

	if _, err := repo.Create(ctx, domain.Product{ID: "p1", Name: "Dup", Quantity: 1, Price: decimal.NewFromInt(1)}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}

	got, err := repo.GetByID(ctx, "p1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Mug" {
		t.Fatalf("unexpected product %+v", got)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 product, got %d", len(list))
	}

	summary, err := repo.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Count != 1 || !summary.StockValue.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestPostgres_DeductStock(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	repo := NewPostgres(pool, nil)
	if _, err := repo.Create(ctx, domain.Product{ID: "p1", Name: "Mug", Quantity: 2, Price: decimal.NewFromInt(10)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	p, err := repo.DeductStock(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("DeductStock: %v", err)
	}
	if p.Quantity != 0 {
		t.Fatalf("expected 0 remaining, got %d", p.Quantity)
	}
	if _, err := repo.DeductStock(ctx, "p1", 1); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPostgres_InsertIfAbsentRespectsTombstones(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	repo := NewPostgres(pool, nil)
	remote := domain.Product{ID: "p3", Name: "Remote", Quantity: 1, Price: decimal.NewFromInt(3)}

	inserted, err := repo.InsertIfAbsent(ctx, remote)
	if err != nil || !inserted {
		t.Fatalf("expected insert, got inserted=%v err=%v", inserted, err)
	}

	remote.Name = "Changed"
	inserted, err = repo.InsertIfAbsent(ctx, remote)
	if err != nil || inserted {
		t.Fatalf("expected no insert, got inserted=%v err=%v", inserted, err)
	}
	got, _ := repo.GetByID(ctx, "p3")
	if got.Name != "Remote" {
		t.Fatalf("local product overwritten: %+v", got)
	}

	if err := repo.Delete(ctx, "p3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	inserted, err = repo.InsertIfAbsent(ctx, remote)
	if err != nil || inserted {
		t.Fatalf("deleted product resurrected: inserted=%v err=%v", inserted, err)
	}
	if err := repo.Delete(ctx, "p3"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	if err := migrate.Apply(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	resetTables(ctx, t, pool)
	return pool
}

func resetTables(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(ctx, `TRUNCATE products, product_tombstones, cart_lines, orders`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}
