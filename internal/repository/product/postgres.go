package product

import (
	"context"
	"errors"
	"io"
	"log"

	"smartshop/internal/db"
	"smartshop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `id, name, quantity, price, image_ref, created_at, updated_at`

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *log.Logger) Repository {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &postgresRepo{pool: pool, logger: logger}
}

func (r *postgresRepo) List(ctx context.Context) ([]domain.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products ORDER BY name ASC, id ASC`
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q)
	if err != nil {
		r.logger.Printf("product repo: list error=%v", err)
		return nil, err
	}
	defer rows.Close()

	var result []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		r.logger.Printf("product repo: list rows error=%v", err)
		return nil, err
	}
	return result, nil
}

func (r *postgresRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *postgresRepo) Summary(ctx context.Context) (domain.CatalogSummary, error) {
	var summary domain.CatalogSummary
	err := db.Conn(ctx, r.pool).
		QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(price * quantity), 0) FROM products`).
		Scan(&summary.Count, &summary.StockValue)
	if err != nil {
		return domain.CatalogSummary{}, err
	}
	return summary, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	return r.getOne(ctx, "get", q, id)
}

func (r *postgresRepo) GetForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "get for update", q, id)
}

func (r *postgresRepo) getOne(ctx context.Context, op, q, id string) (*domain.Product, error) {
	p, err := scanProduct(db.Conn(ctx, r.pool).QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Printf("product repo: %s id=%s error=%v", op, id, err)
		return nil, err
	}
	return p, nil
}

func (r *postgresRepo) Create(ctx context.Context, p domain.Product) (*domain.Product, error) {
	q := `
INSERT INTO products (id, name, quantity, price, image_ref)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + productColumns
	created, err := scanProduct(db.Conn(ctx, r.pool).QueryRow(ctx, q, p.ID, p.Name, p.Quantity, p.Price, p.ImageRef))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Printf("product repo: create id=%s error=%v", p.ID, err)
		return nil, err
	}
	r.logger.Printf("product repo: created id=%s", created.ID)
	return created, nil
}

func (r *postgresRepo) Update(ctx context.Context, p domain.Product) (*domain.Product, error) {
	q := `
UPDATE products
SET name = $2, quantity = $3, price = $4, image_ref = $5, updated_at = now()
WHERE id = $1
RETURNING ` + productColumns
	updated, err := scanProduct(db.Conn(ctx, r.pool).QueryRow(ctx, q, p.ID, p.Name, p.Quantity, p.Price, p.ImageRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.Printf("product repo: update id=%s error=%v", p.ID, err)
		return nil, err
	}
	r.logger.Printf("product repo: updated id=%s quantity=%d", updated.ID, updated.Quantity)
	return updated, nil
}

func (r *postgresRepo) Upsert(ctx context.Context, p domain.Product) (*domain.Product, error) {
	q := `
INSERT INTO products (id, name, quantity, price, image_ref)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    quantity = EXCLUDED.quantity,
    price = EXCLUDED.price,
    image_ref = EXCLUDED.image_ref,
    updated_at = now()
RETURNING ` + productColumns
	res, err := scanProduct(db.Conn(ctx, r.pool).QueryRow(ctx, q, p.ID, p.Name, p.Quantity, p.Price, p.ImageRef))
	if err != nil {
		r.logger.Printf("product repo: upsert id=%s error=%v", p.ID, err)
		return nil, err
	}
	r.logger.Printf("product repo: upserted id=%s", res.ID)
	return res, nil
}

func (r *postgresRepo) Delete(ctx context.Context, id string) error {
	conn := db.Conn(ctx, r.pool)
	// The tombstone is written in the same statement so an inbound sync
	// running concurrently either sees the row or the tombstone.
	const q = `
WITH deleted AS (
    DELETE FROM products WHERE id = $1 RETURNING id
)
INSERT INTO product_tombstones (id)
SELECT id FROM deleted
ON CONFLICT (id) DO UPDATE SET deleted_at = now()
RETURNING id
`
	var deleted string
	if err := conn.QueryRow(ctx, q, id).Scan(&deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		r.logger.Printf("product repo: delete id=%s error=%v", id, err)
		return err
	}
	r.logger.Printf("product repo: deleted id=%s", id)
	return nil
}

func (r *postgresRepo) InsertIfAbsent(ctx context.Context, p domain.Product) (bool, error) {
	const q = `
INSERT INTO products (id, name, quantity, price, image_ref)
SELECT $1, $2, $3, $4, $5
WHERE NOT EXISTS (SELECT 1 FROM product_tombstones WHERE id = $1)
ON CONFLICT (id) DO NOTHING
`
	cmd, err := db.Conn(ctx, r.pool).Exec(ctx, q, p.ID, p.Name, p.Quantity, p.Price, p.ImageRef)
	if err != nil {
		r.logger.Printf("product repo: insert if absent id=%s error=%v", p.ID, err)
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *postgresRepo) DeductStock(ctx context.Context, id string, quantity int) (*domain.Product, error) {
	q := `
UPDATE products
SET quantity = quantity - $2, updated_at = now()
WHERE id = $1 AND quantity >= $2
RETURNING ` + productColumns
	p, err := scanProduct(db.Conn(ctx, r.pool).QueryRow(ctx, q, id, quantity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConflict
		}
		r.logger.Printf("product repo: deduct id=%s quantity=%d error=%v", id, quantity, err)
		return nil, err
	}
	r.logger.Printf("product repo: deducted id=%s quantity=%d remaining=%d", id, quantity, p.Quantity)
	return p, nil
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Quantity, &p.Price, &p.ImageRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
