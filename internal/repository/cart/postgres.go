package cart

import (
	"context"
	"errors"

	"smartshop/internal/db"
	"smartshop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const lineColumns = `id, user_id, product_id, product_name, product_price, image_ref, quantity, added_at`

type postgresRepo struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) Repository {
	return &postgresRepo{pool: pool}
}

func (r *postgresRepo) ListByUser(ctx context.Context, userID string) ([]domain.CartLine, error) {
	q := `SELECT ` + lineColumns + ` FROM cart_lines WHERE user_id = $1 ORDER BY added_at DESC, id ASC`
	rows, err := db.Conn(ctx, r.pool).Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []domain.CartLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.CartLine, error) {
	q := `SELECT ` + lineColumns + ` FROM cart_lines WHERE id = $1`
	return r.getOne(ctx, q, id)
}

func (r *postgresRepo) GetByUserAndProduct(ctx context.Context, userID, productID string) (*domain.CartLine, error) {
	q := `SELECT ` + lineColumns + ` FROM cart_lines WHERE user_id = $1 AND product_id = $2`
	return r.getOne(ctx, q, userID, productID)
}

func (r *postgresRepo) getOne(ctx context.Context, q string, args ...any) (*domain.CartLine, error) {
	line, err := scanLine(db.Conn(ctx, r.pool).QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return line, nil
}

func (r *postgresRepo) Insert(ctx context.Context, line domain.CartLine) error {
	const q = `
INSERT INTO cart_lines (id, user_id, product_id, product_name, product_price, image_ref, quantity, added_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err := db.Conn(ctx, r.pool).Exec(ctx, q,
		line.ID,
		line.UserID,
		line.ProductID,
		line.ProductName,
		line.ProductPrice,
		line.ImageRef,
		line.Quantity,
		line.AddedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *postgresRepo) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	cmd, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE cart_lines SET quantity = $1 WHERE id = $2`, quantity, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) Delete(ctx context.Context, id string) error {
	cmd, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_lines WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresRepo) DeleteLines(ctx context.Context, userID string, ids []string) (int64, error) {
	cmd, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_lines WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *postgresRepo) ClearByUser(ctx context.Context, userID string) (int64, error) {
	cmd, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *postgresRepo) Totals(ctx context.Context, userID string) (domain.CartTotals, error) {
	const q = `
SELECT COUNT(*), COALESCE(SUM(quantity), 0), COALESCE(SUM(product_price * quantity), 0)
FROM cart_lines
WHERE user_id = $1
`
	var totals domain.CartTotals
	err := db.Conn(ctx, r.pool).QueryRow(ctx, q, userID).Scan(&totals.ItemCount, &totals.Quantity, &totals.Amount)
	if err != nil {
		return domain.CartTotals{}, err
	}
	return totals, nil
}

func scanLine(row pgx.Row) (*domain.CartLine, error) {
	var line domain.CartLine
	if err := row.Scan(
		&line.ID,
		&line.UserID,
		&line.ProductID,
		&line.ProductName,
		&line.ProductPrice,
		&line.ImageRef,
		&line.Quantity,
		&line.AddedAt,
	); err != nil {
		return nil, err
	}
	return &line, nil
}
