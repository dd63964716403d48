package order

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log"

	"smartshop/internal/db"
	"smartshop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, user_id, line_items, total_amount, status, placed_at`

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgres returns a Repository backed by Postgres. Line items are kept
// in a jsonb column.
func NewPostgres(pool *pgxpool.Pool, logger *log.Logger) Repository {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &postgresRepo{pool: pool, logger: logger}
}

func (r *postgresRepo) Create(ctx context.Context, o domain.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO orders (id, user_id, line_items, total_amount, status, placed_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err = db.Conn(ctx, r.pool).Exec(ctx, q, o.ID, o.UserID, linesJSON, o.TotalAmount, string(o.Status), o.PlacedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		r.logger.Printf("order repo: create id=%s user=%s error=%v", o.ID, o.UserID, err)
		return err
	}
	r.logger.Printf("order repo: created id=%s user=%s lines=%d", o.ID, o.UserID, len(o.Lines))
	return nil
}

func (r *postgresRepo) GetByID(ctx context.Context, userID, id string) (*domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND id = $2`
	o, err := r.scanOrder(db.Conn(ctx, r.pool).QueryRow(ctx, q, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *postgresRepo) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	var out []domain.Order
	for o, err := range r.StreamByUser(ctx, userID) {
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *postgresRepo) StreamByUser(ctx context.Context, userID string) iter.Seq2[domain.Order, error] {
	return func(yield func(domain.Order, error) bool) {
		q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY placed_at DESC, id ASC`
		rows, err := db.Conn(ctx, r.pool).Query(ctx, q, userID)
		if err != nil {
			r.logger.Printf("order repo: list user=%s error=%v", userID, err)
			yield(domain.Order{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			o, err := r.scanOrder(rows)
			if err != nil {
				yield(domain.Order{}, err)
				return
			}
			if !yield(*o, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			r.logger.Printf("order repo: list rows user=%s error=%v", userID, err)
			yield(domain.Order{}, err)
		}
	}
}

func (r *postgresRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *postgresRepo) scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var linesJSON []byte
	var status string
	if err := row.Scan(&o.ID, &o.UserID, &linesJSON, &o.TotalAmount, &status, &o.PlacedAt); err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if len(linesJSON) > 0 {
		if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
			r.logger.Printf("order repo: decode lines id=%s err=%v", o.ID, err)
			return nil, err
		}
	}
	return &o, nil
}
