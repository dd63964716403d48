package account

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"smartshop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresRepo struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgres returns a Repository backed by Postgres.
func NewPostgres(pool *pgxpool.Pool, logger *log.Logger) Repository {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &postgresRepo{pool: pool, logger: logger}
}

func (r *postgresRepo) Create(ctx context.Context, a domain.Account) (*domain.Account, error) {
	const q = `
INSERT INTO accounts (email, password_hash)
VALUES ($1, $2)
RETURNING id::text, email, password_hash, created_at
`
	return r.scanAccount(r.pool.QueryRow(ctx, q, strings.ToLower(a.Email), a.PasswordHash))
}

func (r *postgresRepo) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const q = `
SELECT id::text, email, password_hash, created_at
FROM accounts
WHERE lower(email) = lower($1)
LIMIT 1
`
	return r.scanAccount(r.pool.QueryRow(ctx, q, email))
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	const q = `
SELECT id::text, email, password_hash, created_at
FROM accounts
WHERE id::text = $1
LIMIT 1
`
	return r.scanAccount(r.pool.QueryRow(ctx, q, id))
}

func (r *postgresRepo) scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrAlreadyExists
		}
		r.logger.Printf("account repo: scan error=%v", err)
		return nil, err
	}
	return &a, nil
}
