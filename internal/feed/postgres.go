package feed

import (
	"context"
	"io"
	"log"
	"time"

	"smartshop/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel is the Postgres notification channel carrying topic names.
const Channel = "smartshop_changes"

// PgPublisher publishes through pg_notify. Inside a transaction the
// notification is delivered only if the transaction commits.
type PgPublisher struct {
	pool *pgxpool.Pool
}

func NewPgPublisher(pool *pgxpool.Pool) *PgPublisher {
	return &PgPublisher{pool: pool}
}

func (p *PgPublisher) Publish(ctx context.Context, topics ...string) error {
	conn := db.Conn(ctx, p.pool)
	for _, topic := range topics {
		if _, err := conn.Exec(ctx, `SELECT pg_notify($1, $2)`, Channel, topic); err != nil {
			return err
		}
	}
	return nil
}

// Listen relays notifications from Postgres into broker until ctx is done.
// A dedicated pool connection holds the LISTEN; it is re-established with
// backoff when it fails, and every subscriber is woken after a reconnect.
func Listen(ctx context.Context, pool *pgxpool.Pool, broker *Broker, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	backoff := 500 * time.Millisecond
	for {
		err := listenOnce(ctx, pool, broker, logger)
		if ctx.Err() != nil {
			return nil
		}
		logger.Printf("feed: listener error=%v retry_in=%s", err, backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func listenOnce(ctx context.Context, pool *pgxpool.Pool, broker *Broker, logger *log.Logger) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "UNLISTEN *"); err != nil {
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	logger.Printf("feed: listening channel=%s", Channel)
	broker.Broadcast()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		_ = broker.Publish(ctx, n.Payload)
	}
}
