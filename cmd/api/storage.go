package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"smartshop/internal/config"
	"smartshop/internal/db"
	"smartshop/internal/feed"
	"smartshop/internal/httpserver"
	"smartshop/internal/migrate"
	accountrepo "smartshop/internal/repository/account"
	cartrepo "smartshop/internal/repository/cart"
	"smartshop/internal/repository/memory"
	orderrepo "smartshop/internal/repository/order"
	productrepo "smartshop/internal/repository/product"
	"smartshop/internal/repository/session"

	"github.com/jackc/pgx/v5/pgxpool"
)

type txRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// storage is the set of stores behind the services for one driver.
type storage struct {
	tx        txRunner
	products  productrepo.Repository
	carts     cartrepo.Repository
	orders    orderrepo.Repository
	accounts  accountrepo.Repository
	sessions  session.Repository
	publisher feed.Publisher
	pinger    httpserver.Pinger
	pool      *pgxpool.Pool
	close     func()
}

// openStorage builds the stores for cfg.StorageDriver. The postgres driver
// applies migrations and keeps sessions in Redis; the memory driver keeps
// everything in process and publishes straight to broker.
func openStorage(ctx context.Context, cfg config.Config, broker *feed.Broker, logger *log.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		store := memory.NewStore()
		return &storage{
			tx:        store,
			products:  store.Products(),
			carts:     store.Carts(),
			orders:    store.Orders(),
			accounts:  store.Accounts(),
			sessions:  store.Sessions(),
			publisher: broker,
			close:     func() {},
		}, nil
	case config.DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := migrate.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	redisClient, err := session.Dial(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	repoLogger := log.New(os.Stdout, "[repo] ", logFlags)
	return &storage{
		tx:        db.NewTxRunner(pool),
		products:  productrepo.NewPostgres(pool, repoLogger),
		carts:     cartrepo.NewPostgres(pool),
		orders:    orderrepo.NewPostgres(pool, repoLogger),
		accounts:  accountrepo.NewPostgres(pool, repoLogger),
		sessions:  session.NewRedis(redisClient),
		publisher: feed.NewPgPublisher(pool),
		pinger:    pool,
		pool:      pool,
		close: func() {
			if err := redisClient.Close(); err != nil {
				logger.Printf("close redis: %v", err)
			}
			pool.Close()
		},
	}, nil
}
