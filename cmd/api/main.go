package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartshop/internal/config"
	"smartshop/internal/feed"
	"smartshop/internal/httpserver"
	"smartshop/internal/metrics"
	"smartshop/internal/remote"
	"smartshop/internal/seed"
	accountsvc "smartshop/internal/service/account"
	cartsvc "smartshop/internal/service/cart"
	catalogsvc "smartshop/internal/service/catalog"
	"smartshop/internal/service/catalogsync"
	ordersvc "smartshop/internal/service/order"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const logFlags = log.LstdFlags | log.LUTC | log.Lshortfile

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[api] ", logFlags)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatalf("api: %v", err)
	}
	logger.Printf("server stopped")
}

func run(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	broker := feed.NewBroker()

	st, err := openStorage(ctx, cfg, broker, logger)
	if err != nil {
		return err
	}
	defer st.close()

	mirror, closeMirror, err := openMirror(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMirror()

	m.SetBreakerState("closed")
	guarded := remote.NewBreaker(mirror, remote.BreakerSettings{
		Failures:      uint32(max(cfg.BreakerFailures, 1)),
		Cooldown:      cfg.BreakerCooldown,
		Timeout:       cfg.RemoteTimeout,
		OnStateChange: m.SetBreakerState,
	}, log.New(os.Stdout, "[remote] ", logFlags))

	reconciler := catalogsync.New(st.products, guarded, st.publisher, m, log.New(os.Stdout, "[sync] ", logFlags))
	defer reconciler.Close()

	accounts := accountsvc.New(st.accounts, st.sessions, cfg.SessionTTL)
	catalog := catalogsvc.New(st.tx, st.products, st.publisher, broker, reconciler, logger)
	carts := cartsvc.New(cartsvc.Deps{
		Tx:        st.tx,
		Carts:     st.carts,
		Products:  st.products,
		Publisher: st.publisher,
		Broker:    broker,
		Metrics:   m,
		Logger:    logger,
	})
	orders := ordersvc.New(ordersvc.Deps{
		Tx:        st.tx,
		Carts:     st.carts,
		Products:  st.products,
		Orders:    st.orders,
		Publisher: st.publisher,
		Broker:    broker,
		Metrics:   m,
		Logger:    logger,
	})

	if cfg.StorageDriver == config.DriverMemory {
		res, err := seed.Apply(ctx, st.products, accounts)
		if err != nil {
			return err
		}
		logger.Printf("seeded memory store products=%d account=%s", res.Products, seed.DemoEmail)
	}

	if cfg.SyncOwnerID != "" {
		if err := reconciler.Start(ctx, cfg.SyncOwnerID); err != nil {
			return err
		}
	}

	srv, err := httpserver.New(cfg.HTTPAddr, logger, st.pinger, httpserver.Deps{
		Accounts:    accounts,
		Catalog:     catalog,
		Carts:       carts,
		Orders:      orders,
		Sync:        reconciler,
		Metrics:     m,
		Gatherer:    reg,
		CORSOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("starting http server on %s driver=%s", cfg.HTTPAddr, cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if st.pool != nil {
		g.Go(func() error {
			return feed.Listen(gctx, st.pool, broker, log.New(os.Stdout, "[feed] ", logFlags))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("graceful shutdown failed: %v", err)
			return err
		}
		return nil
	})
	return g.Wait()
}

func openMirror(ctx context.Context, cfg config.Config, logger *log.Logger) (remote.Mirror, func(), error) {
	if cfg.MongoURI == "" {
		logger.Printf("MONGO_URI not set, remote catalog kept in process memory")
		return remote.NewMemory(), func() {}, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	database, err := remote.Connect(dialCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	mirror := remote.NewMongoMirror(database, cfg.MongoCollection, log.New(os.Stdout, "[mongo] ", logFlags))
	if err := mirror.CreateIndexes(dialCtx); err != nil {
		_ = database.Client().Disconnect(context.Background())
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := database.Client().Disconnect(ctx); err != nil {
			logger.Printf("disconnect mongo: %v", err)
		}
	}
	return mirror, closeFn, nil
}
