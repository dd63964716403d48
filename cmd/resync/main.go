package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"smartshop/internal/config"
	"smartshop/internal/db"
	"smartshop/internal/feed"
	"smartshop/internal/remote"
	accountrepo "smartshop/internal/repository/account"
	"smartshop/internal/repository/product"
	"smartshop/internal/service/catalogsync"
)

func main() {
	var email string
	flag.StringVar(&email, "user", "", "Email of the account whose remote catalog is rebuilt")
	flag.Parse()

	if email == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[resync] ", log.LstdFlags|log.LUTC|log.Lshortfile)
	if cfg.MongoURI == "" {
		logger.Fatalf("MONGO_URI is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RemoteTimeout+cfg.ShutdownTimeout)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	acct, err := accountrepo.NewPostgres(pool, logger).GetByEmail(ctx, email)
	if err != nil {
		logger.Fatalf("look up account %q: %v", email, err)
	}

	database, err := remote.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		logger.Fatalf("connect mongo: %v", err)
	}
	defer database.Client().Disconnect(context.Background())

	mirror := remote.NewMongoMirror(database, cfg.MongoCollection, logger)
	reconciler := catalogsync.New(product.NewPostgres(pool, logger), mirror, feed.NewPgPublisher(pool), nil, logger)
	defer reconciler.Close()

	n, err := reconciler.SyncToCloud(ctx, acct.ID)
	if err != nil {
		logger.Fatalf("resync: %v", err)
	}
	fmt.Printf("Pushed %d products to the remote catalog of %s\n", n, email)
}
