package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"smartshop/internal/config"
	"smartshop/internal/db"
	"smartshop/internal/feed"
	"smartshop/internal/importer"
	accountrepo "smartshop/internal/repository/account"
	"smartshop/internal/repository/product"
	catalogsvc "smartshop/internal/service/catalog"
)

func main() {
	var (
		filePath string
		email    string
	)
	flag.StringVar(&filePath, "file", "", "Path to product CSV (id,name,quantity,price,image)")
	flag.StringVar(&email, "user", "", "Email of the account the import runs as")
	flag.Parse()

	if filePath == "" || email == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[importer] ", log.LstdFlags|log.LUTC|log.Lshortfile)
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	acct, err := accountrepo.NewPostgres(pool, logger).GetByEmail(ctx, email)
	if err != nil {
		logger.Fatalf("look up account %q: %v", email, err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		logger.Fatalf("open file: %v", err)
	}
	defer f.Close()

	// Products reach the remote catalog on the next resync or listen session.
	catalog := catalogsvc.New(db.NewTxRunner(pool), product.NewPostgres(pool, logger), feed.NewPgPublisher(pool), nil, nil, logger)
	imp := importer.NewCSVImporter(f, catalog, acct.ID)

	start := time.Now()
	count, err := imp.Run(ctx)
	if err != nil {
		logger.Fatalf("import failed after %d products: %v", count, err)
	}

	fmt.Printf("Imported %d products for %s in %s\n", count, email, time.Since(start).Truncate(time.Millisecond))
}
