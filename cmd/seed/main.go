package main

import (
	"context"
	"log"
	"os"

	"smartshop/internal/config"
	"smartshop/internal/db"
	"smartshop/internal/migrate"
	accountrepo "smartshop/internal/repository/account"
	productrepo "smartshop/internal/repository/product"
	"smartshop/internal/repository/session"
	"smartshop/internal/seed"
	accountsvc "smartshop/internal/service/account"
)

func main() {
	cfg := config.FromEnv()
	logger := log.New(os.Stdout, "[seed] ", log.LstdFlags|log.LUTC|log.Lshortfile)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := migrate.Apply(ctx, pool); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}

	redisClient, err := session.Dial(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	accounts := accountsvc.New(accountrepo.NewPostgres(pool, logger), session.NewRedis(redisClient), cfg.SessionTTL)
	res, err := seed.Apply(ctx, productrepo.NewPostgres(pool, logger), accounts)
	if err != nil {
		logger.Fatalf("seed apply: %v", err)
	}

	logger.Printf("seed applied products=%d account_created=%t email=%s", res.Products, res.Account, seed.DemoEmail)
}
