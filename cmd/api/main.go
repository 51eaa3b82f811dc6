package main

import (
	"context"
	"log"

	"github.com/metroplan/metroplan-backend/config"
	"github.com/metroplan/metroplan-backend/internal/auth"
	"github.com/metroplan/metroplan-backend/internal/bootstrap"
	"github.com/metroplan/metroplan-backend/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx := context.Background()

	db, err := bootstrap.OpenDB(ctx, bootstrap.DBOptions{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	sqlDB, err := bootstrap.OpenSQL(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open sql db: %v", err)
	}
	defer sqlDB.Close()

	rdb, err := bootstrap.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("open redis: %v", err)
	}
	defer rdb.Close()

	authClient, err := auth.InitializeFirebase(&cfg.Firebase)
	if err != nil {
		log.Fatalf("init firebase: %v", err)
	}

	poller := notify.NewPoller(cfg.Upstream.NotificationURL, cfg.App.PollInterval)
	if err := poller.Start(); err != nil {
		log.Fatalf("start notification poller: %v", err)
	}
	defer poller.Stop()

	r, manager := bootstrap.BuildRouter(bootstrap.RouterDeps{
		Cfg:        cfg,
		DB:         db,
		SQLDB:      sqlDB,
		Redis:      rdb,
		AuthClient: authClient,
		Poller:     poller,
	})
	defer manager.CloseAll()

	log.Printf("listening on :%s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
