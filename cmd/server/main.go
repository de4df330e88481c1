package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"anoa.com/trafficexchange/internal/bootstrap"
	"anoa.com/trafficexchange/internal/config"
	"anoa.com/trafficexchange/internal/logger"
	"anoa.com/trafficexchange/internal/server"
	"anoa.com/trafficexchange/pkg/database"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DSN())
	if err != nil {
		zl.Fatal("database unavailable", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		zl.Fatal("migration failed", zap.Error(err))
	}
	if cfg.AppEnv == "development" {
		if err := bootstrap.SeedDevelopment(db, zl); err != nil {
			zl.Fatal("failed to seed development data", zap.Error(err))
		}
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		zl.Fatal("redis unavailable", zap.Error(err))
	}
	if redisClient == nil {
		zl.Warn("REDIS_URL not set: live events disabled, unlock sweep runs without an instance lock")
	} else {
		defer func() { _ = redisClient.Close() }()
	}

	srv, err := server.NewServer(cfg, db, redisClient, zl)
	if err != nil {
		zl.Fatal("failed to build server", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			zl.Fatal("server exited with error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown failed", zap.Error(err))
	}
}
