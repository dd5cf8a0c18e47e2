package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-backend/internal/cache"
	"chat-backend/internal/config"
	"chat-backend/internal/db"
	"chat-backend/internal/events"
	"chat-backend/internal/logger"
	"chat-backend/internal/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const presenceTTL = 24 * time.Hour

func Run() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Development())
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	deps := Deps{Config: cfg, Log: zl, Publisher: events.Nop{}}

	// Init store
	switch cfg.Store {
	case "memory":
		zl.Warn("using in-memory store; data is lost on restart")
		deps.Store = repository.NewMemory()
	default:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		deps.Store = repository.NewPostgres(pool)
	}

	if cfg.RedisAddr != "" {
		client, err := cache.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// Presence still works from the durable store.
			zl.Warn("redis unavailable, presence mirror disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			defer client.Close()
			deps.Presence = cache.NewPresence(client, "chat", presenceTTL)
		}
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer publisher.Close()
		deps.Publisher = publisher
		zl.Info("publishing message events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := NewServer(deps)

	// Start Server
	errCh := make(chan error, 1)
	go func() {
		zl.Info("listening", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
		errCh <- srv.App.Listen(":" + cfg.Port)
	}()

	// Graceful Shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-sig:
	}

	zl.Info("gracefully shutting down")
	if err := srv.App.ShutdownWithTimeout(10 * time.Second); err != nil {
		zl.Warn("shutdown", zap.Error(err))
	}
	zl.Info("server shutdown complete")
	return nil
}
