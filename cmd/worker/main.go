package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/db"
	"github.com/peerbay/backend/internal/events"
	"github.com/peerbay/backend/internal/repositories"
	"github.com/peerbay/backend/internal/services"
	"go.uber.org/zap"
)

// The worker is the scheduler half of the settlement engine: it releases
// escrow on due transactions and sweeps abandoned checkouts. Both jobs are
// conditional-write based, so running more than one worker is safe.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	txRepo := repositories.NewTransactionRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	notifier := services.NewNotificationService(notificationRepo, publisher, log)
	escrowService := services.NewEscrowService(txRepo, auditRepo, notifier, publisher, cfg, log)

	log.Info("worker started")

	releaseTicker := time.NewTicker(1 * time.Minute)
	staleTicker := time.NewTicker(5 * time.Minute)
	defer releaseTicker.Stop()
	defer staleTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-releaseTicker.C:
			if _, _, err := escrowService.ReleaseDue(ctx); err != nil {
				log.Error("escrow release pass failed", zap.Error(err))
			}
		case <-staleTicker.C:
			if _, err := escrowService.CancelStalePending(ctx); err != nil {
				log.Error("stale pending sweep failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
