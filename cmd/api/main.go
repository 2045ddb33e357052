package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/db"
	"github.com/peerbay/backend/internal/events"
	apphttp "github.com/peerbay/backend/internal/http"
	"github.com/peerbay/backend/internal/http/handlers"
	"github.com/peerbay/backend/internal/payments"
	"github.com/peerbay/backend/internal/repositories"
	"github.com/peerbay/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	txRepo := repositories.NewTransactionRepo(pool)
	userRepo := repositories.NewUserRepo(pool)
	listingRepo := repositories.NewListingRepo(pool)
	notificationRepo := repositories.NewNotificationRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	gateway := payments.NewClient(cfg.StripeSecretKey, cfg.RefundTimeout, log)
	notifier := services.NewNotificationService(notificationRepo, publisher, log)
	txService := services.NewTransactionService(txRepo, auditRepo, notifier, gateway, publisher, cfg, log)
	returnService := services.NewReturnService(txRepo, listingRepo, auditRepo, notifier, gateway, publisher, cfg, log)
	escrowService := services.NewEscrowService(txRepo, auditRepo, notifier, publisher, cfg, log)
	webhookService := services.NewWebhookService(txRepo, userRepo, auditRepo, notifier, publisher, cfg, log)
	billingService := services.NewBillingService(userRepo, log)

	// Handlers
	transactionHandler := handlers.NewTransactionHandler(txService, log)
	returnHandler := handlers.NewReturnHandler(returnService, log)
	notificationHandler := handlers.NewNotificationHandler(notifier, log)
	webhookHandler := handlers.NewWebhookHandler(webhookService, billingService, cfg, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, transactionHandler, returnHandler, notificationHandler, webhookHandler, escrowHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
