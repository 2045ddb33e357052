package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/http/handlers"
	"github.com/peerbay/backend/internal/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	transactionHandler *handlers.TransactionHandler,
	returnHandler *handlers.ReturnHandler,
	notificationHandler *handlers.NotificationHandler,
	webhookHandler *handlers.WebhookHandler,
	escrowHandler *handlers.EscrowHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Stripe webhooks and the scheduler trigger carry their own auth and
	// must not sit behind the user rate limiter.
	app.Post("/webhooks/stripe/orders", webhookHandler.StripeOrders)
	app.Post("/webhooks/stripe/billing", webhookHandler.StripeBilling)
	app.Post("/internal/escrow/release-due", middleware.SchedulerAuthMiddleware(cfg), escrowHandler.ReleaseDue)

	api := app.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Transactions
	protected.Get("/transactions", transactionHandler.ListTransactions)
	protected.Get("/transactions/:id", transactionHandler.GetTransaction)
	protected.Get("/transactions/:id/events", transactionHandler.GetTransactionEvents)
	protected.Post("/transactions/:id/ship", transactionHandler.Ship)
	protected.Post("/transactions/:id/confirm-delivery", transactionHandler.ConfirmDelivery)
	protected.Post("/transactions/:id/dispute", transactionHandler.OpenDispute)
	protected.Post("/transactions/:id/refund-request", transactionHandler.RequestRefund)

	// Returns
	protected.Post("/transactions/:id/return/request", returnHandler.RequestReturn)
	protected.Post("/transactions/:id/return/approve", returnHandler.ApproveReturn)
	protected.Post("/transactions/:id/return/reject", returnHandler.RejectReturn)
	protected.Post("/transactions/:id/return/ship", returnHandler.ShipReturn)
	protected.Post("/transactions/:id/return/confirm-received", returnHandler.ConfirmReturnReceived)

	// Notifications
	protected.Get("/notifications", notificationHandler.ListNotifications)
	protected.Post("/notifications/:id/read", notificationHandler.MarkRead)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
