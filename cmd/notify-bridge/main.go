package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/db"
	"github.com/peerbay/backend/internal/events"
	"github.com/peerbay/backend/internal/services"
	"go.uber.org/zap"
)

// Notify Bridge: small service that subscribes to notification events and
// forwards the email-flagged ones to the internal mailer. In-app and
// websocket delivery happen elsewhere; this process only handles email.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	mailer := services.NewMailerClient(cfg.MailerInternalURL, log)

	log.Info("notify-bridge started")

	_ = subscriber.Subscribe(ctx, events.StreamNotification, func(event events.Event) {
		email, _ := event.Payload["email"].(bool)
		if !email {
			return
		}

		userID, _ := event.Payload["user_id"].(string)
		title, _ := event.Payload["title"].(string)
		message, _ := event.Payload["message"].(string)
		if userID == "" || title == "" {
			return
		}

		notifType, _ := event.Payload["type"].(string)
		log.Info("forwarding notification email",
			zap.String("user_id", userID),
			zap.String("type", notifType),
		)
		if err := mailer.SendEmail(ctx, userID, title, message); err != nil {
			log.Warn("email forward failed", zap.Error(err))
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
