package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/events"
	"github.com/peerbay/backend/internal/models"
	"go.uber.org/zap"
)

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

// Notification types that also go out by email through the notify bridge.
var emailTypes = map[string]bool{
	models.NotifyPaymentReceived: true,
	models.NotifyFundsReleased:   true,
	models.NotifyDisputeOpened:   true,
	models.NotifyRefundIssued:    true,
}

// NotificationService creates in-app notifications and publishes them for
// the websocket hub and the email bridge. Delivery is fire-and-forget: a
// failed insert or publish is logged and swallowed so it can never roll
// back the state transition that triggered it.
type NotificationService struct {
	repo      NotificationStore
	publisher events.Publisher
	log       *zap.Logger
}

func NewNotificationService(repo NotificationStore, publisher events.Publisher, log *zap.Logger) *NotificationService {
	return &NotificationService{repo: repo, publisher: publisher, log: log}
}

func (s *NotificationService) Notify(ctx context.Context, userID uuid.UUID, notificationType, title, message, link string) {
	n := &models.Notification{
		UserID:  userID,
		Type:    notificationType,
		Title:   title,
		Message: message,
	}
	if link != "" {
		n.Link = &link
	}

	if err := s.repo.Create(ctx, n); err != nil {
		s.log.Warn("failed to create notification",
			zap.String("user_id", userID.String()),
			zap.String("type", notificationType),
			zap.Error(err),
		)
		return
	}

	err := s.publisher.Publish(ctx, events.StreamNotification, events.Event{
		Type: events.EventNotificationCreated,
		Payload: map[string]any{
			"notification_id": n.ID.String(),
			"user_id":         userID.String(),
			"type":            notificationType,
			"title":           title,
			"message":         message,
			"email":           emailTypes[notificationType],
		},
	})
	if err != nil {
		s.log.Warn("failed to publish notification event", zap.Error(err))
	}
}

func (s *NotificationService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Notification, error) {
	return s.repo.ListForUser(ctx, userID, limit, offset)
}

func (s *NotificationService) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	applied, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if !applied {
		return notFound("notification not found")
	}
	return nil
}
