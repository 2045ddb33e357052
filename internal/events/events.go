package events

import "context"

// Streams
const (
	StreamTransaction  = "events:transaction"
	StreamNotification = "events:notification"
)

// Event types
const (
	EventTransactionStatusChanged = "transaction_status_changed"
	EventEscrowReleased           = "escrow_released"
	EventNotificationCreated      = "notification_created"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
