package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types emitted by the transaction engine.
const (
	NotifyPaymentReceived = "payment_received"
	NotifyShipped         = "transaction_shipped"
	NotifyDelivered       = "transaction_delivered"
	NotifyFundsReleased   = "funds_released"
	NotifyDisputeOpened   = "dispute_opened"
	NotifyDisputeResolved = "dispute_resolved"
	NotifyRefundIssued    = "refund_issued"
	NotifyReturnRequested = "return_requested"
	NotifyReturnApproved  = "return_approved"
	NotifyReturnRejected  = "return_rejected"
	NotifyReturnShipped   = "return_shipped"
	NotifyPaymentFailed   = "payment_failed"
)

type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      *string   `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
