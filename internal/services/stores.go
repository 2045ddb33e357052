package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/models"
	"github.com/peerbay/backend/internal/repositories"
)

// TransactionStore is the ledger access the transition services need. Every
// mutating method is a conditional write returning whether it applied; the
// implementations never read-then-write.
type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error)
	GetByChargeID(ctx context.Context, chargeID string) (*models.Transaction, error)
	GetByDisputeID(ctx context.Context, disputeID string) (*models.Transaction, error)
	List(ctx context.Context, f repositories.TransactionFilter) ([]models.Transaction, error)

	MarkPaymentReceived(ctx context.Context, id uuid.UUID, chargeID, stripeStatus string) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID, stripeStatus string) (bool, error)
	MarkShipped(ctx context.Context, id uuid.UUID, trackingNumber string, carrier *string) (bool, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, releaseAt time.Time) (bool, error)
	Release(ctx context.Context, id uuid.UUID) (bool, error)
	OpenDispute(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	OpenChargeback(ctx context.Context, id uuid.UUID, disputeID, reason string) (bool, error)
	MarkDisputeUnderReview(ctx context.Context, disputeID string) (bool, error)
	ResolveChargebackBuyer(ctx context.Context, id uuid.UUID) (bool, error)
	ResolveChargebackSeller(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, full bool) (bool, error)

	RequestReturn(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ApproveReturn(ctx context.Context, id uuid.UUID) (bool, error)
	RejectReturn(ctx context.Context, id uuid.UUID, rejectionReason string, releaseAt time.Time) (bool, error)
	MarkReturnShipped(ctx context.Context, id uuid.UUID, trackingNumber string, carrier *string) (bool, error)
	MarkReturnReceived(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteReturnRefund(ctx context.Context, id uuid.UUID) (bool, error)

	FindDueForRelease(ctx context.Context, limit int) ([]models.Transaction, error)
	CancelStalePending(ctx context.Context, olderThan time.Duration) (int64, error)
}

type ListingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	IncrementTradeCounters(ctx context.Context, buyerID, sellerID uuid.UUID) error
	SetPayoutsEnabled(ctx context.Context, stripeAccountID string, enabled bool) error
	UpdateSubscription(ctx context.Context, stripeCustomerID string, subscriptionID *string, tier, status string) error
	SetSubscriptionStatus(ctx context.Context, stripeCustomerID, status string) error
	SetDefaultPaymentMethod(ctx context.Context, stripeCustomerID, paymentMethodID string) error
	ClearPaymentMethod(ctx context.Context, paymentMethodID string) error
	UpdateCustomerEmail(ctx context.Context, stripeCustomerID, email string) error
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// Notifier delivers in-app notifications. Fire-and-forget: failures are
// logged by the implementation and never fail the transition that produced
// them.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, notificationType, title, message, link string)
}

// PaymentGateway is the one external call embedded in a transition.
type PaymentGateway interface {
	IssueRefund(ctx context.Context, paymentIntentID string, amountCents int64, reason string) (string, error)
}
