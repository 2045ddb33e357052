package models

import (
	"time"

	"github.com/google/uuid"
)

// Transaction statuses
const (
	StatusPending         = "pending"
	StatusPaymentReceived = "payment_received"
	StatusShipped         = "shipped"
	StatusDelivered       = "delivered"
	StatusCompleted       = "completed"
	StatusCancelled       = "cancelled"
	StatusRefunded        = "refunded"
	StatusDisputed        = "disputed"
)

// Dispute sub-statuses
const (
	DisputeOpen           = "open"
	DisputeUnderReview    = "under_review"
	DisputeResolvedBuyer  = "resolved_buyer"
	DisputeResolvedSeller = "resolved_seller"
)

// Return sub-statuses
const (
	ReturnRequested = "requested"
	ReturnApproved  = "approved"
	ReturnRejected  = "rejected"
	ReturnShipped   = "shipped"
	ReturnReceived  = "received"
	ReturnRefunded  = "refunded"
)

// Valid state transitions: from -> []to. The disputed branch is reachable
// from every status where funds are still held; refunded is reachable from
// disputed (chargeback lost), delivered/completed (return refund) and from
// any held status via a full processor refund.
var ValidTransitions = map[string][]string{
	StatusPending:         {StatusPaymentReceived, StatusCancelled},
	StatusPaymentReceived: {StatusShipped, StatusDisputed, StatusRefunded, StatusCancelled},
	StatusShipped:         {StatusDelivered, StatusDisputed, StatusRefunded},
	StatusDelivered:       {StatusCompleted, StatusDisputed, StatusRefunded},
	StatusCompleted:       {StatusDisputed, StatusRefunded},
	StatusCancelled:       {},
	StatusRefunded:        {},
	StatusDisputed:        {StatusCompleted, StatusRefunded},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// HoldsFunds reports whether captured buyer funds are still retained by the
// platform while the transaction sits in this status.
func HoldsFunds(status string) bool {
	switch status {
	case StatusPaymentReceived, StatusShipped, StatusDelivered, StatusDisputed:
		return true
	}
	return false
}

// IsActiveDispute reports whether the dispute sub-status still blocks
// settlement. Resolved disputes are inactive.
func IsActiveDispute(disputeStatus *string) bool {
	if disputeStatus == nil {
		return false
	}
	return *disputeStatus != DisputeResolvedBuyer && *disputeStatus != DisputeResolvedSeller
}

// IsActiveReturn reports whether the return sub-status still blocks
// settlement. Rejected and refunded returns are terminal.
func IsActiveReturn(returnStatus *string) bool {
	if returnStatus == nil {
		return false
	}
	return *returnStatus != ReturnRejected && *returnStatus != ReturnRefunded
}

// Transaction is the permanent ledger record of a single sale. It is created
// at payment-intent creation and never deleted; all mutations go through
// conditional status writes.
type Transaction struct {
	ID        uuid.UUID `json:"id"`
	ListingID uuid.UUID `json:"listing_id"`
	BuyerID   uuid.UUID `json:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id"`

	// Money, integer cents. Never compared through floats.
	SalePriceCents   int64 `json:"sale_price_cents"`
	PlatformFeeCents int64 `json:"platform_fee_cents"`
	StripeFeeCents   int64 `json:"stripe_fee_cents"`
	TotalAmountCents int64 `json:"total_amount_cents"`

	// Processor linkage. StripeStatus is informational only.
	PaymentIntentID string  `json:"payment_intent_id"`
	ChargeID        *string `json:"charge_id,omitempty"`
	DisputeID       *string `json:"dispute_id,omitempty"`
	StripeStatus    *string `json:"stripe_status,omitempty"`

	Status string `json:"status"`

	// Shipping
	TrackingNumber  *string    `json:"tracking_number,omitempty"`
	ShippingCarrier *string    `json:"shipping_carrier,omitempty"`
	ShippedAt       *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`

	// Escrow. EscrowReleaseAt == nil means not scheduled or paused.
	FundsHeld       bool       `json:"funds_held"`
	EscrowReleaseAt *time.Time `json:"escrow_release_at,omitempty"`
	FundsReleasedAt *time.Time `json:"funds_released_at,omitempty"`

	// Dispute sub-state
	DisputeStatus *string `json:"dispute_status,omitempty"`
	DisputeReason *string `json:"dispute_reason,omitempty"`

	// Return sub-state
	ReturnStatus          *string    `json:"return_status,omitempty"`
	ReturnReason          *string    `json:"return_reason,omitempty"`
	ReturnRejectionReason *string    `json:"return_rejection_reason,omitempty"`
	ReturnRequestedAt     *time.Time `json:"return_requested_at,omitempty"`
	ReturnRespondedAt     *time.Time `json:"return_responded_at,omitempty"`
	ReturnShippedAt       *time.Time `json:"return_shipped_at,omitempty"`
	ReturnReceivedAt      *time.Time `json:"return_received_at,omitempty"`
	ReturnTrackingNumber  *string    `json:"return_tracking_number,omitempty"`
	ReturnCarrier         *string    `json:"return_carrier,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasActiveDispute reports whether an unresolved dispute blocks settlement.
func (t *Transaction) HasActiveDispute() bool {
	return IsActiveDispute(t.DisputeStatus)
}

// HasActiveReturn reports whether an unresolved return blocks settlement.
func (t *Transaction) HasActiveReturn() bool {
	return IsActiveReturn(t.ReturnStatus)
}
