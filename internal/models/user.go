package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers mirrored from the billing webhook stream.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Username *string   `json:"username,omitempty"`

	// Stripe linkage
	StripeAccountID        *string `json:"stripe_account_id,omitempty"`
	StripeCustomerID       *string `json:"stripe_customer_id,omitempty"`
	PayoutsEnabled         bool    `json:"payouts_enabled"`
	SubscriptionID         *string `json:"subscription_id,omitempty"`
	SubscriptionTier       string  `json:"subscription_tier"`
	SubscriptionStatus     *string `json:"subscription_status,omitempty"`
	DefaultPaymentMethodID *string `json:"default_payment_method_id,omitempty"`

	SalesCount     int       `json:"sales_count"`
	PurchasesCount int       `json:"purchases_count"`
	CreatedAt      time.Time `json:"created_at"`
}
