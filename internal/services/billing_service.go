package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// BillingService applies the billing webhook stream: seller subscriptions
// and saved payment methods. These events never touch the transaction
// ledger and are keyed by Stripe customer, not by transaction.
type BillingService struct {
	userRepo UserStore
	log      *zap.Logger
}

func NewBillingService(userRepo UserStore, log *zap.Logger) *BillingService {
	return &BillingService{userRepo: userRepo, log: log}
}

func (s *BillingService) HandleBillingEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return s.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "invoice.paid":
		return s.handleInvoiceStatus(ctx, event, "active")
	case "invoice.payment_failed":
		return s.handleInvoiceStatus(ctx, event, "past_due")
	case "payment_method.attached":
		return s.handlePaymentMethodAttached(ctx, event)
	case "payment_method.detached":
		return s.handlePaymentMethodDetached(ctx, event)
	case "customer.updated":
		return s.handleCustomerUpdated(ctx, event)
	default:
		s.log.Debug("ignoring unhandled billing event", zap.String("type", event.Type))
		return nil
	}
}

func (s *BillingService) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}
	if sub.Customer == nil {
		return nil
	}

	tier := sub.Metadata["tier"]
	if tier == "" {
		tier = "premium"
	}
	return s.userRepo.UpdateSubscription(ctx, sub.Customer.ID, &sub.ID, tier, string(sub.Status))
}

func (s *BillingService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}
	if sub.Customer == nil {
		return nil
	}
	return s.userRepo.UpdateSubscription(ctx, sub.Customer.ID, nil, "free", "canceled")
}

func (s *BillingService) handleInvoiceStatus(ctx context.Context, event stripe.Event, status string) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("parse invoice: %w", err)
	}
	if inv.Customer == nil {
		return nil
	}
	return s.userRepo.SetSubscriptionStatus(ctx, inv.Customer.ID, status)
}

func (s *BillingService) handlePaymentMethodAttached(ctx context.Context, event stripe.Event) error {
	var pm stripe.PaymentMethod
	if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
		return fmt.Errorf("parse payment_method: %w", err)
	}
	if pm.Customer == nil {
		return nil
	}
	return s.userRepo.SetDefaultPaymentMethod(ctx, pm.Customer.ID, pm.ID)
}

func (s *BillingService) handlePaymentMethodDetached(ctx context.Context, event stripe.Event) error {
	var pm stripe.PaymentMethod
	if err := json.Unmarshal(event.Data.Raw, &pm); err != nil {
		return fmt.Errorf("parse payment_method: %w", err)
	}
	return s.userRepo.ClearPaymentMethod(ctx, pm.ID)
}

func (s *BillingService) handleCustomerUpdated(ctx context.Context, event stripe.Event) error {
	var cus stripe.Customer
	if err := json.Unmarshal(event.Data.Raw, &cus); err != nil {
		return fmt.Errorf("parse customer: %w", err)
	}
	if cus.Email == "" {
		return nil
	}
	return s.userRepo.UpdateCustomerEmail(ctx, cus.ID, cus.Email)
}
