package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/events"
	"github.com/peerbay/backend/internal/models"
	"github.com/peerbay/backend/internal/repositories"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// WebhookService applies Stripe order-stream events to the ledger. Delivery
// is at-least-once and unordered, so every handler resolves the row by its
// processor identifier and applies one conditional write; a write that does
// not apply is a duplicate or an out-of-order arrival and is acknowledged
// without side effects.
type WebhookService struct {
	txRepo    TransactionStore
	userRepo  UserStore
	auditRepo AuditStore
	notifier  Notifier
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewWebhookService(
	txRepo TransactionStore,
	userRepo UserStore,
	auditRepo AuditStore,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *WebhookService {
	return &WebhookService{
		txRepo:    txRepo,
		userRepo:  userRepo,
		auditRepo: auditRepo,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// HandleOrderEvent dispatches one verified order-stream event. A nil return
// means the event is acknowledged; unknown types and rows we cannot resolve
// are acknowledged too, since redelivery cannot fix them.
func (s *WebhookService) HandleOrderEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		return s.handlePaymentSucceeded(ctx, event)
	case "payment_intent.payment_failed":
		return s.handlePaymentFailed(ctx, event)
	case "account.updated":
		return s.handleAccountUpdated(ctx, event)
	case "charge.dispute.created":
		return s.handleDisputeCreated(ctx, event)
	case "charge.dispute.updated":
		return s.handleDisputeUpdated(ctx, event)
	case "charge.dispute.closed":
		return s.handleDisputeClosed(ctx, event)
	case "charge.refunded":
		return s.handleChargeRefunded(ctx, event)
	default:
		s.log.Debug("ignoring unhandled webhook event", zap.String("type", event.Type))
		return nil
	}
}

func (s *WebhookService) handlePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("parse payment_intent: %w", err)
	}

	t, err := s.txRepo.GetByPaymentIntentID(ctx, pi.ID)
	if err != nil {
		return s.unresolved(err, "payment_intent", pi.ID)
	}

	chargeID := ""
	if pi.Charges != nil && len(pi.Charges.Data) > 0 {
		chargeID = pi.Charges.Data[0].ID
	}

	applied, err := s.txRepo.MarkPaymentReceived(ctx, t.ID, chargeID, string(pi.Status))
	if err != nil {
		return err
	}
	if !applied {
		s.log.Info("payment_intent.succeeded did not apply, duplicate or late delivery",
			zap.String("transaction_id", t.ID.String()),
		)
		return nil
	}

	if err := s.userRepo.IncrementTradeCounters(ctx, t.BuyerID, t.SellerID); err != nil {
		s.log.Warn("failed to increment trade counters", zap.Error(err))
	}

	s.notifier.Notify(ctx, t.SellerID, models.NotifyPaymentReceived,
		"Payment received",
		fmt.Sprintf("Payment of %s captured. Ship the item to continue.", formatCents(t.TotalAmountCents)),
		"/transactions/"+t.ID.String())
	s.notifier.Notify(ctx, t.BuyerID, models.NotifyPaymentReceived,
		"Payment confirmed",
		"Your payment was captured and the seller was asked to ship.",
		"/transactions/"+t.ID.String())
	s.audit(ctx, "payment.received", t.ID, map[string]any{
		"payment_intent_id": pi.ID,
		"charge_id":         chargeID,
	})
	s.publishStatus(ctx, t.ID, models.StatusPaymentReceived)
	return nil
}

func (s *WebhookService) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("parse payment_intent: %w", err)
	}

	t, err := s.txRepo.GetByPaymentIntentID(ctx, pi.ID)
	if err != nil {
		return s.unresolved(err, "payment_intent", pi.ID)
	}

	applied, err := s.txRepo.MarkCancelled(ctx, t.ID, string(pi.Status))
	if err != nil {
		return err
	}
	if !applied {
		// A success already arrived, or the row was cancelled earlier.
		return nil
	}

	s.notifier.Notify(ctx, t.BuyerID, models.NotifyPaymentFailed,
		"Payment failed",
		"Your payment could not be captured and the order was cancelled.",
		"/transactions/"+t.ID.String())
	s.audit(ctx, "payment.failed", t.ID, map[string]any{"payment_intent_id": pi.ID})
	s.publishStatus(ctx, t.ID, models.StatusCancelled)
	return nil
}

func (s *WebhookService) handleAccountUpdated(ctx context.Context, event stripe.Event) error {
	var acct stripe.Account
	if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
		return fmt.Errorf("parse account: %w", err)
	}
	if err := s.userRepo.SetPayoutsEnabled(ctx, acct.ID, acct.PayoutsEnabled); err != nil {
		s.log.Warn("failed to update payouts flag",
			zap.String("stripe_account_id", acct.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (s *WebhookService) handleDisputeCreated(ctx context.Context, event stripe.Event) error {
	var d stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
		return fmt.Errorf("parse dispute: %w", err)
	}
	if d.Charge == nil {
		s.log.Warn("dispute event without charge", zap.String("dispute_id", d.ID))
		return nil
	}

	t, err := s.txRepo.GetByChargeID(ctx, d.Charge.ID)
	if err != nil {
		return s.unresolved(err, "charge", d.Charge.ID)
	}

	reason := string(d.Reason)
	applied, err := s.txRepo.OpenChargeback(ctx, t.ID, d.ID, reason)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.notifier.Notify(ctx, t.SellerID, models.NotifyDisputeOpened,
		"Chargeback opened",
		"The buyer's bank opened a chargeback. Settlement is frozen until it resolves.",
		"/transactions/"+t.ID.String())
	s.notifier.Notify(ctx, t.BuyerID, models.NotifyDisputeOpened,
		"Chargeback opened",
		"A chargeback was opened with your bank for this purchase.",
		"/transactions/"+t.ID.String())
	for _, adminID := range s.cfg.AdminUserIDs {
		s.notifier.Notify(ctx, adminID, models.NotifyDisputeOpened,
			"Chargeback opened",
			fmt.Sprintf("Transaction %s: %s", t.ID, reason),
			"/admin/transactions/"+t.ID.String())
	}
	s.audit(ctx, "chargeback.opened", t.ID, map[string]any{
		"dispute_id": d.ID,
		"reason":     reason,
	})
	s.publishStatus(ctx, t.ID, models.StatusDisputed)
	return nil
}

func (s *WebhookService) handleDisputeUpdated(ctx context.Context, event stripe.Event) error {
	var d stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
		return fmt.Errorf("parse dispute: %w", err)
	}
	_, err := s.txRepo.MarkDisputeUnderReview(ctx, d.ID)
	return err
}

func (s *WebhookService) handleDisputeClosed(ctx context.Context, event stripe.Event) error {
	var d stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &d); err != nil {
		return fmt.Errorf("parse dispute: %w", err)
	}

	t, err := s.txRepo.GetByDisputeID(ctx, d.ID)
	if err != nil {
		return s.unresolved(err, "dispute", d.ID)
	}

	switch d.Status {
	case stripe.DisputeStatusLost:
		applied, err := s.txRepo.ResolveChargebackBuyer(ctx, t.ID)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		s.notifier.Notify(ctx, t.BuyerID, models.NotifyDisputeResolved,
			"Chargeback resolved",
			"The chargeback was resolved in your favor and the payment was returned.",
			"/transactions/"+t.ID.String())
		s.notifier.Notify(ctx, t.SellerID, models.NotifyDisputeResolved,
			"Chargeback resolved",
			"The chargeback was resolved in the buyer's favor.",
			"/transactions/"+t.ID.String())
		s.audit(ctx, "chargeback.resolved_buyer", t.ID, map[string]any{"dispute_id": d.ID})
		s.publishStatus(ctx, t.ID, models.StatusRefunded)

	case stripe.DisputeStatusWon:
		applied, err := s.txRepo.ResolveChargebackSeller(ctx, t.ID)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}
		s.notifier.Notify(ctx, t.SellerID, models.NotifyDisputeResolved,
			"Chargeback resolved",
			"The chargeback was resolved in your favor and settlement resumed.",
			"/transactions/"+t.ID.String())
		s.notifier.Notify(ctx, t.BuyerID, models.NotifyDisputeResolved,
			"Chargeback resolved",
			"The chargeback was resolved in the seller's favor.",
			"/transactions/"+t.ID.String())
		s.audit(ctx, "chargeback.resolved_seller", t.ID, map[string]any{"dispute_id": d.ID})
		s.publishStatus(ctx, t.ID, models.StatusCompleted)

	default:
		s.log.Info("dispute closed with non-terminal status",
			zap.String("dispute_id", d.ID),
			zap.String("status", string(d.Status)),
		)
	}
	return nil
}

func (s *WebhookService) handleChargeRefunded(ctx context.Context, event stripe.Event) error {
	var ch stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
		return fmt.Errorf("parse charge: %w", err)
	}

	t, err := s.txRepo.GetByChargeID(ctx, ch.ID)
	if err != nil {
		return s.unresolved(err, "charge", ch.ID)
	}

	full := ch.Refunded || ch.AmountRefunded >= ch.Amount
	applied, err := s.txRepo.MarkRefunded(ctx, t.ID, full)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.notifier.Notify(ctx, t.BuyerID, models.NotifyRefundIssued,
		"Refund issued",
		fmt.Sprintf("A refund of %s was issued to your payment method.", formatCents(ch.AmountRefunded)),
		"/transactions/"+t.ID.String())
	s.audit(ctx, "charge.refunded", t.ID, map[string]any{
		"charge_id":             ch.ID,
		"amount_refunded_cents": ch.AmountRefunded,
		"full":                  full,
	})
	if full {
		s.publishStatus(ctx, t.ID, models.StatusRefunded)
	}
	return nil
}

// unresolved acknowledges events whose processor identifier matches no row.
// Returning the error would make Stripe redeliver forever.
func (s *WebhookService) unresolved(err error, idKind, id string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.Warn("webhook event matched no transaction",
			zap.String(idKind+"_id", id),
		)
		return nil
	}
	return err
}

func (s *WebhookService) audit(ctx context.Context, action string, txID uuid.UUID, meta map[string]any) {
	entry := models.AuditLog{
		ActorType:  "system",
		Action:     action,
		EntityType: "transaction",
		EntityID:   &txID,
		Meta:       meta,
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *WebhookService) publishStatus(ctx context.Context, txID uuid.UUID, status string) {
	err := s.publisher.Publish(ctx, events.StreamTransaction, events.Event{
		Type: events.EventTransactionStatusChanged,
		Payload: map[string]any{
			"transaction_id": txID.String(),
			"status":         status,
		},
	})
	if err != nil {
		s.log.Warn("failed to publish transaction event", zap.Error(err))
	}
}
