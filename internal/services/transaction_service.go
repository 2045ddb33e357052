package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/events"
	"github.com/peerbay/backend/internal/models"
	"github.com/peerbay/backend/internal/repositories"
	"github.com/peerbay/backend/internal/shipping"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionService runs the buyer- and seller-initiated transitions of the
// settlement state machine. Every mutation is a single conditional write;
// when the write does not apply the caller gets a conflict and no side
// effects fire.
type TransactionService struct {
	txRepo    TransactionStore
	auditRepo AuditStore
	notifier  Notifier
	gateway   PaymentGateway
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewTransactionService(
	txRepo TransactionStore,
	auditRepo AuditStore,
	notifier Notifier,
	gateway PaymentGateway,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *TransactionService {
	return &TransactionService{
		txRepo:    txRepo,
		auditRepo: auditRepo,
		notifier:  notifier,
		gateway:   gateway,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

func (s *TransactionService) Get(ctx context.Context, id, userID uuid.UUID, isAdmin bool) (*models.Transaction, error) {
	t, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, notFound("transaction not found")
		}
		return nil, err
	}
	if t.BuyerID != userID && t.SellerID != userID && !isAdmin {
		return nil, forbidden("not a party to this transaction")
	}
	return t, nil
}

// List returns the caller's transactions on either side of the trade.
func (s *TransactionService) List(ctx context.Context, userID uuid.UUID, role string, status *string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	f := repositories.TransactionFilter{Status: status, Limit: limit, Offset: offset}
	switch role {
	case "buyer":
		f.BuyerID = &userID
	case "seller":
		f.SellerID = &userID
	default:
		return nil, validation("role must be buyer or seller")
	}
	return s.txRepo.List(ctx, f)
}

// GetEvents returns the audit trail of a transaction, visible to its
// parties and admins.
func (s *TransactionService) GetEvents(ctx context.Context, id, userID uuid.UUID, isAdmin bool, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.Get(ctx, id, userID, isAdmin); err != nil {
		return nil, err
	}
	return s.auditRepo.GetByEntity(ctx, "transaction", id, limit, offset)
}

// Ship records the outbound shipment. Seller only, from payment_received.
func (s *TransactionService) Ship(ctx context.Context, id, userID uuid.UUID, trackingNumber string, carrier *string) (*models.Transaction, error) {
	t, err := s.getForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.SellerID != userID {
		return nil, forbidden("only the seller can mark a transaction shipped")
	}

	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, validation("tracking number is required")
	}

	resolved := carrier
	if resolved == nil || *resolved == "" {
		if c := shipping.DetectCarrier(trackingNumber); c != shipping.CarrierUnknown {
			resolved = &c
		} else {
			return nil, validation("carrier could not be detected from tracking number, specify it explicitly")
		}
	}

	applied, err := s.txRepo.MarkShipped(ctx, id, trackingNumber, resolved)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, conflict(fmt.Sprintf("cannot ship a transaction in status %s", t.Status))
	}

	s.notifier.Notify(ctx, t.BuyerID, models.NotifyShipped,
		"Your order has shipped",
		fmt.Sprintf("Tracking number %s (%s)", trackingNumber, *resolved),
		"/transactions/"+id.String())
	s.audit(ctx, &userID, "user", "transaction.shipped", id, map[string]any{
		"tracking_number": trackingNumber,
		"carrier":         *resolved,
	})
	s.publishStatus(ctx, id, models.StatusShipped)

	return s.txRepo.GetByID(ctx, id)
}

// ConfirmDelivery is the buyer acknowledging receipt. It arms the escrow
// release clock.
func (s *TransactionService) ConfirmDelivery(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error) {
	t, err := s.getForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != userID {
		return nil, forbidden("only the buyer can confirm delivery")
	}

	releaseAt := time.Now().UTC().Add(time.Duration(s.cfg.EscrowHoldHours) * time.Hour)
	applied, err := s.txRepo.MarkDelivered(ctx, id, releaseAt)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, conflict(fmt.Sprintf("cannot confirm delivery for a transaction in status %s", t.Status))
	}

	s.notifier.Notify(ctx, t.SellerID, models.NotifyDelivered,
		"Order delivered",
		fmt.Sprintf("The buyer confirmed delivery. Funds release at %s unless a dispute or return opens.", releaseAt.Format(time.RFC3339)),
		"/transactions/"+id.String())
	s.audit(ctx, &userID, "user", "transaction.delivered", id, map[string]any{
		"escrow_release_at": releaseAt,
	})
	s.publishStatus(ctx, id, models.StatusDelivered)

	return s.txRepo.GetByID(ctx, id)
}

// OpenDispute freezes settlement. Either party can open one while funds are
// held; the release clock is cleared by the same conditional write.
func (s *TransactionService) OpenDispute(ctx context.Context, id, userID uuid.UUID, reason string) (*models.Transaction, error) {
	t, err := s.getForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != userID && t.SellerID != userID {
		return nil, forbidden("not a party to this transaction")
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validation("dispute reason is required")
	}

	applied, err := s.txRepo.OpenDispute(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !applied {
		if t.HasActiveDispute() {
			return nil, conflict("a dispute is already open on this transaction")
		}
		return nil, conflict(fmt.Sprintf("cannot open a dispute for a transaction in status %s", t.Status))
	}

	counterparty := t.SellerID
	if userID == t.SellerID {
		counterparty = t.BuyerID
	}
	s.notifier.Notify(ctx, counterparty, models.NotifyDisputeOpened,
		"Dispute opened",
		reason,
		"/transactions/"+id.String())
	for _, adminID := range s.cfg.AdminUserIDs {
		s.notifier.Notify(ctx, adminID, models.NotifyDisputeOpened,
			"Dispute opened",
			fmt.Sprintf("Transaction %s: %s", id, reason),
			"/admin/transactions/"+id.String())
	}
	s.audit(ctx, &userID, "user", "transaction.dispute_opened", id, map[string]any{
		"reason": reason,
	})
	s.publishStatus(ctx, id, models.StatusDisputed)

	return s.txRepo.GetByID(ctx, id)
}

// RequestRefund opens a dispute and immediately attempts the refund through
// the payment gateway. amount is a decimal string in major units; empty
// means full. If the gateway call fails the transaction stays disputed and
// the refund is retryable.
func (s *TransactionService) RequestRefund(ctx context.Context, id, userID uuid.UUID, amount *string, reason string) (*models.Transaction, error) {
	t, err := s.getForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != userID {
		return nil, forbidden("only the buyer can request a refund")
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "refund requested by buyer"
	}

	amountCents := t.TotalAmountCents
	if amount != nil && strings.TrimSpace(*amount) != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(*amount))
		if err != nil {
			return nil, validation("refund amount is not a valid decimal")
		}
		amountCents = d.Mul(decimal.NewFromInt(100)).IntPart()
		if amountCents <= 0 {
			return nil, validation("refund amount must be positive")
		}
		if amountCents > t.TotalAmountCents {
			return nil, validation("refund amount exceeds the amount paid")
		}
	}
	full := amountCents == t.TotalAmountCents

	if !t.HasActiveDispute() {
		applied, err := s.txRepo.OpenDispute(ctx, id, reason)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, conflict(fmt.Sprintf("cannot request a refund for a transaction in status %s", t.Status))
		}
		s.publishStatus(ctx, id, models.StatusDisputed)
	}

	refundID, err := s.gateway.IssueRefund(ctx, t.PaymentIntentID, amountCents, reason)
	if err != nil {
		s.log.Warn("refund gateway call failed, transaction left disputed",
			zap.String("transaction_id", id.String()),
			zap.Error(err),
		)
		return nil, upstream("refund could not be issued, try again", err)
	}

	applied, err := s.txRepo.MarkRefunded(ctx, id, full)
	if err != nil {
		return nil, err
	}
	if applied {
		s.notifier.Notify(ctx, t.BuyerID, models.NotifyRefundIssued,
			"Refund issued",
			fmt.Sprintf("A refund of %s was issued to your payment method.", formatCents(amountCents)),
			"/transactions/"+id.String())
		s.notifier.Notify(ctx, t.SellerID, models.NotifyRefundIssued,
			"Refund issued to buyer",
			fmt.Sprintf("A refund of %s was issued for this sale.", formatCents(amountCents)),
			"/transactions/"+id.String())
		s.audit(ctx, &userID, "user", "transaction.refunded", id, map[string]any{
			"refund_id":    refundID,
			"amount_cents": amountCents,
			"full":         full,
		})
		if full {
			s.publishStatus(ctx, id, models.StatusRefunded)
		}
	}

	return s.txRepo.GetByID(ctx, id)
}

func (s *TransactionService) getForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, notFound("transaction not found")
		}
		return nil, err
	}
	return t, nil
}

func (s *TransactionService) audit(ctx context.Context, actor *uuid.UUID, actorType, action string, txID uuid.UUID, meta map[string]any) {
	entry := models.AuditLog{
		ActorUserID: actor,
		ActorType:   actorType,
		Action:      action,
		EntityType:  "transaction",
		EntityID:    &txID,
		Meta:        meta,
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *TransactionService) publishStatus(ctx context.Context, txID uuid.UUID, status string) {
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

func formatCents(cents int64) string {
	return "$" + decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}
