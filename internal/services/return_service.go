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
	"go.uber.org/zap"
)

// ReturnService runs the buyer-return flow: request, seller response,
// return shipment and the refund on receipt. The refund is full by
// definition; partial settlements go through disputes.
type ReturnService struct {
	txRepo      TransactionStore
	listingRepo ListingStore
	auditRepo   AuditStore
	notifier    Notifier
	gateway     PaymentGateway
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewReturnService(
	txRepo TransactionStore,
	listingRepo ListingStore,
	auditRepo AuditStore,
	notifier Notifier,
	gateway PaymentGateway,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *ReturnService {
	return &ReturnService{
		txRepo:      txRepo,
		listingRepo: listingRepo,
		auditRepo:   auditRepo,
		notifier:    notifier,
		gateway:     gateway,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

// Request opens a return. Buyer only, listing must accept returns, and the
// request must land inside the return window counted from delivery.
func (s *ReturnService) Request(ctx context.Context, id, userID uuid.UUID, reason string) (*models.Transaction, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != userID {
		return nil, forbidden("only the buyer can request a return")
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validation("return reason is required")
	}

	listing, err := s.listingRepo.GetByID(ctx, t.ListingID)
	if err != nil {
		return nil, err
	}
	if !listing.AcceptsReturns {
		return nil, validation("this listing does not accept returns")
	}

	if t.DeliveredAt == nil {
		return nil, conflict("returns can only be requested after delivery")
	}
	windowDays := s.cfg.ReturnWindowDaysDefault
	if listing.ReturnWindowDays > 0 {
		windowDays = listing.ReturnWindowDays
	}
	deadline := t.DeliveredAt.Add(time.Duration(windowDays) * 24 * time.Hour)
	if time.Now().UTC().After(deadline) {
		return nil, validation("return window has expired")
	}

	applied, err := s.txRepo.RequestReturn(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	if !applied {
		if t.HasActiveReturn() {
			return nil, conflict("a return is already in progress")
		}
		if t.HasActiveDispute() {
			return nil, conflict("cannot request a return while a dispute is open")
		}
		return nil, conflict(fmt.Sprintf("cannot request a return for a transaction in status %s", t.Status))
	}

	s.notifier.Notify(ctx, t.SellerID, models.NotifyReturnRequested,
		"Return requested",
		reason,
		"/transactions/"+id.String())
	s.audit(ctx, &userID, "return.requested", id, map[string]any{"reason": reason})

	return s.txRepo.GetByID(ctx, id)
}

// Approve accepts a pending return request. Seller only.
func (s *ReturnService) Approve(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.SellerID != userID {
		return nil, forbidden("only the seller can respond to a return request")
	}

	applied, err := s.txRepo.ApproveReturn(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, conflict("no pending return request to approve")
	}

	s.notifier.Notify(ctx, t.BuyerID, models.NotifyReturnApproved,
		"Return approved",
		"Ship the item back to complete your return.",
		"/transactions/"+id.String())
	s.audit(ctx, &userID, "return.approved", id, nil)

	return s.txRepo.GetByID(ctx, id)
}

// Reject declines a pending return request. If the transaction was still
// in its escrow window the release clock is reinstated from now.
func (s *ReturnService) Reject(ctx context.Context, id, userID uuid.UUID, rejectionReason string) (*models.Transaction, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.SellerID != userID {
		return nil, forbidden("only the seller can respond to a return request")
	}

	rejectionReason = strings.TrimSpace(rejectionReason)
	if rejectionReason == "" {
		return nil, validation("rejection reason is required")
	}

	releaseAt := time.Now().UTC().Add(time.Duration(s.cfg.EscrowHoldHours) * time.Hour)
	applied, err := s.txRepo.RejectReturn(ctx, id, rejectionReason, releaseAt)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, conflict("no pending return request to reject")
	}

	s.notifier.Notify(ctx, t.BuyerID, models.NotifyReturnRejected,
		"Return rejected",
		rejectionReason,
		"/transactions/"+id.String())
	s.audit(ctx, &userID, "return.rejected", id, map[string]any{"rejection_reason": rejectionReason})

	return s.txRepo.GetByID(ctx, id)
}

// Ship records the buyer's return shipment. An unrecognized tracking format
// is stored without a carrier rather than rejected.
func (s *ReturnService) Ship(ctx context.Context, id, userID uuid.UUID, trackingNumber string, carrier *string) (*models.Transaction, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BuyerID != userID {
		return nil, forbidden("only the buyer can ship a return")
	}

	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, validation("tracking number is required")
	}

	resolved := carrier
	if resolved == nil || *resolved == "" {
		if c := shipping.DetectCarrier(trackingNumber); c != shipping.CarrierUnknown {
			resolved = &c
		}
	}

	applied, err := s.txRepo.MarkReturnShipped(ctx, id, trackingNumber, resolved)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, conflict("return is not in an approved state")
	}

	s.notifier.Notify(ctx, t.SellerID, models.NotifyReturnShipped,
		"Return shipped",
		fmt.Sprintf("The buyer shipped the return, tracking number %s.", trackingNumber),
		"/transactions/"+id.String())
	s.audit(ctx, &userID, "return.shipped", id, map[string]any{"tracking_number": trackingNumber})

	return s.txRepo.GetByID(ctx, id)
}

// ConfirmReceived is the seller acknowledging the returned item. The full
// refund is issued through the gateway before the terminal write; if the
// gateway fails the return stays at received and the call is retryable.
func (s *ReturnService) ConfirmReceived(ctx context.Context, id, userID uuid.UUID) (*models.Transaction, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.SellerID != userID {
		return nil, forbidden("only the seller can confirm a return was received")
	}

	applied, err := s.txRepo.MarkReturnReceived(ctx, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A previous attempt may have marked received and then failed at
		// the gateway. Re-read and continue as a retry in that case.
		cur, err := s.txRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.ReturnStatus == nil || *cur.ReturnStatus != models.ReturnReceived {
			return nil, conflict("return is not in a shipped state")
		}
	}

	refundID, err := s.gateway.IssueRefund(ctx, t.PaymentIntentID, 0, "return received")
	if err != nil {
		s.log.Warn("return refund gateway call failed, return left at received",
			zap.String("transaction_id", id.String()),
			zap.Error(err),
		)
		return nil, upstream("refund could not be issued, try again", err)
	}

	applied, err = s.txRepo.CompleteReturnRefund(ctx, id)
	if err != nil {
		return nil, err
	}
	if applied {
		s.notifier.Notify(ctx, t.BuyerID, models.NotifyRefundIssued,
			"Refund issued",
			"Your return was received and a full refund was issued.",
			"/transactions/"+id.String())
		s.audit(ctx, &userID, "return.refunded", id, map[string]any{"refund_id": refundID})
		err = s.publisher.Publish(ctx, events.StreamTransaction, events.Event{
			Type: events.EventTransactionStatusChanged,
			Payload: map[string]any{
				"transaction_id": id.String(),
				"status":         models.StatusRefunded,
			},
		})
		if err != nil {
			s.log.Warn("failed to publish transaction event", zap.Error(err))
		}
	}

	return s.txRepo.GetByID(ctx, id)
}

func (s *ReturnService) get(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, notFound("transaction not found")
		}
		return nil, err
	}
	return t, nil
}

func (s *ReturnService) audit(ctx context.Context, actor *uuid.UUID, action string, txID uuid.UUID, meta map[string]any) {
	entry := models.AuditLog{
		ActorUserID: actor,
		ActorType:   "user",
		Action:      action,
		EntityType:  "transaction",
		EntityID:    &txID,
		Meta:        meta,
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}
