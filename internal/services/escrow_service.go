package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/events"
	"github.com/peerbay/backend/internal/models"
	"go.uber.org/zap"
)

// EscrowService settles transactions whose hold period has elapsed. It is
// driven by the worker ticker and by the authenticated HTTP trigger; both
// paths funnel through ReleaseDue so concurrent runs are safe.
type EscrowService struct {
	txRepo    TransactionStore
	auditRepo AuditStore
	notifier  Notifier
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewEscrowService(
	txRepo TransactionStore,
	auditRepo AuditStore,
	notifier Notifier,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		txRepo:    txRepo,
		auditRepo: auditRepo,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// ReleaseDue scans for due transactions and releases each one with its own
// conditional write. A row that changed between the scan and the write (a
// dispute opened, another runner got there first) simply does not apply and
// is skipped without effects.
func (s *EscrowService) ReleaseDue(ctx context.Context) (released, skipped int, err error) {
	due, err := s.txRepo.FindDueForRelease(ctx, s.cfg.ReleaseBatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, t := range due {
		applied, err := s.txRepo.Release(ctx, t.ID)
		if err != nil {
			s.log.Error("escrow release failed",
				zap.String("transaction_id", t.ID.String()),
				zap.Error(err),
			)
			return released, skipped, err
		}
		if !applied {
			skipped++
			continue
		}
		released++

		s.notifier.Notify(ctx, t.SellerID, models.NotifyFundsReleased,
			"Funds released",
			"The escrow hold ended and your funds were released.",
			"/transactions/"+t.ID.String())
		s.audit(ctx, t.ID)
		s.publish(ctx, t.ID)
	}

	if released > 0 || skipped > 0 {
		s.log.Info("escrow release pass finished",
			zap.Int("released", released),
			zap.Int("skipped", skipped),
		)
	}
	return released, skipped, nil
}

// CancelStalePending voids transactions whose payment never arrived.
func (s *EscrowService) CancelStalePending(ctx context.Context) (int64, error) {
	n, err := s.txRepo.CancelStalePending(ctx, s.cfg.PendingPaymentTimeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("cancelled stale pending transactions", zap.Int64("count", n))
	}
	return n, nil
}

func (s *EscrowService) audit(ctx context.Context, txID uuid.UUID) {
	entry := models.AuditLog{
		ActorType:  "system",
		Action:     "escrow.released",
		EntityType: "transaction",
		EntityID:   &txID,
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log", zap.Error(err))
	}
}

func (s *EscrowService) publish(ctx context.Context, txID uuid.UUID) {
	err := s.publisher.Publish(ctx, events.StreamTransaction, events.Event{
		Type: events.EventEscrowReleased,
		Payload: map[string]any{
			"transaction_id": txID.String(),
			"status":         models.StatusCompleted,
		},
	})
	if err != nil {
		s.log.Warn("failed to publish escrow event", zap.Error(err))
	}
}
