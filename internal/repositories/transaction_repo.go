package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/peerbay/backend/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

const txColumns = `
	id, listing_id, buyer_id, seller_id,
	sale_price_cents, platform_fee_cents, stripe_fee_cents, total_amount_cents,
	payment_intent_id, charge_id, dispute_id, stripe_status, status,
	tracking_number, shipping_carrier, shipped_at, delivered_at,
	funds_held, escrow_release_at, funds_released_at,
	dispute_status, dispute_reason,
	return_status, return_reason, return_rejection_reason,
	return_requested_at, return_responded_at, return_shipped_at, return_received_at,
	return_tracking_number, return_carrier,
	created_at, updated_at`

// TransactionRepo owns all access to the transactions ledger. Every
// status-changing method is a single conditional UPDATE keyed on the
// expected prior status or flag; callers branch on the returned bool, which
// reflects the affected-row count. Zero rows means the precondition no
// longer holds: idempotent no-op for system actors, conflict for users.
type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.ListingID, &t.BuyerID, &t.SellerID,
		&t.SalePriceCents, &t.PlatformFeeCents, &t.StripeFeeCents, &t.TotalAmountCents,
		&t.PaymentIntentID, &t.ChargeID, &t.DisputeID, &t.StripeStatus, &t.Status,
		&t.TrackingNumber, &t.ShippingCarrier, &t.ShippedAt, &t.DeliveredAt,
		&t.FundsHeld, &t.EscrowReleaseAt, &t.FundsReleasedAt,
		&t.DisputeStatus, &t.DisputeReason,
		&t.ReturnStatus, &t.ReturnReason, &t.ReturnRejectionReason,
		&t.ReturnRequestedAt, &t.ReturnRespondedAt, &t.ReturnShippedAt, &t.ReturnReceivedAt,
		&t.ReturnTrackingNumber, &t.ReturnCarrier,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts the ledger row at payment-intent creation time. The
// checkout flow is the only caller.
func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO transactions (listing_id, buyer_id, seller_id,
			sale_price_cents, platform_fee_cents, stripe_fee_cents, total_amount_cents,
			payment_intent_id, status, funds_held)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false)
		RETURNING id, created_at, updated_at
	`, t.ListingID, t.BuyerID, t.SellerID,
		t.SalePriceCents, t.PlatformFeeCents, t.StripeFeeCents, t.TotalAmountCents,
		t.PaymentIntentID, models.StatusPending,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *TransactionRepo) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE payment_intent_id = $1`, paymentIntentID))
}

func (r *TransactionRepo) GetByChargeID(ctx context.Context, chargeID string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE charge_id = $1`, chargeID))
}

func (r *TransactionRepo) GetByDisputeID(ctx context.Context, disputeID string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE dispute_id = $1`, disputeID))
}

type TransactionFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *string
	Limit    int
	Offset   int
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.BuyerID != nil {
		where = append(where, fmt.Sprintf("buyer_id = $%d", argIdx))
		args = append(args, *f.BuyerID)
		argIdx++
	}
	if f.SellerID != nil {
		where = append(where, fmt.Sprintf("seller_id = $%d", argIdx))
		args = append(args, *f.SellerID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ---- Primary status transitions ----

func (r *TransactionRepo) MarkPaymentReceived(ctx context.Context, id uuid.UUID, chargeID, stripeStatus string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'payment_received', charge_id = $1, stripe_status = $2,
		    funds_held = true, updated_at = now()
		WHERE id = $3 AND status = 'pending'
	`, chargeID, stripeStatus, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) MarkCancelled(ctx context.Context, id uuid.UUID, stripeStatus string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'cancelled', stripe_status = $1, updated_at = now()
		WHERE id = $2 AND status = 'pending'
	`, stripeStatus, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) MarkShipped(ctx context.Context, id uuid.UUID, trackingNumber string, carrier *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'shipped', tracking_number = $1, shipping_carrier = $2,
		    shipped_at = now(), updated_at = now()
		WHERE id = $3 AND status = 'payment_received'
	`, trackingNumber, carrier, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) MarkDelivered(ctx context.Context, id uuid.UUID, releaseAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'delivered', delivered_at = now(), escrow_release_at = $1, updated_at = now()
		WHERE id = $2 AND status = 'shipped'
	`, releaseAt, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Release performs the scheduler's auto-release. The WHERE clause re-checks
// everything at write time because a dispute or return may have been opened
// between the scan and this write.
func (r *TransactionRepo) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'completed', funds_held = false, funds_released_at = now(),
		    escrow_release_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'delivered' AND funds_held = true
		  AND escrow_release_at IS NOT NULL AND escrow_release_at <= now()
		  AND (dispute_status IS NULL OR dispute_status IN ('resolved_buyer', 'resolved_seller'))
		  AND (return_status IS NULL OR return_status IN ('rejected', 'refunded'))
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// OpenDispute covers both platform disputes and processor chargebacks
// arriving while funds are held. Clearing escrow_release_at in the same
// write pauses any scheduled auto-release.
func (r *TransactionRepo) OpenDispute(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'disputed', dispute_status = 'open', dispute_reason = $1,
		    escrow_release_at = NULL, updated_at = now()
		WHERE id = $2 AND funds_held = true
		  AND status NOT IN ('disputed', 'refunded', 'completed')
		  AND dispute_status IS NULL
	`, reason, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// OpenChargeback is the webhook variant: the processor has already pulled
// the funds into dispute, so funds_held is forced true even after release.
func (r *TransactionRepo) OpenChargeback(ctx context.Context, id uuid.UUID, disputeID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'disputed', dispute_status = 'open', dispute_id = $1, dispute_reason = $2,
		    funds_held = true, escrow_release_at = NULL, updated_at = now()
		WHERE id = $3 AND dispute_status IS NULL AND status <> 'refunded'
	`, disputeID, reason, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) MarkDisputeUnderReview(ctx context.Context, disputeID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET dispute_status = 'under_review', updated_at = now()
		WHERE dispute_id = $1 AND dispute_status = 'open'
	`, disputeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) ResolveChargebackBuyer(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'refunded', dispute_status = 'resolved_buyer', funds_held = false,
		    updated_at = now()
		WHERE id = $1 AND dispute_status IN ('open', 'under_review')
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) ResolveChargebackSeller(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'completed', dispute_status = 'resolved_seller', funds_held = false,
		    funds_released_at = COALESCE(funds_released_at, now()), updated_at = now()
		WHERE id = $1 AND dispute_status IN ('open', 'under_review')
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkRefunded applies a processor-side refund. Funds stop being held either
// way; only a full refund moves the primary status.
func (r *TransactionRepo) MarkRefunded(ctx context.Context, id uuid.UUID, full bool) (bool, error) {
	if full {
		tag, err := r.pool.Exec(ctx, `
			UPDATE transactions
			SET status = 'refunded', funds_held = false, escrow_release_at = NULL, updated_at = now()
			WHERE id = $1 AND funds_held = true
		`, id)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET funds_held = false, escrow_release_at = NULL, updated_at = now()
		WHERE id = $1 AND funds_held = true
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ---- Return sub-state transitions ----

func (r *TransactionRepo) RequestReturn(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET return_status = 'requested', return_reason = $1, return_requested_at = now(),
		    escrow_release_at = NULL, updated_at = now()
		WHERE id = $2 AND status IN ('delivered', 'completed')
		  AND (return_status IS NULL OR return_status = 'rejected')
		  AND dispute_status IS NULL
	`, reason, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) ApproveReturn(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET return_status = 'approved', return_responded_at = now(), updated_at = now()
		WHERE id = $1 AND return_status = 'requested'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RejectReturn leaves the primary status untouched. When the transaction is
// still in delivered, the escrow clock restarts from the supplied time so
// the paused auto-release can complete.
func (r *TransactionRepo) RejectReturn(ctx context.Context, id uuid.UUID, rejectionReason string, releaseAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET return_status = 'rejected', return_rejection_reason = $1, return_responded_at = now(),
		    escrow_release_at = CASE WHEN status = 'delivered' THEN $2::timestamptz ELSE escrow_release_at END,
		    updated_at = now()
		WHERE id = $3 AND return_status = 'requested'
	`, rejectionReason, releaseAt, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) MarkReturnShipped(ctx context.Context, id uuid.UUID, trackingNumber string, carrier *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET return_status = 'shipped', return_tracking_number = $1, return_carrier = $2,
		    return_shipped_at = now(), updated_at = now()
		WHERE id = $3 AND return_status = 'approved'
	`, trackingNumber, carrier, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *TransactionRepo) MarkReturnReceived(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET return_status = 'received', return_received_at = now(), updated_at = now()
		WHERE id = $1 AND return_status = 'shipped'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteReturnRefund runs only after the gateway refund succeeded.
func (r *TransactionRepo) CompleteReturnRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET return_status = 'refunded', status = 'refunded', funds_held = false,
		    updated_at = now()
		WHERE id = $1 AND return_status = 'received'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ---- Scheduler scans ----

func (r *TransactionRepo) FindDueForRelease(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+txColumns+`
		FROM transactions
		WHERE status = 'delivered' AND funds_held = true
		  AND escrow_release_at IS NOT NULL AND escrow_release_at <= now()
		  AND (dispute_status IS NULL OR dispute_status IN ('resolved_buyer', 'resolved_seller'))
		  AND (return_status IS NULL OR return_status IN ('rejected', 'refunded'))
		ORDER BY escrow_release_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// CancelStalePending sweeps abandoned checkouts whose payment intent never
// resolved. The status guard in the WHERE clause makes each row's
// cancellation race-safe against a late success webhook.
func (r *TransactionRepo) CancelStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'cancelled', updated_at = now()
		WHERE status = 'pending' AND created_at < now() - ($1 || ' seconds')::interval
	`, fmt.Sprintf("%d", int(olderThan.Seconds())))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
