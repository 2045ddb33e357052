package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/peerbay/backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `
	id, email, username, stripe_account_id, stripe_customer_id, payouts_enabled,
	subscription_id, subscription_tier, subscription_status, default_payment_method_id,
	sales_count, purchases_count, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.StripeAccountID, &u.StripeCustomerID, &u.PayoutsEnabled,
		&u.SubscriptionID, &u.SubscriptionTier, &u.SubscriptionStatus, &u.DefaultPaymentMethodID,
		&u.SalesCount, &u.PurchasesCount, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// IncrementTradeCounters bumps the seller's sales count and the buyer's
// purchases count after the payment capture transition applies.
func (r *UserRepo) IncrementTradeCounters(ctx context.Context, buyerID, sellerID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE users SET purchases_count = purchases_count + 1 WHERE id = $1`, buyerID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET sales_count = sales_count + 1 WHERE id = $1`, sellerID)
	return err
}

// SetPayoutsEnabled mirrors the connected account's payout capability from
// account.updated events.
func (r *UserRepo) SetPayoutsEnabled(ctx context.Context, stripeAccountID string, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET payouts_enabled = $1 WHERE stripe_account_id = $2
	`, enabled, stripeAccountID)
	return err
}

func (r *UserRepo) UpdateSubscription(ctx context.Context, stripeCustomerID string, subscriptionID *string, tier, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users
		SET subscription_id = $1, subscription_tier = $2, subscription_status = $3
		WHERE stripe_customer_id = $4
	`, subscriptionID, tier, status, stripeCustomerID)
	return err
}

func (r *UserRepo) SetSubscriptionStatus(ctx context.Context, stripeCustomerID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET subscription_status = $1 WHERE stripe_customer_id = $2
	`, status, stripeCustomerID)
	return err
}

func (r *UserRepo) SetDefaultPaymentMethod(ctx context.Context, stripeCustomerID, paymentMethodID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET default_payment_method_id = $1 WHERE stripe_customer_id = $2
	`, paymentMethodID, stripeCustomerID)
	return err
}

// ClearPaymentMethod detaches by payment-method id because detached events
// no longer carry the customer reference.
func (r *UserRepo) ClearPaymentMethod(ctx context.Context, paymentMethodID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET default_payment_method_id = NULL WHERE default_payment_method_id = $1
	`, paymentMethodID)
	return err
}

func (r *UserRepo) UpdateCustomerEmail(ctx context.Context, stripeCustomerID, email string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE users SET email = $1 WHERE stripe_customer_id = $2
	`, email, stripeCustomerID)
	return err
}
