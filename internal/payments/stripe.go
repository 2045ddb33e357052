// Package payments wraps the Stripe API surface the transaction engine
// touches: issuing refunds and verifying inbound webhook signatures.
package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
	"go.uber.org/zap"
)

type Client struct {
	api           *client.API
	refundTimeout time.Duration
	log           *zap.Logger
}

func NewClient(secretKey string, refundTimeout time.Duration, log *zap.Logger) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)

	if refundTimeout <= 0 {
		refundTimeout = 15 * time.Second
	}

	return &Client{
		api:           api,
		refundTimeout: refundTimeout,
		log:           log,
	}
}

// IssueRefund refunds a payment intent, fully when amountCents <= 0. The
// call carries a bounded timeout so a slow gateway cannot wedge the
// transition that invoked it; on error or timeout the caller leaves its
// ledger row untouched and the operation stays retryable.
func (c *Client) IssueRefund(ctx context.Context, paymentIntentID string, amountCents int64, reason string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.refundTimeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	refund, err := c.api.Refunds.New(params)
	if err != nil {
		c.log.Warn("stripe refund failed",
			zap.String("payment_intent_id", paymentIntentID),
			zap.Int64("amount_cents", amountCents),
			zap.Error(err),
		)
		return "", fmt.Errorf("stripe refund: %w", err)
	}

	c.log.Info("stripe refund issued",
		zap.String("payment_intent_id", paymentIntentID),
		zap.String("refund_id", refund.ID),
	)
	return refund.ID, nil
}

// ParseEvent verifies the webhook signature against the stream's secret and
// returns the decoded event. Verification happens before any parsing of the
// payload body.
func ParseEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signatureHeader, secret)
}
