package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/models"
)

func TestShipDetectsCarrierAndTransitions(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusPaymentReceived)

	got, err := svc.Ship(context.Background(), tx.ID, tx.SellerID, "1ZTRACK123", nil)
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if got.Status != models.StatusShipped {
		t.Errorf("status = %s, want shipped", got.Status)
	}
	if got.ShippingCarrier == nil || *got.ShippingCarrier != "ups" {
		t.Errorf("carrier = %v, want ups", got.ShippingCarrier)
	}
	if got.TrackingNumber == nil || *got.TrackingNumber != "1ZTRACK123" {
		t.Errorf("tracking = %v, want 1ZTRACK123", got.TrackingNumber)
	}
	if n := env.notifier.countFor(tx.BuyerID, models.NotifyShipped); n != 1 {
		t.Errorf("buyer shipped notifications = %d, want 1", n)
	}
}

func TestShipRejectsNonSeller(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusPaymentReceived)

	_, err := svc.Ship(context.Background(), tx.ID, tx.BuyerID, "1ZTRACK123", nil)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("buyer ship err = %v, want ErrForbidden", err)
	}

	_, err = svc.Ship(context.Background(), tx.ID, uuid.New(), "1ZTRACK123", nil)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger ship err = %v, want ErrForbidden", err)
	}
}

func TestShipRequiresTrackingAndResolvableCarrier(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusPaymentReceived)

	if _, err := svc.Ship(context.Background(), tx.ID, tx.SellerID, "  ", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("blank tracking err = %v, want ErrValidation", err)
	}
	if _, err := svc.Ship(context.Background(), tx.ID, tx.SellerID, "WAT-123", nil); !errors.Is(err, ErrValidation) {
		t.Errorf("unresolvable carrier err = %v, want ErrValidation", err)
	}

	// An explicit carrier bypasses detection.
	carrier := "pony_express"
	got, err := svc.Ship(context.Background(), tx.ID, tx.SellerID, "WAT-123", &carrier)
	if err != nil {
		t.Fatalf("Ship with explicit carrier: %v", err)
	}
	if got.ShippingCarrier == nil || *got.ShippingCarrier != "pony_express" {
		t.Errorf("carrier = %v, want pony_express", got.ShippingCarrier)
	}
}

func TestShipConflictsOutsidePaymentReceived(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()

	for _, status := range []string{models.StatusPending, models.StatusShipped, models.StatusDelivered, models.StatusCancelled} {
		tx := env.seedTransaction(status)
		_, err := svc.Ship(context.Background(), tx.ID, tx.SellerID, "1ZTRACK123", nil)
		if !errors.Is(err, ErrConflict) {
			t.Errorf("ship from %s err = %v, want ErrConflict", status, err)
		}
	}
}

func TestConfirmDeliveryArmsEscrowClock(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusShipped)

	before := time.Now()
	got, err := svc.ConfirmDelivery(context.Background(), tx.ID, tx.BuyerID)
	if err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	if got.Status != models.StatusDelivered {
		t.Errorf("status = %s, want delivered", got.Status)
	}
	if got.EscrowReleaseAt == nil {
		t.Fatal("escrow_release_at not set")
	}
	wantMin := before.Add(24 * time.Hour)
	wantMax := time.Now().Add(24 * time.Hour)
	if got.EscrowReleaseAt.Before(wantMin.Add(-time.Minute)) || got.EscrowReleaseAt.After(wantMax.Add(time.Minute)) {
		t.Errorf("escrow_release_at = %v, want about now+24h", got.EscrowReleaseAt)
	}
	if n := env.notifier.countFor(tx.SellerID, models.NotifyDelivered); n != 1 {
		t.Errorf("seller delivered notifications = %d, want 1", n)
	}
}

func TestConfirmDeliverySellerForbidden(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusShipped)

	if _, err := svc.ConfirmDelivery(context.Background(), tx.ID, tx.SellerID); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestOpenDisputeFreezesRelease(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusDelivered)
	env.cfg.AdminUserIDs = []uuid.UUID{uuid.New(), uuid.New()}

	got, err := svc.OpenDispute(context.Background(), tx.ID, tx.BuyerID, "item not as described")
	if err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}
	if got.Status != models.StatusDisputed {
		t.Errorf("status = %s, want disputed", got.Status)
	}
	if got.EscrowReleaseAt != nil {
		t.Error("escrow_release_at should be cleared while disputed")
	}
	if got.DisputeStatus == nil || *got.DisputeStatus != models.DisputeOpen {
		t.Errorf("dispute_status = %v, want open", got.DisputeStatus)
	}
	// Counterparty plus both admins.
	if n := env.notifier.count(models.NotifyDisputeOpened); n != 3 {
		t.Errorf("dispute notifications = %d, want 3", n)
	}
}

func TestOpenDisputeSecondOpenConflicts(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusDelivered)

	if _, err := svc.OpenDispute(context.Background(), tx.ID, tx.BuyerID, "first"); err != nil {
		t.Fatalf("first OpenDispute: %v", err)
	}
	if _, err := svc.OpenDispute(context.Background(), tx.ID, tx.SellerID, "second"); !errors.Is(err, ErrConflict) {
		t.Errorf("second OpenDispute err = %v, want ErrConflict", err)
	}
}

func TestOpenDisputeAfterReleaseConflicts(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusCompleted)

	if _, err := svc.OpenDispute(context.Background(), tx.ID, tx.BuyerID, "too late"); !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestRequestRefundFull(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusDelivered)

	got, err := svc.RequestRefund(context.Background(), tx.ID, tx.BuyerID, nil, "changed my mind")
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if got.Status != models.StatusRefunded {
		t.Errorf("status = %s, want refunded", got.Status)
	}
	if got.FundsHeld {
		t.Error("funds_held should be false after full refund")
	}
	if len(env.gateway.calls) != 1 {
		t.Fatalf("gateway calls = %d, want 1", len(env.gateway.calls))
	}
	if env.gateway.calls[0].AmountCents != tx.TotalAmountCents {
		t.Errorf("refund amount = %d, want %d", env.gateway.calls[0].AmountCents, tx.TotalAmountCents)
	}
}

func TestRequestRefundAmountValidation(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusDelivered) // total 10820 cents

	cases := []struct {
		name   string
		amount string
	}{
		{"exceeds total", "200.00"},
		{"zero", "0"},
		{"negative", "-5.00"},
		{"not a number", "ten dollars"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amount := tc.amount
			_, err := svc.RequestRefund(context.Background(), tx.ID, tx.BuyerID, &amount, "r")
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
	if len(env.gateway.calls) != 0 {
		t.Errorf("gateway calls = %d, want 0 after rejected amounts", len(env.gateway.calls))
	}
}

func TestRequestRefundPartialKeepsStatus(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusDelivered)

	amount := "50.00"
	got, err := svc.RequestRefund(context.Background(), tx.ID, tx.BuyerID, &amount, "partial damage")
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if got.Status != models.StatusDisputed {
		t.Errorf("status = %s, want disputed after partial refund", got.Status)
	}
	if got.FundsHeld {
		t.Error("funds_held should be false after partial refund")
	}
	if env.gateway.calls[0].AmountCents != 5000 {
		t.Errorf("refund amount = %d, want 5000", env.gateway.calls[0].AmountCents)
	}
}

func TestRequestRefundGatewayFailureLeavesDisputed(t *testing.T) {
	env := newTestEnv()
	env.gateway.err = errors.New("stripe is down")
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusDelivered)

	_, err := svc.RequestRefund(context.Background(), tx.ID, tx.BuyerID, nil, "r")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}

	cur, err := env.store.GetByID(context.Background(), tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != models.StatusDisputed {
		t.Errorf("status = %s, want disputed so the refund stays retryable", cur.Status)
	}
	if !cur.FundsHeld {
		t.Error("funds_held should remain true until the refund succeeds")
	}

	// Retry after the gateway recovers.
	env.gateway.err = nil
	got, err := svc.RequestRefund(context.Background(), tx.ID, tx.BuyerID, nil, "r")
	if err != nil {
		t.Fatalf("retry RequestRefund: %v", err)
	}
	if got.Status != models.StatusRefunded {
		t.Errorf("status after retry = %s, want refunded", got.Status)
	}
}

func TestRequestRefundNonBuyerForbidden(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusDelivered)

	if _, err := svc.RequestRefund(context.Background(), tx.ID, tx.SellerID, nil, "r"); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestGetEnforcesParties(t *testing.T) {
	env := newTestEnv()
	svc := env.transactionService()
	tx := env.seedTransaction(models.StatusDelivered)

	if _, err := svc.Get(context.Background(), tx.ID, tx.BuyerID, false); err != nil {
		t.Errorf("buyer Get: %v", err)
	}
	if _, err := svc.Get(context.Background(), tx.ID, tx.SellerID, false); err != nil {
		t.Errorf("seller Get: %v", err)
	}
	if _, err := svc.Get(context.Background(), tx.ID, uuid.New(), false); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger Get err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Get(context.Background(), tx.ID, uuid.New(), true); err != nil {
		t.Errorf("admin Get: %v", err)
	}
	if _, err := svc.Get(context.Background(), uuid.New(), tx.BuyerID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing Get err = %v, want ErrNotFound", err)
	}
}
