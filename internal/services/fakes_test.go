package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/peerbay/backend/internal/config"
	"github.com/peerbay/backend/internal/events"
	"github.com/peerbay/backend/internal/models"
	"github.com/peerbay/backend/internal/repositories"
	"go.uber.org/zap"
)

// fakeTxStore is an in-memory TransactionStore with the same conditional
// write semantics as the SQL repository: each mutation checks its
// precondition and applies atomically under one lock, so concurrent callers
// race exactly as they do against the database.
type fakeTxStore struct {
	mu  sync.Mutex
	txs map[uuid.UUID]*models.Transaction
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{txs: make(map[uuid.UUID]*models.Transaction)}
}

func (s *fakeTxStore) put(t *models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.txs[t.ID] = &cp
}

func (s *fakeTxStore) Create(ctx context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = uuid.New()
	t.Status = models.StatusPending
	t.FundsHeld = false
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	s.txs[t.ID] = &cp
	return nil
}

func (s *fakeTxStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTxStore) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.PaymentIntentID == paymentIntentID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeTxStore) GetByChargeID(ctx context.Context, chargeID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.ChargeID != nil && *t.ChargeID == chargeID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeTxStore) GetByDisputeID(ctx context.Context, disputeID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.DisputeID != nil && *t.DisputeID == disputeID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (s *fakeTxStore) List(ctx context.Context, f repositories.TransactionFilter) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if f.BuyerID != nil && t.BuyerID != *f.BuyerID {
			continue
		}
		if f.SellerID != nil && t.SellerID != *f.SellerID {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// update applies fn atomically when cond holds, mirroring RowsAffected.
func (s *fakeTxStore) update(id uuid.UUID, cond func(*models.Transaction) bool, fn func(*models.Transaction)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok || !cond(t) {
		return false, nil
	}
	fn(t)
	t.UpdatedAt = time.Now()
	return true, nil
}

func (s *fakeTxStore) MarkPaymentReceived(ctx context.Context, id uuid.UUID, chargeID, stripeStatus string) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool { return t.Status == models.StatusPending },
		func(t *models.Transaction) {
			t.Status = models.StatusPaymentReceived
			t.ChargeID = &chargeID
			t.StripeStatus = &stripeStatus
			t.FundsHeld = true
		})
}

func (s *fakeTxStore) MarkCancelled(ctx context.Context, id uuid.UUID, stripeStatus string) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool { return t.Status == models.StatusPending },
		func(t *models.Transaction) {
			t.Status = models.StatusCancelled
			t.StripeStatus = &stripeStatus
		})
}

func (s *fakeTxStore) MarkShipped(ctx context.Context, id uuid.UUID, trackingNumber string, carrier *string) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool { return t.Status == models.StatusPaymentReceived },
		func(t *models.Transaction) {
			now := time.Now()
			t.Status = models.StatusShipped
			t.TrackingNumber = &trackingNumber
			t.ShippingCarrier = carrier
			t.ShippedAt = &now
		})
}

func (s *fakeTxStore) MarkDelivered(ctx context.Context, id uuid.UUID, releaseAt time.Time) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool { return t.Status == models.StatusShipped },
		func(t *models.Transaction) {
			now := time.Now()
			t.Status = models.StatusDelivered
			t.DeliveredAt = &now
			t.EscrowReleaseAt = &releaseAt
		})
}

func (s *fakeTxStore) Release(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.Status == models.StatusDelivered && t.FundsHeld &&
				t.EscrowReleaseAt != nil && !t.EscrowReleaseAt.After(time.Now()) &&
				!models.IsActiveDispute(t.DisputeStatus) &&
				!models.IsActiveReturn(t.ReturnStatus)
		},
		func(t *models.Transaction) {
			now := time.Now()
			t.Status = models.StatusCompleted
			t.FundsHeld = false
			t.FundsReleasedAt = &now
			t.EscrowReleaseAt = nil
		})
}

func (s *fakeTxStore) OpenDispute(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.FundsHeld &&
				t.Status != models.StatusDisputed &&
				t.Status != models.StatusRefunded &&
				t.Status != models.StatusCompleted &&
				t.DisputeStatus == nil
		},
		func(t *models.Transaction) {
			open := models.DisputeOpen
			t.Status = models.StatusDisputed
			t.DisputeStatus = &open
			t.DisputeReason = &reason
			t.EscrowReleaseAt = nil
		})
}

func (s *fakeTxStore) OpenChargeback(ctx context.Context, id uuid.UUID, disputeID, reason string) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.DisputeStatus == nil && t.Status != models.StatusRefunded
		},
		func(t *models.Transaction) {
			open := models.DisputeOpen
			t.Status = models.StatusDisputed
			t.DisputeStatus = &open
			t.DisputeID = &disputeID
			t.DisputeReason = &reason
			t.FundsHeld = true
			t.EscrowReleaseAt = nil
		})
}

func (s *fakeTxStore) MarkDisputeUnderReview(ctx context.Context, disputeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.DisputeID != nil && *t.DisputeID == disputeID &&
			t.DisputeStatus != nil && *t.DisputeStatus == models.DisputeOpen {
			ur := models.DisputeUnderReview
			t.DisputeStatus = &ur
			t.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeTxStore) ResolveChargebackBuyer(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.DisputeStatus != nil &&
				(*t.DisputeStatus == models.DisputeOpen || *t.DisputeStatus == models.DisputeUnderReview)
		},
		func(t *models.Transaction) {
			rb := models.DisputeResolvedBuyer
			t.Status = models.StatusRefunded
			t.DisputeStatus = &rb
			t.FundsHeld = false
		})
}

func (s *fakeTxStore) ResolveChargebackSeller(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.DisputeStatus != nil &&
				(*t.DisputeStatus == models.DisputeOpen || *t.DisputeStatus == models.DisputeUnderReview)
		},
		func(t *models.Transaction) {
			rs := models.DisputeResolvedSeller
			t.Status = models.StatusCompleted
			t.DisputeStatus = &rs
			t.FundsHeld = false
			if t.FundsReleasedAt == nil {
				now := time.Now()
				t.FundsReleasedAt = &now
			}
		})
}

func (s *fakeTxStore) MarkRefunded(ctx context.Context, id uuid.UUID, full bool) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool { return t.FundsHeld },
		func(t *models.Transaction) {
			if full {
				t.Status = models.StatusRefunded
			}
			t.FundsHeld = false
			t.EscrowReleaseAt = nil
		})
}

func (s *fakeTxStore) RequestReturn(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			okStatus := t.Status == models.StatusDelivered || t.Status == models.StatusCompleted
			okReturn := t.ReturnStatus == nil || *t.ReturnStatus == models.ReturnRejected
			return okStatus && okReturn && t.DisputeStatus == nil
		},
		func(t *models.Transaction) {
			req := models.ReturnRequested
			now := time.Now()
			t.ReturnStatus = &req
			t.ReturnReason = &reason
			t.ReturnRequestedAt = &now
			t.EscrowReleaseAt = nil
		})
}

func (s *fakeTxStore) ApproveReturn(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.ReturnStatus != nil && *t.ReturnStatus == models.ReturnRequested
		},
		func(t *models.Transaction) {
			ap := models.ReturnApproved
			now := time.Now()
			t.ReturnStatus = &ap
			t.ReturnRespondedAt = &now
		})
}

func (s *fakeTxStore) RejectReturn(ctx context.Context, id uuid.UUID, rejectionReason string, releaseAt time.Time) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.ReturnStatus != nil && *t.ReturnStatus == models.ReturnRequested
		},
		func(t *models.Transaction) {
			rj := models.ReturnRejected
			now := time.Now()
			t.ReturnStatus = &rj
			t.ReturnRejectionReason = &rejectionReason
			t.ReturnRespondedAt = &now
			if t.Status == models.StatusDelivered {
				ra := releaseAt
				t.EscrowReleaseAt = &ra
			}
		})
}

func (s *fakeTxStore) MarkReturnShipped(ctx context.Context, id uuid.UUID, trackingNumber string, carrier *string) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.ReturnStatus != nil && *t.ReturnStatus == models.ReturnApproved
		},
		func(t *models.Transaction) {
			sh := models.ReturnShipped
			now := time.Now()
			t.ReturnStatus = &sh
			t.ReturnTrackingNumber = &trackingNumber
			t.ReturnCarrier = carrier
			t.ReturnShippedAt = &now
		})
}

func (s *fakeTxStore) MarkReturnReceived(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.ReturnStatus != nil && *t.ReturnStatus == models.ReturnShipped
		},
		func(t *models.Transaction) {
			rc := models.ReturnReceived
			now := time.Now()
			t.ReturnStatus = &rc
			t.ReturnReceivedAt = &now
		})
}

func (s *fakeTxStore) CompleteReturnRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.update(id,
		func(t *models.Transaction) bool {
			return t.ReturnStatus != nil && *t.ReturnStatus == models.ReturnReceived
		},
		func(t *models.Transaction) {
			rf := models.ReturnRefunded
			t.ReturnStatus = &rf
			t.Status = models.StatusRefunded
			t.FundsHeld = false
		})
}

func (s *fakeTxStore) FindDueForRelease(ctx context.Context, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for _, t := range s.txs {
		if t.Status == models.StatusDelivered && t.FundsHeld &&
			t.EscrowReleaseAt != nil && !t.EscrowReleaseAt.After(time.Now()) &&
			!models.IsActiveDispute(t.DisputeStatus) &&
			!models.IsActiveReturn(t.ReturnStatus) {
			out = append(out, *t)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeTxStore) CancelStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, t := range s.txs {
		if t.Status == models.StatusPending && t.CreatedAt.Before(cutoff) {
			t.Status = models.StatusCancelled
			t.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

// ---- Supporting fakes ----

type sentNotification struct {
	UserID uuid.UUID
	Type   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *fakeNotifier) Notify(ctx context.Context, userID uuid.UUID, notificationType, title, message, link string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Type: notificationType})
}

func (n *fakeNotifier) count(notificationType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.Type == notificationType {
			c++
		}
	}
	return c
}

func (n *fakeNotifier) countFor(userID uuid.UUID, notificationType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.UserID == userID && s.Type == notificationType {
			c++
		}
	}
	return c
}

type refundCall struct {
	PaymentIntentID string
	AmountCents     int64
}

type fakeGateway struct {
	mu    sync.Mutex
	err   error
	calls []refundCall
}

func (g *fakeGateway) IssueRefund(ctx context.Context, paymentIntentID string, amountCents int64, reason string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.calls = append(g.calls, refundCall{PaymentIntentID: paymentIntentID, AmountCents: amountCents})
	return "re_fake_1", nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *fakeAudit) Log(ctx context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for _, e := range a.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event)
	return nil
}

type fakeListings struct {
	listings map[uuid.UUID]*models.Listing
}

func (l *fakeListings) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	lst, ok := l.listings[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return lst, nil
}

type fakeUsers struct {
	mu              sync.Mutex
	tradeIncrements int
	payoutsEnabled  map[string]bool
	subscriptions   map[string]subscriptionState
	paymentMethods  map[string]string
	emails          map[string]string
}

func (u *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return &models.User{ID: id}, nil
}

func (u *fakeUsers) IncrementTradeCounters(ctx context.Context, buyerID, sellerID uuid.UUID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.tradeIncrements++
	return nil
}

func (u *fakeUsers) SetPayoutsEnabled(ctx context.Context, stripeAccountID string, enabled bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.payoutsEnabled == nil {
		u.payoutsEnabled = make(map[string]bool)
	}
	u.payoutsEnabled[stripeAccountID] = enabled
	return nil
}

type subscriptionState struct {
	Tier   string
	Status string
}

func (u *fakeUsers) UpdateSubscription(ctx context.Context, stripeCustomerID string, subscriptionID *string, tier, status string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.subscriptions == nil {
		u.subscriptions = make(map[string]subscriptionState)
	}
	u.subscriptions[stripeCustomerID] = subscriptionState{Tier: tier, Status: status}
	return nil
}

func (u *fakeUsers) SetSubscriptionStatus(ctx context.Context, stripeCustomerID, status string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.subscriptions == nil {
		u.subscriptions = make(map[string]subscriptionState)
	}
	s := u.subscriptions[stripeCustomerID]
	s.Status = status
	u.subscriptions[stripeCustomerID] = s
	return nil
}

func (u *fakeUsers) SetDefaultPaymentMethod(ctx context.Context, stripeCustomerID, paymentMethodID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.paymentMethods == nil {
		u.paymentMethods = make(map[string]string)
	}
	u.paymentMethods[stripeCustomerID] = paymentMethodID
	return nil
}

func (u *fakeUsers) ClearPaymentMethod(ctx context.Context, paymentMethodID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for cus, pm := range u.paymentMethods {
		if pm == paymentMethodID {
			delete(u.paymentMethods, cus)
		}
	}
	return nil
}

func (u *fakeUsers) UpdateCustomerEmail(ctx context.Context, stripeCustomerID, email string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.emails == nil {
		u.emails = make(map[string]string)
	}
	u.emails[stripeCustomerID] = email
	return nil
}

// ---- Test wiring helpers ----

func testConfig() *config.Config {
	return &config.Config{
		PlatformFeeBPS:          500,
		EscrowHoldHours:         24,
		ReturnWindowDaysDefault: 14,
		ReleaseBatchSize:        100,
		PendingPaymentTimeout:   time.Hour,
	}
}

type testEnv struct {
	store     *fakeTxStore
	listings  *fakeListings
	users     *fakeUsers
	audit     *fakeAudit
	notifier  *fakeNotifier
	gateway   *fakeGateway
	publisher *fakePublisher
	cfg       *config.Config
}

func newTestEnv() *testEnv {
	return &testEnv{
		store:     newFakeTxStore(),
		listings:  &fakeListings{listings: make(map[uuid.UUID]*models.Listing)},
		users:     &fakeUsers{},
		audit:     &fakeAudit{},
		notifier:  &fakeNotifier{},
		gateway:   &fakeGateway{},
		publisher: &fakePublisher{},
		cfg:       testConfig(),
	}
}

func (e *testEnv) transactionService() *TransactionService {
	return NewTransactionService(e.store, e.audit, e.notifier, e.gateway, e.publisher, e.cfg, zap.NewNop())
}

func (e *testEnv) returnService() *ReturnService {
	return NewReturnService(e.store, e.listings, e.audit, e.notifier, e.gateway, e.publisher, e.cfg, zap.NewNop())
}

func (e *testEnv) escrowService() *EscrowService {
	return NewEscrowService(e.store, e.audit, e.notifier, e.publisher, e.cfg, zap.NewNop())
}

func (e *testEnv) webhookService() *WebhookService {
	return NewWebhookService(e.store, e.users, e.audit, e.notifier, e.publisher, e.cfg, zap.NewNop())
}

// seedTransaction inserts a ledger row in the given status with sensible
// escrow flags for that status.
func (e *testEnv) seedTransaction(status string) *models.Transaction {
	t := &models.Transaction{
		ID:               uuid.New(),
		ListingID:        uuid.New(),
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		SalePriceCents:   10000,
		PlatformFeeCents: 500,
		StripeFeeCents:   320,
		TotalAmountCents: 10820,
		PaymentIntentID:  "pi_" + uuid.NewString()[:8],
		Status:           status,
		FundsHeld:        models.HoldsFunds(status),
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	switch status {
	case models.StatusShipped:
		now := time.Now()
		tn := "1Z999AA10123456784"
		c := "ups"
		t.TrackingNumber = &tn
		t.ShippingCarrier = &c
		t.ShippedAt = &now
	case models.StatusDelivered, models.StatusCompleted:
		shipped := time.Now().Add(-48 * time.Hour)
		delivered := time.Now().Add(-2 * time.Hour)
		t.ShippedAt = &shipped
		t.DeliveredAt = &delivered
		if status == models.StatusDelivered {
			release := delivered.Add(24 * time.Hour)
			t.EscrowReleaseAt = &release
		}
	}
	if status != models.StatusPending {
		ch := "ch_" + uuid.NewString()[:8]
		t.ChargeID = &ch
	}
	e.store.put(t)
	return t
}
