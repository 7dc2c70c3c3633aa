package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/estatehub/settlement-service/internal/domain"
	"github.com/estatehub/settlement-service/internal/store"
)

// memRepo is a concurrency-safe in-memory store.Repository. Every read returns a
// deep copy so tests observe the same load/mutate/save cycle as Postgres.
type memRepo struct {
	store.Repository

	mu      sync.Mutex
	users   map[string]*domain.User
	charges map[string]*domain.ServiceCharge
	refs    map[string]string

	conflictsLeft int
	saveCalls     int
}

func newMemRepo(users ...*domain.User) *memRepo {
	r := &memRepo{
		users:   make(map[string]*domain.User),
		charges: make(map[string]*domain.ServiceCharge),
		refs:    make(map[string]string),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func cloneCharge(c *domain.ServiceCharge) *domain.ServiceCharge {
	out := *c
	out.AffectedUsers = slices.Clone(c.AffectedUsers)
	out.PaidBy = slices.Clone(c.PaidBy)
	out.Payments = make([]domain.Payment, len(c.Payments))
	for i, p := range c.Payments {
		if p.PaidAt != nil {
			paidAt := *p.PaidAt
			p.PaidAt = &paidAt
		}
		out.Payments[i] = p
	}
	return &out
}

func (r *memRepo) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r *memRepo) CreateServiceCharge(ctx context.Context, charge *domain.ServiceCharge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if charge.Version == 0 {
		charge.Version = 1
	}
	r.charges[charge.ID] = cloneCharge(charge)
	for _, p := range charge.Payments {
		r.refs[p.Reference] = charge.ID
	}
	return nil
}

func (r *memRepo) GetServiceCharge(ctx context.Context, chargeID string) (*domain.ServiceCharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charges[chargeID]
	if !ok {
		return nil, fmt.Errorf("service charge %s: %w", chargeID, domain.ErrNotFound)
	}
	return cloneCharge(c), nil
}

func (r *memRepo) FindByPaymentReference(ctx context.Context, reference string) (*domain.ServiceCharge, error) {
	r.mu.Lock()
	chargeID, ok := r.refs[reference]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", reference, domain.ErrNotFound)
	}
	return r.GetServiceCharge(ctx, chargeID)
}

func (r *memRepo) ListServiceCharges(ctx context.Context, params store.ListChargesParams) ([]domain.ServiceCharge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ServiceCharge
	for _, c := range r.charges {
		if params.EstateID != "" && c.EstateID != params.EstateID {
			continue
		}
		if params.Status != "" && c.Status != params.Status {
			continue
		}
		if params.AffectedUserID != "" && c.CreatedBy != params.AffectedUserID && !c.IsAffected(params.AffectedUserID) {
			continue
		}
		out = append(out, *cloneCharge(c))
	}
	return out, nil
}

func (r *memRepo) SaveServiceCharge(ctx context.Context, charge *domain.ServiceCharge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	stored, ok := r.charges[charge.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		stored.Version++
	}
	if stored.Version != charge.Version {
		return store.ErrVersionConflict
	}
	next := cloneCharge(charge)
	next.Payments = stored.Payments
	next.RecomputePaidBy()
	next.Version = stored.Version + 1
	r.charges[charge.ID] = next
	charge.Version = next.Version
	return nil
}

func (r *memRepo) AppendPayment(ctx context.Context, chargeID string, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charges[chargeID]
	if !ok {
		return domain.ErrNotFound
	}
	if err := c.AppendPayment(payment); err != nil {
		return err
	}
	r.refs[payment.Reference] = chargeID
	return nil
}

func (r *memRepo) SetProviderReference(ctx context.Context, reference, providerReference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charges[r.refs[reference]]
	if !ok {
		return domain.ErrNotFound
	}
	p, _ := c.PaymentByReference(reference)
	p.ProviderReference = providerReference
	return nil
}

func (r *memRepo) DeletePendingPayment(ctx context.Context, reference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charges[r.refs[reference]]
	if !ok {
		return false, nil
	}
	removed := c.RemovePendingPayment(reference)
	if removed {
		delete(r.refs, reference)
	}
	return removed, nil
}

func (r *memRepo) TransitionPayment(ctx context.Context, reference string, to domain.PaymentStatus, at time.Time) (*domain.ServiceCharge, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.charges[r.refs[reference]]
	if !ok {
		return nil, false, fmt.Errorf("payment %s: %w", reference, domain.ErrNotFound)
	}
	changed, err := c.ApplyPaymentOutcome(reference, to, at)
	if err != nil {
		return nil, false, err
	}
	if changed {
		c.Version++
	}
	return cloneCharge(c), changed, nil
}

func (r *memRepo) ListStalePendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Payment
	for _, c := range r.charges {
		for _, p := range c.Payments {
			if p.Status == domain.PaymentPending && p.CreatedAt.Before(createdBefore) {
				out = append(out, p)
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.Payment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) ListPayments(ctx context.Context, params store.ListPaymentsParams) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Payment{}
	for _, c := range r.charges {
		for _, p := range c.Payments {
			if p.PaidBy == params.PaidBy && (params.Status == "" || p.Status == params.Status) {
				out = append(out, p)
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.Payment) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if params.Offset >= len(out) {
		return []domain.Payment{}, nil
	}
	out = out[params.Offset:]
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

// snapshot returns the stored charge for assertions.
func (r *memRepo) snapshot(chargeID string) *domain.ServiceCharge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneCharge(r.charges[chargeID])
}

// recordingNotifier counts notifications.
type recordingNotifier struct {
	mu        sync.Mutex
	successes []domain.PaymentNotification
	failures  []domain.PaymentNotification
	settled   []domain.PaymentNotification
	err       error
}

func (n *recordingNotifier) SendPaymentSuccess(ctx context.Context, email string, details domain.PaymentNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	details.Email = email
	n.successes = append(n.successes, details)
	return n.err
}

func (n *recordingNotifier) SendPaymentFailed(ctx context.Context, email string, details domain.PaymentNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	details.Email = email
	n.failures = append(n.failures, details)
	return n.err
}

func (n *recordingNotifier) SendChargeSettled(ctx context.Context, details domain.PaymentNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, details)
	return n.err
}

func (n *recordingNotifier) counts() (success, failed, settled int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.successes), len(n.failures), len(n.settled)
}

// fakeProvider is a scriptable PaymentProvider.
type fakeProvider struct {
	name domain.Provider

	mu           sync.Mutex
	initResult   *domain.InitializeResult
	initErr      error
	initRequests []domain.InitializeRequest
	verifyResult *domain.VerifyResult
	verifyErr    error
	verifyCalls  int
}

func (p *fakeProvider) Name() domain.Provider { return p.name }

func (p *fakeProvider) Initialize(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initRequests = append(p.initRequests, req)
	if p.initErr != nil {
		return nil, p.initErr
	}
	if p.initResult != nil {
		return p.initResult, nil
	}
	return &domain.InitializeResult{RedirectURL: "https://pay.example.com/" + req.Reference}, nil
}

func (p *fakeProvider) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifyCalls++
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	if p.verifyResult != nil {
		return p.verifyResult, nil
	}
	return &domain.VerifyResult{Outcome: domain.OutcomeSucceeded}, nil
}

func (p *fakeProvider) SignatureHeader() string { return "x-fake-signature" }

func (p *fakeProvider) ValidateSignature(signature string, body []byte) bool {
	return signature == "valid"
}

func (p *fakeProvider) ParseWebhook(body []byte) (*domain.WebhookEvent, error) {
	return &domain.WebhookEvent{Provider: p.name, Type: "charge", Reference: string(body), Outcome: domain.OutcomeSucceeded}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifyCalls
}

// fakeLimiter returns a fixed count.
type fakeLimiter struct {
	count int
	err   error
}

func (l *fakeLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return l.count, 30, l.err
}

var (
	testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	userA       = &domain.User{ID: "user-a", Email: "a@example.com", Name: "Ada", Role: domain.RoleUser, EstateID: "estate-1"}
	userB       = &domain.User{ID: "user-b", Email: "b@example.com", Name: "Bola", Role: domain.RoleUser, EstateID: "estate-1"}
	userC       = &domain.User{ID: "user-c", Email: "c@example.com", Role: domain.RoleUser, EstateID: "estate-1"}
	admin       = &domain.User{ID: "admin-1", Email: "admin@example.com", Role: domain.RoleAdmin, EstateID: "estate-1"}
	estateAdmin = &domain.User{ID: "ea-1", Email: "ea@example.com", Role: domain.RoleEstateAdmin, EstateID: "estate-1"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	repo     *memRepo
	notifier *recordingNotifier
	service  *Service
	refs     int
}

func newTestEnv(providers ...PaymentProvider) *testEnv {
	env := &testEnv{
		repo:     newMemRepo(userA, userB, userC, admin, estateAdmin),
		notifier: &recordingNotifier{},
	}
	env.service = NewService(env.repo, NewProviderRegistry(providers...), env.notifier, nil, discardLogger(), Options{
		AppURL:          "https://estates.example.com/",
		DefaultCurrency: "NGN",
	})
	env.service.now = func() time.Time { return testNow }
	return env
}

// seedCharge stores an active charge owed by A and B.
func (e *testEnv) seedCharge(amount int64) *domain.ServiceCharge {
	c, err := domain.NewServiceCharge(domain.NewChargeParams{
		EstateID:      "estate-1",
		Title:         "Estate security",
		Description:   "Q2 security levy",
		Amount:        amount,
		Currency:      "NGN",
		Category:      domain.CategorySecurity,
		AffectedUsers: []string{userA.ID, userB.ID},
		CreatedBy:     estateAdmin.ID,
	}, testNow.Add(-time.Hour))
	if err != nil {
		panic(err)
	}
	c.ID = fmt.Sprintf("charge-%d", len(e.repo.charges)+1)
	_ = e.repo.CreateServiceCharge(context.Background(), c)
	return c
}

// seedPending appends a pending payment with a fixed reference.
func (e *testEnv) seedPending(chargeID, reference string, provider domain.Provider, payer *domain.User, amount int64, createdAt time.Time) {
	err := e.repo.AppendPayment(context.Background(), chargeID, domain.Payment{
		ID:        "pay-" + reference,
		Reference: reference,
		Provider:  provider,
		Amount:    amount,
		PaidBy:    payer.ID,
		CreatedAt: createdAt,
	})
	if err != nil {
		panic(err)
	}
}
