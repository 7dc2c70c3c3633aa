package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatehub/settlement-service/internal/domain"
)

// scriptedProvider answers Verify per reference.
type scriptedProvider struct {
	fakeProvider
	outcomes map[string]domain.ProviderOutcome
	errs     map[string]error
}

func (p *scriptedProvider) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	if err := p.errs[req.Reference]; err != nil {
		return nil, err
	}
	return &domain.VerifyResult{Outcome: p.outcomes[req.Reference]}, nil
}

func TestReconcilePendingPayments(t *testing.T) {
	provider := &scriptedProvider{
		fakeProvider: fakeProvider{name: domain.ProviderMonnify},
		outcomes: map[string]domain.ProviderOutcome{
			"paid":      domain.OutcomeSucceeded,
			"declined":  domain.OutcomeFailed,
			"waiting":   domain.OutcomePending,
			"abandoned": domain.OutcomePending,
		},
		errs: map[string]error{
			"flaky": &domain.ProviderError{Provider: domain.ProviderMonnify, Op: "verify", Err: errors.New("timeout")},
		},
	}
	env := newTestEnv(provider)
	charge := env.seedCharge(10000)
	env.seedPending(charge.ID, "paid", domain.ProviderMonnify, userA, 4000, testNow.Add(-30*time.Minute))
	env.seedPending(charge.ID, "declined", domain.ProviderMonnify, userB, 6000, testNow.Add(-40*time.Minute))
	env.seedPending(charge.ID, "waiting", domain.ProviderMonnify, userB, 6000, testNow.Add(-2*time.Hour))
	env.seedPending(charge.ID, "abandoned", domain.ProviderMonnify, userB, 6000, testNow.Add(-100*time.Hour))
	env.seedPending(charge.ID, "flaky", domain.ProviderMonnify, userB, 6000, testNow.Add(-90*time.Hour))
	env.seedPending(charge.ID, "fresh", domain.ProviderMonnify, userB, 6000, testNow.Add(-time.Minute))

	summary, err := env.service.ReconcilePendingPayments(context.Background(), 10*time.Minute, 72*time.Hour, 50)
	require.NoError(t, err)
	assert.Equal(t, ReconcileSummary{Scanned: 5, Completed: 1, Failed: 1, Expired: 2, Pending: 1}, summary)

	stored := env.repo.snapshot(charge.ID)
	status := map[string]domain.PaymentStatus{}
	for _, p := range stored.Payments {
		status[p.Reference] = p.Status
	}
	assert.Equal(t, map[string]domain.PaymentStatus{
		"paid":      domain.PaymentCompleted,
		"declined":  domain.PaymentFailed,
		"waiting":   domain.PaymentPending,
		"abandoned": domain.PaymentFailed,
		"flaky":     domain.PaymentFailed,
		"fresh":     domain.PaymentPending,
	}, status)
	assert.Equal(t, []string{userA.ID}, stored.PaidBy)
	assert.Equal(t, domain.ChargeActive, stored.Status)

	success, failed, _ := env.notifier.counts()
	assert.Equal(t, 1, success)
	assert.Equal(t, 3, failed)
}

func TestReconcilePendingPayments_RespectsBatchLimit(t *testing.T) {
	provider := &fakeProvider{name: domain.ProviderFlutterwave, verifyResult: &domain.VerifyResult{Outcome: domain.OutcomePending}}
	env := newTestEnv(provider)
	charge := env.seedCharge(10000)
	env.seedPending(charge.ID, "r1", domain.ProviderFlutterwave, userA, 100, testNow.Add(-3*time.Hour))
	env.seedPending(charge.ID, "r2", domain.ProviderFlutterwave, userA, 100, testNow.Add(-2*time.Hour))
	env.seedPending(charge.ID, "r3", domain.ProviderFlutterwave, userA, 100, testNow.Add(-1*time.Hour))

	summary, err := env.service.ReconcilePendingPayments(context.Background(), 10*time.Minute, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 2, summary.Pending)
	assert.Equal(t, 2, provider.calls())
}

type recordingReconciler struct {
	mu          sync.Mutex
	calls       int
	olderThan   time.Duration
	expireAfter time.Duration
	limit       int
	hasDeadline bool
	err         error
}

func (r *recordingReconciler) ReconcilePendingPayments(ctx context.Context, olderThan, expireAfter time.Duration, limit int) (ReconcileSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.olderThan, r.expireAfter, r.limit = olderThan, expireAfter, limit
	_, r.hasDeadline = ctx.Deadline()
	return ReconcileSummary{Scanned: 1}, r.err
}

func TestJobs_ReconcilePendingPayments(t *testing.T) {
	reconciler := &recordingReconciler{}
	jobs := NewJobs(reconciler, discardLogger(), JobsConfig{
		PendingAfter: 15 * time.Minute,
		ExpireAfter:  72 * time.Hour,
		BatchSize:    100,
	})

	jobs.ReconcilePendingPayments()

	assert.Equal(t, 1, reconciler.calls)
	assert.Equal(t, 15*time.Minute, reconciler.olderThan)
	assert.Equal(t, 72*time.Hour, reconciler.expireAfter)
	assert.Equal(t, 100, reconciler.limit)
	assert.True(t, reconciler.hasDeadline)

	reconciler.err = errors.New("database unavailable")
	assert.NotPanics(t, jobs.ReconcilePendingPayments)
	assert.Equal(t, 2, reconciler.calls)
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	jobs := NewJobs(&recordingReconciler{}, discardLogger(), JobsConfig{})

	require.Error(t, NewScheduler(jobs, discardLogger(), "not a schedule").Start())

	s := NewScheduler(jobs, discardLogger(), "@every 1h")
	require.NoError(t, s.Start())
	<-s.Stop().Done()
}
