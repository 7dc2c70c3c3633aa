package app

import (
	"context"
	"errors"
	"time"

	"github.com/estatehub/settlement-service/internal/domain"
)

// ReconcileSummary counts what one reconciliation pass did.
type ReconcileSummary struct {
	Scanned   int
	Completed int
	Failed    int
	Expired   int
	Pending   int
	Errors    int
}

// ReconcilePendingPayments re-verifies payments left pending longer than olderThan,
// which covers lost webhooks and initializations whose outcome was unknown.
// Payments still pending after expireAfter are marked failed; zero disables expiry.
func (s *Service) ReconcilePendingPayments(ctx context.Context, olderThan, expireAfter time.Duration, limit int) (ReconcileSummary, error) {
	var summary ReconcileSummary
	now := s.now()
	payments, err := s.repo.ListStalePendingPayments(ctx, now.Add(-olderThan), limit)
	if err != nil {
		return summary, err
	}

	for _, payment := range payments {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Scanned++

		result, err := s.VerifyPayment(ctx, payment.Reference, payment.Provider)
		status := domain.PaymentPending
		switch {
		case err == nil:
			status = result.Status
		case errors.Is(err, domain.ErrProvider):
			s.logger.Warn("reconcile verification failed", "component", "reconcile", "reference", payment.Reference, "provider", payment.Provider, "err", err)
		default:
			summary.Errors++
			s.logger.Error("reconcile failed", "component", "reconcile", "reference", payment.Reference, "err", err)
			continue
		}

		switch status {
		case domain.PaymentCompleted:
			summary.Completed++
			continue
		case domain.PaymentFailed:
			summary.Failed++
			continue
		}

		if expireAfter > 0 && now.Sub(payment.CreatedAt) > expireAfter {
			if _, changed, err := s.settle(ctx, payment.Reference, domain.PaymentFailed, "", "expiry"); err != nil {
				summary.Errors++
				s.logger.Error("failed to expire pending payment", "component", "reconcile", "reference", payment.Reference, "err", err)
			} else if changed {
				summary.Expired++
			}
			continue
		}
		summary.Pending++
	}
	return summary, nil
}
