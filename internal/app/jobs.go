/**
 * @description
 * Scheduled job implementations. Each job is a plain method so cron can call
 * it directly; it builds its own bounded context and logs its outcome.
 */
package app

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler is the settlement operation the jobs drive.
type Reconciler interface {
	ReconcilePendingPayments(ctx context.Context, olderThan, expireAfter time.Duration, limit int) (ReconcileSummary, error)
}

// JobsConfig holds job tuning taken from config.
type JobsConfig struct {
	PendingAfter time.Duration
	ExpireAfter  time.Duration
	BatchSize    int
	Timeout      time.Duration
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	reconciler Reconciler
	logger     *slog.Logger
	config     JobsConfig
}

// NewJobs creates a new Jobs runner.
func NewJobs(reconciler Reconciler, logger *slog.Logger, cfg JobsConfig) *Jobs {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Jobs{reconciler: reconciler, logger: logger, config: cfg}
}

// ReconcilePendingPayments re-verifies stale pending payments.
func (j *Jobs) ReconcilePendingPayments() {
	j.logger.Info("starting pending payment reconciliation job")
	ctx, cancel := context.WithTimeout(context.Background(), j.config.Timeout)
	defer cancel()

	summary, err := j.reconciler.ReconcilePendingPayments(ctx, j.config.PendingAfter, j.config.ExpireAfter, j.config.BatchSize)
	if err != nil {
		j.logger.Error("pending payment reconciliation failed", "error", err, "scanned", summary.Scanned)
		return
	}

	j.logger.Info("pending payment reconciliation job finished",
		"scanned", summary.Scanned,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"expired", summary.Expired,
		"still_pending", summary.Pending,
		"errors", summary.Errors,
	)
}
