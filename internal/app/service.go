/**
 * @description
 * The settlement service: every operation on service charges and their payment
 * ledgers. It validates and authorizes requests against stored user roles,
 * talks to payment gateways through PaymentProvider adapters, and delegates
 * every pending-to-final payment transition to the repository's atomic
 * TransitionPayment so that notifications fire exactly once per reference.
 *
 * @dependencies
 * - internal/store: persistence of charges and ledgers.
 * - github.com/matoous/go-nanoid/v2: payment reference generation.
 * - github.com/google/uuid: row identifiers.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/estatehub/settlement-service/internal/domain"
	"github.com/estatehub/settlement-service/internal/store"
)

// maxSaveAttempts bounds optimistic-concurrency retries of header updates.
const maxSaveAttempts = 3

// Options carries the service-level settings taken from config.
type Options struct {
	AppURL            string
	DefaultCurrency   string
	PaymentInitLimit  int
	PaymentInitWindow time.Duration
}

// RateLimitedError is returned when a payer starts too many payments in one window.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many payment attempts; retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitedError) Is(target error) bool { return target == domain.ErrRateLimited }

// Service implements the settlement operations.
type Service struct {
	repo      store.Repository
	providers *ProviderRegistry
	notifier  Notifier
	limiter   RateLimiter
	logger    *slog.Logger
	opts      Options

	now          func() time.Time
	newID        func() string
	newReference func() (string, error)
}

// NewService creates a new settlement service. limiter may be nil.
func NewService(repo store.Repository, providers *ProviderRegistry, notifier Notifier, limiter RateLimiter, logger *slog.Logger, opts Options) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "NGN"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		providers: providers,
		notifier:  notifier,
		limiter:   limiter,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		// 21 URL-safe characters, the nanoid default.
		newReference: func() (string, error) { return gonanoid.New() },
	}
}

// loadActor resolves the stored user behind an authenticated id. Unknown users are unauthorized.
func (s *Service) loadActor(ctx context.Context, actorID string) (*domain.User, error) {
	if actorID == "" {
		return nil, domain.ErrUnauthorized
	}
	actor, err := s.repo.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("load actor: %w", err)
	}
	return actor, nil
}

// mutateCharge loads a charge visible to actor, applies fn, and saves it,
// reloading on version conflicts.
func (s *Service) mutateCharge(ctx context.Context, actor *domain.User, chargeID string, op string, fn func(*domain.ServiceCharge) error) (*domain.ServiceCharge, error) {
	for attempt := 1; ; attempt++ {
		charge, err := s.repo.GetServiceCharge(ctx, chargeID)
		if err != nil {
			return nil, err
		}
		if !charge.IsVisibleTo(actor) {
			return nil, fmt.Errorf("service charge %s: %w", chargeID, domain.ErrNotFound)
		}
		if err := fn(charge); err != nil {
			return nil, err
		}
		err = s.repo.SaveServiceCharge(ctx, charge)
		if err == nil {
			return charge, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= maxSaveAttempts {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.logger.Warn("version conflict; retrying", "component", "settlement", "op", op, "charge_id", chargeID, "attempt", attempt)
	}
}
