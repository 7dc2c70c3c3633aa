package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/estatehub/settlement-service/internal/domain"
	"github.com/estatehub/settlement-service/internal/store"
	"github.com/estatehub/settlement-service/pkg/money"
)

// InitializePaymentInput is a payer's request to pay part or all of a charge.
type InitializePaymentInput struct {
	ChargeID    string
	PayerID     string
	Provider    domain.Provider
	Amount      int64
	Method      string
	Description string
}

// InitializePaymentResult tells the caller where to send the payer.
type InitializePaymentResult struct {
	Reference   string          `json:"reference"`
	Provider    domain.Provider `json:"provider"`
	Amount      int64           `json:"amount"`
	RedirectURL string          `json:"redirect_url"`
	CallbackURL string          `json:"callback_url"`
}

// VerifyResult reports the state of a payment after verification.
type VerifyResult struct {
	Reference       string                `json:"reference"`
	Status          domain.PaymentStatus  `json:"status"`
	AlreadyVerified bool                  `json:"already_verified"`
	Charge          *domain.ServiceCharge `json:"service_charge"`
}

// InitializePayment appends a pending ledger entry and opens a hosted checkout with the provider.
//
// When the provider definitively rejects the request the pending entry is removed,
// so the ledger is unchanged. When the outcome is unknown (timeout, transport error)
// the entry stays pending for verification or reconciliation to settle.
func (s *Service) InitializePayment(ctx context.Context, in InitializePaymentInput) (*InitializePaymentResult, error) {
	provider, err := s.providers.Get(in.Provider)
	if err != nil {
		return nil, err
	}

	charge, err := s.repo.GetServiceCharge(ctx, in.ChargeID)
	if err != nil {
		return nil, err
	}
	if charge.HasPaid(in.PayerID) {
		return nil, fmt.Errorf("%w: you have already paid this service charge", domain.ErrAlreadyPaid)
	}

	payer, err := s.loadActor(ctx, in.PayerID)
	if err != nil {
		return nil, err
	}
	if !charge.IsAffected(payer.ID) {
		return nil, fmt.Errorf("%w: payer is not liable for this service charge", domain.ErrUnauthorized)
	}
	switch charge.Status {
	case domain.ChargePaid:
		return nil, fmt.Errorf("%w: service charge is already settled", domain.ErrAlreadyPaid)
	case domain.ChargeCancelled:
		return nil, fmt.Errorf("%w: service charge is cancelled", domain.ErrInvalidTransition)
	}
	if in.Amount <= 0 {
		return nil, domain.Validationf("amount must be positive")
	}
	if in.Amount > charge.Amount {
		return nil, domain.Validationf("amount %d exceeds service charge amount %d", in.Amount, charge.Amount)
	}
	method := strings.TrimSpace(in.Method)
	if method == "" {
		return nil, domain.Validationf("payment method is required")
	}

	if err := s.consumeInitQuota(ctx, payer.ID); err != nil {
		return nil, err
	}

	reference, err := s.newReference()
	if err != nil {
		return nil, fmt.Errorf("generate payment reference: %w", err)
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = "Payment for " + charge.Title
	}
	now := s.now()
	payment := domain.Payment{
		ID:        s.newID(),
		Reference: reference,
		Provider:  provider.Name(),
		Amount:    in.Amount,
		Status:    domain.PaymentPending,
		PaidBy:    payer.ID,
		Metadata:  domain.PaymentMetadata{PaymentMethod: method, Description: description},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.AppendPayment(ctx, charge.ID, payment); err != nil {
		return nil, fmt.Errorf("append payment: %w", err)
	}

	callbackURL := s.callbackURL(reference, provider.Name())
	result, err := provider.Initialize(ctx, domain.InitializeRequest{
		Reference:     reference,
		Amount:        in.Amount,
		Currency:      charge.Currency,
		CustomerEmail: payer.Email,
		CustomerName:  payer.Name,
		Title:         charge.Title,
		Description:   description,
		PaymentMethod: method,
		RedirectURL:   callbackURL,
	})
	if err != nil {
		return nil, s.handleInitFailure(ctx, provider.Name(), reference, err)
	}

	if result.ProviderReference != "" {
		if err := s.repo.SetProviderReference(ctx, reference, result.ProviderReference); err != nil {
			s.logger.Warn("failed to record provider reference", "component", "settlement", "reference", reference, "provider", provider.Name(), "err", err)
		}
	}

	s.logger.Info("payment initialized", "component", "settlement", "charge_id", charge.ID, "reference", reference, "provider", provider.Name(), "amount", in.Amount)
	return &InitializePaymentResult{
		Reference:   reference,
		Provider:    provider.Name(),
		Amount:      in.Amount,
		RedirectURL: result.RedirectURL,
		CallbackURL: callbackURL,
	}, nil
}

func (s *Service) handleInitFailure(ctx context.Context, provider domain.Provider, reference string, err error) error {
	var perr *domain.ProviderError
	if !errors.As(err, &perr) {
		perr = &domain.ProviderError{Provider: provider, Op: "initialize", Err: err}
	}
	if !perr.Definitive {
		s.logger.Warn("provider initialization outcome unknown; leaving payment pending", "component", "settlement", "reference", reference, "provider", provider, "err", err)
		return perr
	}

	// The rollback must run even if the caller has gone away.
	cleanupCtx := context.WithoutCancel(ctx)
	deleted, delErr := s.repo.DeletePendingPayment(cleanupCtx, reference)
	if delErr != nil {
		s.logger.Error("failed to remove rejected pending payment", "component", "settlement", "reference", reference, "provider", provider, "err", delErr)
	}
	s.logger.Warn("provider rejected initialization", "component", "settlement", "reference", reference, "provider", provider, "removed", deleted, "err", err)
	return perr
}

func (s *Service) consumeInitQuota(ctx context.Context, payerID string) error {
	if s.limiter == nil || s.opts.PaymentInitLimit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "payment_init", payerID, s.opts.PaymentInitLimit, s.opts.PaymentInitWindow)
	if err != nil {
		s.logger.Warn("rate limiter unavailable; allowing request", "component", "settlement", "payer", payerID, "err", err)
		return nil
	}
	if count > s.opts.PaymentInitLimit {
		return &RateLimitedError{RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (s *Service) callbackURL(reference string, provider domain.Provider) string {
	q := url.Values{}
	q.Set("ref", reference)
	q.Set("provider", string(provider))
	return strings.TrimRight(s.opts.AppURL, "/") + "/payments/verify?" + q.Encode()
}

// VerifyPayment asks the provider for the outcome of reference and settles it.
// Repeated calls after a terminal outcome return AlreadyVerified without side effects.
func (s *Service) VerifyPayment(ctx context.Context, reference string, providerName domain.Provider) (*VerifyResult, error) {
	charge, err := s.repo.FindByPaymentReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	payment, ok := charge.PaymentByReference(reference)
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", reference, domain.ErrNotFound)
	}
	if providerName != "" && providerName != payment.Provider {
		return nil, domain.Validationf("payment %s was not made with %s", reference, providerName)
	}
	if payment.Status != domain.PaymentPending {
		return &VerifyResult{Reference: reference, Status: payment.Status, AlreadyVerified: true, Charge: charge}, nil
	}

	provider, err := s.providers.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	res, err := provider.Verify(ctx, domain.VerifyRequest{Reference: reference, ProviderReference: payment.ProviderReference})
	if err != nil {
		s.logger.Warn("provider verification failed", "component", "settlement", "reference", reference, "provider", payment.Provider, "err", err)
		return nil, err
	}
	if res.ProviderReference != "" && payment.ProviderReference == "" {
		if err := s.repo.SetProviderReference(ctx, reference, res.ProviderReference); err != nil {
			s.logger.Warn("failed to record provider reference", "component", "settlement", "reference", reference, "err", err)
		}
	}

	outcome := s.checkSettledAmount(res.Outcome, res.Amount, payment, charge.Currency, "verify")
	if outcome == domain.OutcomePending {
		return &VerifyResult{Reference: reference, Status: domain.PaymentPending, Charge: charge}, nil
	}

	updated, changed, err := s.settle(ctx, reference, outcome.PaymentStatus(), "", "verify")
	if err != nil {
		return nil, err
	}
	final, _ := updated.PaymentByReference(reference)
	return &VerifyResult{Reference: reference, Status: final.Status, AlreadyVerified: !changed, Charge: updated}, nil
}

// checkSettledAmount turns a success that settled less than the payment amount into a failure.
// A zero settled amount means the gateway did not report one.
func (s *Service) checkSettledAmount(outcome domain.ProviderOutcome, settled int64, payment *domain.Payment, currency, source string) domain.ProviderOutcome {
	if outcome != domain.OutcomeSucceeded || settled <= 0 || settled >= payment.Amount {
		return outcome
	}
	s.logger.Warn("provider settled less than the payment amount", "component", "settlement", "source", source,
		"reference", payment.Reference, "expected", payment.Amount, "settled", settled, "currency", currency,
		"settled_major", money.FormatMajor(settled, currency))
	return domain.OutcomeFailed
}

// settle applies a terminal outcome through the repository and notifies only when
// this caller performed the transition.
func (s *Service) settle(ctx context.Context, reference string, to domain.PaymentStatus, fallbackEmail, source string) (*domain.ServiceCharge, bool, error) {
	charge, changed, err := s.repo.TransitionPayment(ctx, reference, to, s.now())
	if err != nil {
		return nil, false, fmt.Errorf("transition payment %s: %w", reference, err)
	}
	payment, _ := charge.PaymentByReference(reference)
	if !changed {
		if to == domain.PaymentCompleted && payment.Status == domain.PaymentFailed {
			s.logger.Error("provider reported success for a payment already marked failed; manual reconciliation required",
				"component", "settlement", "source", source, "reference", reference, "charge_id", charge.ID,
				"provider", payment.Provider, "payer", payment.PaidBy, "amount", payment.Amount)
			return charge, false, nil
		}
		s.logger.Info("payment already settled", "component", "settlement", "source", source, "reference", reference, "status", payment.Status)
		return charge, false, nil
	}

	s.logger.Info("payment settled", "component", "settlement", "source", source, "reference", reference,
		"charge_id", charge.ID, "status", payment.Status, "charge_status", charge.Status)
	s.notify(ctx, charge, payment, fallbackEmail)
	return charge, true, nil
}

func (s *Service) notify(ctx context.Context, charge *domain.ServiceCharge, payment *domain.Payment, fallbackEmail string) {
	if s.notifier == nil {
		return
	}
	details := domain.PaymentNotification{
		Reference:   payment.Reference,
		ChargeID:    charge.ID,
		ChargeTitle: charge.Title,
		Amount:      payment.Amount,
		AmountMajor: money.FormatMajor(payment.Amount, charge.Currency),
		Currency:    charge.Currency,
		Provider:    payment.Provider,
		PayerID:     payment.PaidBy,
		PaidAt:      payment.PaidAt,
		OccurredAt:  s.now(),
	}

	email := fallbackEmail
	if payer, err := s.repo.GetUser(ctx, payment.PaidBy); err == nil && payer.Email != "" {
		email = payer.Email
	}

	var err error
	switch {
	case email == "":
		s.logger.Warn("no email for payer; skipping notification", "component", "settlement", "reference", payment.Reference, "payer", payment.PaidBy)
	case payment.Status == domain.PaymentCompleted:
		err = s.notifier.SendPaymentSuccess(ctx, email, details)
	case payment.Status == domain.PaymentFailed:
		err = s.notifier.SendPaymentFailed(ctx, email, details)
	}
	if err != nil {
		s.logger.Warn("payment notification failed", "component", "settlement", "reference", payment.Reference, "err", err)
	}

	// The payment that tipped the ledger over the charge amount announces settlement.
	if payment.Status == domain.PaymentCompleted && charge.Status == domain.ChargePaid &&
		charge.CompletedAmount()-payment.Amount < charge.Amount && charge.IsFullyPaid() {
		if err := s.notifier.SendChargeSettled(ctx, details); err != nil {
			s.logger.Warn("settlement notification failed", "component", "settlement", "charge_id", charge.ID, "err", err)
		}
	}
}

// ListPaymentsFilter narrows a payment history listing.
type ListPaymentsFilter struct {
	Status domain.PaymentStatus
	Limit  int
	Offset int
}

// ListPayments returns the actor's own payments across all charges, newest first.
func (s *Service) ListPayments(ctx context.Context, actorID string, filter ListPaymentsFilter) ([]domain.Payment, error) {
	actor, err := s.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if filter.Status != "" {
		switch filter.Status {
		case domain.PaymentPending, domain.PaymentCompleted, domain.PaymentFailed:
		default:
			return nil, domain.Validationf("unknown payment status %q", filter.Status)
		}
	}
	return s.repo.ListPayments(ctx, store.ListPaymentsParams{
		PaidBy: actor.ID,
		Status: filter.Status,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}
