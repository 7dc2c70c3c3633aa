package app

import (
	"context"
	"fmt"

	"github.com/estatehub/settlement-service/internal/domain"
)

// WebhookResult summarizes how a webhook delivery was handled.
type WebhookResult struct {
	Provider     domain.Provider      `json:"provider"`
	EventType    string               `json:"event_type"`
	Reference    string               `json:"reference,omitempty"`
	Ignored      bool                 `json:"ignored"`
	Transitioned bool                 `json:"transitioned"`
	Status       domain.PaymentStatus `json:"status,omitempty"`
}

// WebhookSignatureHeader names the header a provider signs its webhooks with.
func (s *Service) WebhookSignatureHeader(providerName domain.Provider) (string, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return "", err
	}
	return provider.SignatureHeader(), nil
}

// HandleWebhook authenticates and applies a provider notification.
//
// The signature is checked before the body is even parsed; a mismatch returns
// ErrInvalidSignature with no state touched. Replays of an already-applied event
// are acknowledged without side effects because the pending status guards the
// transition.
func (s *Service) HandleWebhook(ctx context.Context, providerName domain.Provider, signature string, body []byte) (*WebhookResult, error) {
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	if !provider.ValidateSignature(signature, body) {
		s.logger.Warn("webhook rejected", "component", "webhook", "provider", providerName, "outcome", "reject", "reason", "invalid_signature")
		return nil, domain.ErrInvalidSignature
	}

	event, err := provider.ParseWebhook(body)
	if err != nil {
		s.logger.Warn("webhook rejected", "component", "webhook", "provider", providerName, "outcome", "reject", "reason", "malformed_payload", "err", err)
		return nil, err
	}
	result := &WebhookResult{Provider: providerName, EventType: event.Type, Reference: event.Reference}
	if !event.Actionable() {
		s.logger.Info("webhook ignored", "component", "webhook", "provider", providerName, "event_type", event.Type)
		result.Ignored = true
		return result, nil
	}

	charge, err := s.repo.FindByPaymentReference(ctx, event.Reference)
	if err != nil {
		return nil, err
	}
	payment, ok := charge.PaymentByReference(event.Reference)
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", event.Reference, domain.ErrNotFound)
	}
	if payment.Provider != providerName {
		return nil, domain.Validationf("payment %s belongs to %s, not %s", event.Reference, payment.Provider, providerName)
	}

	outcome := s.checkSettledAmount(event.Outcome, event.Amount, payment, charge.Currency, "webhook")
	updated, changed, err := s.settle(ctx, event.Reference, outcome.PaymentStatus(), event.Email, "webhook")
	if err != nil {
		return nil, err
	}
	final, _ := updated.PaymentByReference(event.Reference)
	result.Transitioned = changed
	result.Status = final.Status
	return result, nil
}
