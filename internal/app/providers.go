/**
 * @description
 * Adapters that put Flutterwave, Monnify and Stripe behind one PaymentProvider
 * contract. Each adapter normalizes its gateway's response shape into a
 * domain.ProviderOutcome and classifies failures as definitive rejections or
 * ambiguous transport errors.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/estatehub/settlement-service/internal/domain"
	"github.com/estatehub/settlement-service/pkg/flutterwave"
	"github.com/estatehub/settlement-service/pkg/monnify"
	"github.com/estatehub/settlement-service/pkg/money"
	"github.com/estatehub/settlement-service/pkg/stripe"
)

// PaymentProvider is one integrated payment processor.
type PaymentProvider interface {
	Name() domain.Provider
	Initialize(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error)
	Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error)
	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
	ValidateSignature(signature string, body []byte) bool
	// ParseWebhook decodes an already-authenticated webhook body.
	ParseWebhook(body []byte) (*domain.WebhookEvent, error)
}

// ProviderRegistry resolves providers by name.
type ProviderRegistry struct {
	providers map[domain.Provider]PaymentProvider
}

func NewProviderRegistry(providers ...PaymentProvider) *ProviderRegistry {
	reg := &ProviderRegistry{providers: make(map[domain.Provider]PaymentProvider)}
	for _, p := range providers {
		if p != nil {
			reg.providers[p.Name()] = p
		}
	}
	return reg
}

// Get returns the provider or a validation error for unknown or unconfigured names.
func (r *ProviderRegistry) Get(name domain.Provider) (PaymentProvider, error) {
	if r != nil {
		if p, ok := r.providers[name]; ok {
			return p, nil
		}
	}
	return nil, domain.Validationf("unsupported payment provider %q", name)
}

// providerError classifies a gateway client error.
func providerError(provider domain.Provider, op string, err error) error {
	var (
		flwErr    *flutterwave.ErrorResponse
		mnfyErr   *monnify.ErrorResponse
		stripeErr *stripe.ErrorResponse
	)
	definitive := errors.As(err, &flwErr) || errors.As(err, &mnfyErr) || errors.As(err, &stripeErr)
	return &domain.ProviderError{Provider: provider, Op: op, Definitive: definitive, Err: err}
}

// FlutterwaveProvider adapts the Flutterwave client.
type FlutterwaveProvider struct {
	Client        *flutterwave.Client
	WebhookSecret string
}

func (p *FlutterwaveProvider) Name() domain.Provider { return domain.ProviderFlutterwave }

func (p *FlutterwaveProvider) Initialize(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	resp, err := p.Client.InitializePayment(ctx, flutterwave.PaymentRequest{
		TxRef:          req.Reference,
		Amount:         json.Number(money.FormatMajor(req.Amount, req.Currency)),
		Currency:       req.Currency,
		RedirectURL:    req.RedirectURL,
		PaymentOptions: flutterwavePaymentOptions(req.PaymentMethod),
		Customer:       flutterwave.Customer{Email: req.CustomerEmail, Name: req.CustomerName},
		Customizations: flutterwave.Customizations{Title: req.Title, Description: req.Description},
		Meta:           map[string]string{"source": "web"},
	})
	if err != nil {
		return nil, providerError(domain.ProviderFlutterwave, "initialize", err)
	}
	return &domain.InitializeResult{RedirectURL: resp.Data.Link}, nil
}

func (p *FlutterwaveProvider) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	resp, err := p.Client.VerifyByReference(ctx, req.Reference)
	if err != nil {
		return nil, providerError(domain.ProviderFlutterwave, "verify", err)
	}
	outcome := domain.OutcomePending
	switch strings.ToLower(resp.Data.Status) {
	case "successful":
		outcome = domain.OutcomeSucceeded
	case "failed", "cancelled":
		outcome = domain.OutcomeFailed
	}
	return &domain.VerifyResult{
		Outcome:           outcome,
		ProviderReference: resp.Data.FlwRef,
		Amount:            money.FromMajor(resp.Data.Amount, resp.Data.Currency),
		Raw:               resp.Data.Status,
	}, nil
}

func (p *FlutterwaveProvider) SignatureHeader() string { return flutterwave.SignatureHeader }

func (p *FlutterwaveProvider) ValidateSignature(signature string, body []byte) bool {
	return flutterwave.ValidateSignature(p.WebhookSecret, signature, body)
}

func (p *FlutterwaveProvider) ParseWebhook(body []byte) (*domain.WebhookEvent, error) {
	payload, err := flutterwave.ParseWebhook(body)
	if err != nil {
		return nil, domain.Validationf("%v", err)
	}
	event := &domain.WebhookEvent{
		Provider:  domain.ProviderFlutterwave,
		Type:      payload.Event,
		Reference: payload.Data.TxRef,
		Email:     payload.Data.Customer.Email,
		Amount:    money.FromMajor(payload.Data.Amount, payload.Data.Currency),
	}
	if payload.Event == flutterwave.EventChargeCompleted {
		switch strings.ToLower(payload.Data.Status) {
		case "successful":
			event.Outcome = domain.OutcomeSucceeded
		case "failed":
			event.Outcome = domain.OutcomeFailed
		}
	}
	return event, nil
}

func flutterwavePaymentOptions(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "card":
		return "card"
	case "transfer", "bank_transfer", "banktransfer":
		return "banktransfer"
	case "ussd":
		return "ussd"
	default:
		return "card,banktransfer,ussd"
	}
}

// MonnifyProvider adapts the Monnify client.
type MonnifyProvider struct {
	Client *monnify.Client
}

func (p *MonnifyProvider) Name() domain.Provider { return domain.ProviderMonnify }

func (p *MonnifyProvider) Initialize(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	resp, err := p.Client.InitTransaction(ctx, monnify.InitTransactionRequest{
		Amount:             json.Number(money.FormatMajor(req.Amount, req.Currency)),
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		PaymentReference:   req.Reference,
		PaymentDescription: req.Description,
		CurrencyCode:       req.Currency,
		RedirectURL:        req.RedirectURL,
		PaymentMethods:     monnifyPaymentMethods(req.PaymentMethod),
	})
	if err != nil {
		return nil, providerError(domain.ProviderMonnify, "initialize", err)
	}
	return &domain.InitializeResult{RedirectURL: resp.CheckoutURL, ProviderReference: resp.TransactionReference}, nil
}

func (p *MonnifyProvider) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	status, err := p.Client.QueryByPaymentReference(ctx, req.Reference)
	if err != nil {
		return nil, providerError(domain.ProviderMonnify, "verify", err)
	}
	return &domain.VerifyResult{
		Outcome:           monnifyOutcome(status.PaymentStatus),
		ProviderReference: status.TransactionReference,
		Amount:            money.FromMajor(status.AmountPaid, status.CurrencyCode),
		Raw:               status.PaymentStatus,
	}, nil
}

func monnifyOutcome(status string) domain.ProviderOutcome {
	switch strings.ToUpper(status) {
	case "PAID", "OVERPAID":
		return domain.OutcomeSucceeded
	case "FAILED", "CANCELLED", "EXPIRED", "REVERSED":
		return domain.OutcomeFailed
	default:
		return domain.OutcomePending
	}
}

func monnifyPaymentMethods(method string) []string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "card":
		return []string{"CARD"}
	case "transfer", "bank_transfer", "account_transfer":
		return []string{"ACCOUNT_TRANSFER"}
	case "ussd":
		return []string{"USSD"}
	default:
		return []string{"CARD", "ACCOUNT_TRANSFER", "USSD"}
	}
}

func (p *MonnifyProvider) SignatureHeader() string { return monnify.SignatureHeader }

func (p *MonnifyProvider) ValidateSignature(signature string, body []byte) bool {
	return monnify.ValidateSignature(p.Client.SecretKey, signature, body)
}

func (p *MonnifyProvider) ParseWebhook(body []byte) (*domain.WebhookEvent, error) {
	payload, err := monnify.ParseWebhook(body)
	if err != nil {
		return nil, domain.Validationf("%v", err)
	}
	event := &domain.WebhookEvent{
		Provider:  domain.ProviderMonnify,
		Type:      payload.EventType,
		Reference: payload.EventData.PaymentReference,
		Email:     payload.EventData.Customer.Email,
		Amount:    money.FromMajor(payload.EventData.AmountPaid, payload.EventData.CurrencyCode),
	}
	switch payload.EventType {
	case monnify.EventSuccessfulTransaction:
		event.Outcome = domain.OutcomeSucceeded
	case monnify.EventFailedTransaction:
		event.Outcome = domain.OutcomeFailed
	}
	return event, nil
}

// StripeProvider adapts Stripe Checkout.
type StripeProvider struct {
	Client        *stripe.Client
	WebhookSecret string
	Now           func() time.Time
}

func (p *StripeProvider) Name() domain.Provider { return domain.ProviderStripe }

func (p *StripeProvider) Initialize(ctx context.Context, req domain.InitializeRequest) (*domain.InitializeResult, error) {
	session, err := p.Client.CreateCheckoutSession(ctx, stripe.CheckoutSessionParams{
		ClientReferenceID: req.Reference,
		Amount:            req.Amount,
		Currency:          req.Currency,
		ProductName:       req.Title,
		Description:       req.Description,
		CustomerEmail:     req.CustomerEmail,
		SuccessURL:        req.RedirectURL,
		CancelURL:         withQuery(req.RedirectURL, "cancelled", "1"),
	})
	if err != nil {
		return nil, providerError(domain.ProviderStripe, "initialize", err)
	}
	return &domain.InitializeResult{RedirectURL: session.URL, ProviderReference: session.ID}, nil
}

func (p *StripeProvider) Verify(ctx context.Context, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	if req.ProviderReference == "" {
		return nil, &domain.ProviderError{
			Provider:   domain.ProviderStripe,
			Op:         "verify",
			Definitive: true,
			Err:        errors.New("checkout session id not recorded for reference"),
		}
	}
	session, err := p.Client.GetCheckoutSession(ctx, req.ProviderReference)
	if err != nil {
		return nil, providerError(domain.ProviderStripe, "verify", err)
	}
	return &domain.VerifyResult{
		Outcome:           stripeOutcome(session),
		ProviderReference: session.ID,
		Amount:            session.AmountTotal,
		Raw:               session.Status + "/" + session.PaymentStatus,
	}, nil
}

func stripeOutcome(session *stripe.CheckoutSession) domain.ProviderOutcome {
	switch {
	case session.PaymentStatus == "paid" || session.PaymentStatus == "no_payment_required":
		return domain.OutcomeSucceeded
	case session.Status == "expired":
		return domain.OutcomeFailed
	default:
		return domain.OutcomePending
	}
}

func (p *StripeProvider) SignatureHeader() string { return stripe.SignatureHeader }

func (p *StripeProvider) ValidateSignature(signature string, body []byte) bool {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return stripe.ValidateSignature(p.WebhookSecret, signature, body, now(), stripe.DefaultTolerance) == nil
}

func (p *StripeProvider) ParseWebhook(body []byte) (*domain.WebhookEvent, error) {
	event, err := stripe.ParseEvent(body)
	if err != nil {
		return nil, domain.Validationf("%v", err)
	}
	session := event.Data.Object
	out := &domain.WebhookEvent{
		Provider:  domain.ProviderStripe,
		Type:      event.Type,
		Reference: session.ClientReferenceID,
		Email:     session.Email(),
		Amount:    session.AmountTotal,
	}
	if out.Reference == "" {
		out.Reference = session.Metadata["reference"]
	}
	switch event.Type {
	case stripe.EventCheckoutSessionCompleted:
		// Delayed methods complete the session before funds arrive; wait for async_payment_succeeded.
		if stripeOutcome(&session) == domain.OutcomeSucceeded {
			out.Outcome = domain.OutcomeSucceeded
		}
	case stripe.EventCheckoutSessionAsyncPaymentOK:
		out.Outcome = domain.OutcomeSucceeded
	case stripe.EventCheckoutSessionExpired, stripe.EventCheckoutSessionAsyncPaymentFailed:
		out.Outcome = domain.OutcomeFailed
	}
	return out, nil
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
