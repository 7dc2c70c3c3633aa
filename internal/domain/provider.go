package domain

// ProviderOutcome is a gateway's verdict on one reference, normalized across processors.
type ProviderOutcome string

const (
	OutcomeSucceeded ProviderOutcome = "succeeded"
	OutcomeFailed    ProviderOutcome = "failed"
	OutcomePending   ProviderOutcome = "pending"
)

// PaymentStatus maps an outcome to the ledger state it drives.
func (o ProviderOutcome) PaymentStatus() PaymentStatus {
	switch o {
	case OutcomeSucceeded:
		return PaymentCompleted
	case OutcomeFailed:
		return PaymentFailed
	default:
		return PaymentPending
	}
}

// InitializeRequest is what every gateway needs to open a hosted checkout.
type InitializeRequest struct {
	Reference     string
	Amount        int64
	Currency      string
	CustomerEmail string
	CustomerName  string
	Title         string
	Description   string
	PaymentMethod string
	RedirectURL   string
}

// InitializeResult is the gateway's answer to an initialization.
type InitializeResult struct {
	RedirectURL       string
	ProviderReference string
}

// VerifyRequest identifies the attempt to verify.
type VerifyRequest struct {
	Reference         string
	ProviderReference string
}

// VerifyResult is the normalized gateway verification answer.
type VerifyResult struct {
	Outcome           ProviderOutcome
	ProviderReference string
	Amount            int64
	Raw               string
}

// WebhookEvent is a signature-checked, strongly typed provider notification.
// Outcome is empty for event types the settlement core does not act on.
type WebhookEvent struct {
	Provider  Provider
	Type      string
	Reference string
	Outcome   ProviderOutcome
	Email     string
	// Amount is what the gateway reports as settled, in minor units. Zero when the payload omits it.
	Amount int64
}

// Actionable reports whether the event drives a ledger transition.
func (e *WebhookEvent) Actionable() bool {
	return e != nil && e.Reference != "" && (e.Outcome == OutcomeSucceeded || e.Outcome == OutcomeFailed)
}
