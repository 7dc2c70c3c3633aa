package domain

import (
	"strings"
	"time"
)

// Provider names an integrated payment processor.
type Provider string

const (
	ProviderFlutterwave Provider = "flutterwave"
	ProviderMonnify     Provider = "monnify"
	ProviderStripe      Provider = "stripe"
)

// ParseProvider normalizes a provider name from a path, query string or payload.
func ParseProvider(raw string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderFlutterwave:
		return ProviderFlutterwave, true
	case ProviderMonnify:
		return ProviderMonnify, true
	case ProviderStripe:
		return ProviderStripe, true
	default:
		return "", false
	}
}

// PaymentStatus is the lifecycle state of one payment attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// NormalizePaymentStatus folds the legacy spellings into the three canonical states.
// "success" was written by older verification paths and means completed.
func NormalizePaymentStatus(raw string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "success", "successful", "paid":
		return PaymentCompleted
	case "failed", "failure", "cancelled", "expired":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

// PaymentMetadata is opaque caller context carried alongside a payment.
type PaymentMetadata struct {
	PaymentMethod string `json:"paymentMethod,omitempty"`
	Description   string `json:"description,omitempty"`
}

// Payment is one entry of a service charge's payment sub-ledger.
type Payment struct {
	ID                string          `json:"id"`
	ChargeID          string          `json:"service_charge_id"`
	Reference         string          `json:"reference"`
	Provider          Provider        `json:"provider"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	Amount            int64           `json:"amount"`
	Status            PaymentStatus   `json:"status"`
	PaidBy            string          `json:"paid_by"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	Metadata          PaymentMetadata `json:"metadata"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (p Payment) IsCompleted() bool { return p.Status == PaymentCompleted }
