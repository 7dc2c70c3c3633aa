package domain

import "time"

// Routing keys published on the events exchange.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventChargeSettled    = "service_charge.settled"
)

// PaymentNotification is the body published for payment outcome events.
// The notification service renders it into the payer's email.
type PaymentNotification struct {
	EventID     string     `json:"event_id"`
	Reference   string     `json:"reference"`
	ChargeID    string     `json:"service_charge_id"`
	ChargeTitle string     `json:"service_charge_title"`
	Amount      int64      `json:"amount"`
	AmountMajor string     `json:"amount_major"`
	Currency    string     `json:"currency"`
	Provider    Provider   `json:"provider"`
	Email       string     `json:"email"`
	PayerID     string     `json:"payer_id"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}
