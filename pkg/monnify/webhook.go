package monnify

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries hex(HMAC-SHA512(client secret, raw body)).
const SignatureHeader = "monnify-signature"

const (
	EventSuccessfulTransaction = "SUCCESSFUL_TRANSACTION"
	EventFailedTransaction     = "FAILED_TRANSACTION"
)

// WebhookPayload is the typed body of a Monnify transaction notification.
type WebhookPayload struct {
	EventType string `json:"eventType"`
	EventData struct {
		TransactionReference string          `json:"transactionReference"`
		PaymentReference     string          `json:"paymentReference"`
		AmountPaid           decimal.Decimal `json:"amountPaid"`
		PaymentStatus        string          `json:"paymentStatus"`
		CurrencyCode         string          `json:"currencyCode"`
		Customer             struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"customer"`
	} `json:"eventData"`
}

// Sign computes the signature Monnify attaches to body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks the webhook signature in constant time.
func ValidateSignature(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// ParseWebhook decodes and sanity-checks a webhook body.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid monnify webhook payload: %w", err)
	}
	if payload.EventType == "" {
		return nil, fmt.Errorf("invalid monnify webhook payload: missing eventType")
	}
	return &payload, nil
}
