package flutterwave

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries base64(HMAC-SHA256(secret, raw body)).
const SignatureHeader = "flutterwave-signature"

// EventChargeCompleted is sent for both successful and failed charges; data.status tells them apart.
const EventChargeCompleted = "charge.completed"

// WebhookPayload is the typed body of a Flutterwave webhook.
type WebhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID       int64           `json:"id"`
		TxRef    string          `json:"tx_ref"`
		FlwRef   string          `json:"flw_ref"`
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
		Customer struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"customer"`
	} `json:"data"`
}

// ValidateSignature checks the webhook signature in constant time.
func ValidateSignature(secret, signature string, body []byte) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.TrimSpace(signature)))
}

// Sign computes the signature Flutterwave would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWebhook decodes and sanity-checks a webhook body.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid flutterwave webhook payload: %w", err)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("invalid flutterwave webhook payload: missing event")
	}
	return &payload, nil
}
