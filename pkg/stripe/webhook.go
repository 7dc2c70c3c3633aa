package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the header Stripe signs webhook deliveries with.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds how old a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

const (
	EventCheckoutSessionCompleted          = "checkout.session.completed"
	EventCheckoutSessionExpired            = "checkout.session.expired"
	EventCheckoutSessionAsyncPaymentFailed = "checkout.session.async_payment_failed"
	EventCheckoutSessionAsyncPaymentOK     = "checkout.session.async_payment_succeeded"
)

var (
	ErrMissingSignature = errors.New("stripe signature header is malformed")
	ErrSignatureExpired = errors.New("stripe signature timestamp outside tolerance")
	ErrSignatureInvalid = errors.New("stripe signature mismatch")
)

// Event is the typed envelope of a Stripe webhook whose object is a checkout session.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object CheckoutSession `json:"object"`
	} `json:"data"`
}

// Sign builds a Stripe-Signature header value for body at timestamp t.
func Sign(secret string, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + computeSignature(secret, ts, body)
}

func computeSignature(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks a Stripe-Signature header against body.
// Any of several v1 entries may match, which is how Stripe rolls secrets.
func ValidateSignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return ErrSignatureInvalid
	}
	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrMissingSignature
	}
	if age := now.Sub(time.Unix(unix, 0)); tolerance > 0 && (age > tolerance || age < -tolerance) {
		return ErrSignatureExpired
	}

	expected := []byte(computeSignature(secret, ts, body))
	for _, candidate := range candidates {
		if hmac.Equal(expected, []byte(candidate)) {
			return nil
		}
	}
	return ErrSignatureInvalid
}

// ParseEvent decodes a webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("invalid stripe event payload: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("invalid stripe event payload: missing type")
	}
	return &event, nil
}
