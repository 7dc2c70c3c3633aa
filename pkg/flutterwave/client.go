/**
 * @description
 * Client for the Flutterwave v3 Standard checkout API. It opens hosted payment
 * links keyed by our transaction reference (tx_ref) and verifies them by the same
 * reference, so callers never need Flutterwave's numeric transaction id.
 *
 * @dependencies
 * - net/http, encoding/json: request/response handling.
 * - github.com/shopspring/decimal: amounts travel in major units.
 */
package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the Flutterwave API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Flutterwave API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Customer identifies the payer on the hosted page.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Customizations controls the hosted page branding.
type Customizations struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// PaymentRequest is the payload for POST /v3/payments.
type PaymentRequest struct {
	TxRef          string            `json:"tx_ref"`
	Amount         json.Number       `json:"amount"`
	Currency       string            `json:"currency"`
	RedirectURL    string            `json:"redirect_url"`
	PaymentOptions string            `json:"payment_options,omitempty"`
	Customer       Customer          `json:"customer"`
	Customizations Customizations    `json:"customizations"`
	Meta           map[string]string `json:"meta,omitempty"`
}

// PaymentResponse is returned by POST /v3/payments.
type PaymentResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

// Transaction is the data block of a verification response.
type Transaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	FlwRef   string          `json:"flw_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

// VerifyResponse is returned by GET /v3/transactions/verify_by_reference.
type VerifyResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    Transaction `json:"data"`
}

// ErrorResponse represents a non-2xx answer from Flutterwave.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("flutterwave api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("flutterwave api error (status %d)", e.StatusCode)
}

// InitializePayment creates a hosted payment link.
func (c *Client) InitializePayment(ctx context.Context, payload PaymentRequest) (*PaymentResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	var out PaymentResponse
	if err := c.do(ctx, http.MethodPost, "/v3/payments", bytes.NewReader(body), "initialize", &out); err != nil {
		return nil, err
	}
	if out.Data.Link == "" {
		return nil, &ErrorResponse{StatusCode: http.StatusOK, Status: out.Status, Message: "payment link missing from response"}
	}
	return &out, nil
}

// VerifyByReference looks a transaction up by the tx_ref we supplied at initialization.
func (c *Client) VerifyByReference(ctx context.Context, txRef string) (*VerifyResponse, error) {
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(txRef)
	var out VerifyResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, op string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, errResp); err != nil {
			slog.Warn("non-2xx response (unparsable error body)", "component", "flutterwave_client", "op", op, "status", resp.StatusCode)
		} else {
			slog.Warn("non-2xx response", "component", "flutterwave_client", "op", op, "status", resp.StatusCode, "message", errResp.Message)
		}
		return errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
