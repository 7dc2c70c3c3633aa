/**
 * @description
 * Minimal client for Stripe Checkout Sessions. Stripe takes form-encoded bodies
 * and answers with JSON; the session id doubles as the provider reference we
 * store so a later verification can fetch the session directly.
 */
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the Stripe API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Stripe API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckoutSessionParams describes a one-line-item payment session.
type CheckoutSessionParams struct {
	ClientReferenceID string
	Amount            int64
	Currency          string
	ProductName       string
	Description       string
	CustomerEmail     string
	SuccessURL        string
	CancelURL         string
}

// CheckoutSession is the subset of the Stripe session object we read.
type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	CustomerEmail     string            `json:"customer_email"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// Email returns whichever payer email Stripe collected.
func (s *CheckoutSession) Email() string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// ErrorResponse represents a Stripe API error.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Err        struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("stripe api error (status %d, %s): %s", e.StatusCode, e.Err.Type, e.Err.Message)
}

// CreateCheckoutSession opens a hosted checkout. Amount is in the currency's minor unit.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", params.ClientReferenceID)
	form.Set("metadata[reference]", params.ClientReferenceID)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(params.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	if params.Description != "" {
		form.Set("line_items[0][price_data][product_data][description]", params.Description)
	}

	var out CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, "create_session", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCheckoutSession retrieves a session by id.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var out CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, "get_session", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, op string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
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
		_ = json.Unmarshal(bodyBytes, errResp)
		slog.Warn("non-2xx response", "component", "stripe_client", "op", op, "status", resp.StatusCode, "type", errResp.Err.Type, "message", errResp.Err.Message)
		return errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}
