/**
 * @description
 * Client for the Monnify merchant API. Monnify authenticates with a short-lived
 * bearer token obtained by exchanging the API key and secret over Basic auth;
 * the client caches that token until shortly before it expires.
 *
 * @dependencies
 * - net/http, encoding/json, sync: request handling and token caching.
 * - github.com/shopspring/decimal: amounts travel in major units.
 */
package monnify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Client is a client for the Monnify API.
type Client struct {
	BaseURL      string
	APIKey       string
	SecretKey    string
	ContractCode string
	HTTPClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a new Monnify API client.
func NewClient(baseURL, apiKey, secretKey, contractCode string) *Client {
	return &Client{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		SecretKey:    secretKey,
		ContractCode: contractCode,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// envelope is the wrapper Monnify puts around every response body.
type envelope struct {
	RequestSuccessful bool            `json:"requestSuccessful"`
	ResponseMessage   string          `json:"responseMessage"`
	ResponseCode      string          `json:"responseCode"`
	ResponseBody      json.RawMessage `json:"responseBody"`
}

// InitTransactionRequest is the payload for init-transaction.
type InitTransactionRequest struct {
	Amount             json.Number `json:"amount"`
	CustomerName       string      `json:"customerName"`
	CustomerEmail      string      `json:"customerEmail"`
	PaymentReference   string      `json:"paymentReference"`
	PaymentDescription string      `json:"paymentDescription"`
	CurrencyCode       string      `json:"currencyCode"`
	ContractCode       string      `json:"contractCode"`
	RedirectURL        string      `json:"redirectUrl"`
	PaymentMethods     []string    `json:"paymentMethods,omitempty"`
}

// InitTransactionResponse is the responseBody of init-transaction.
type InitTransactionResponse struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

// TransactionStatus is the responseBody of the transaction query endpoint.
type TransactionStatus struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
	PaymentStatus        string          `json:"paymentStatus"`
	CurrencyCode         string          `json:"currencyCode"`
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// ErrorResponse represents a rejected Monnify request.
type ErrorResponse struct {
	StatusCode      int
	ResponseCode    string
	ResponseMessage string
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("monnify api error (status %d, code %s): %s", e.StatusCode, e.ResponseCode, e.ResponseMessage)
}

// InitTransaction opens a hosted checkout for the given payment reference.
func (c *Client) InitTransaction(ctx context.Context, payload InitTransactionRequest) (*InitTransactionResponse, error) {
	if payload.ContractCode == "" {
		payload.ContractCode = c.ContractCode
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal init-transaction request: %w", err)
	}

	var out InitTransactionResponse
	if err := c.authorized(ctx, http.MethodPost, "/api/v1/merchant/transactions/init-transaction", body, "initialize", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryByPaymentReference fetches the current state of a transaction by our reference.
func (c *Client) QueryByPaymentReference(ctx context.Context, paymentReference string) (*TransactionStatus, error) {
	path := "/api/v2/merchant/transactions/query?paymentReference=" + url.QueryEscape(paymentReference)
	var out TransactionStatus
	if err := c.authorized(ctx, http.MethodGet, path, nil, "verify", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(c.APIKey + ":" + c.SecretKey))
	var out loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", nil, "Basic "+basic, "login", &out); err != nil {
		return "", err
	}
	c.accessToken = out.AccessToken
	// Refresh a minute early so in-flight requests never carry an expired token.
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *Client) authorized(ctx context.Context, method, path string, body []byte, op string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, body, "Bearer "+token, op, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, authorization, op string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", authorization)
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

	var env envelope
	decodeErr := json.Unmarshal(bodyBytes, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && !env.RequestSuccessful) {
		slog.Warn("request rejected", "component", "monnify_client", "op", op, "status", resp.StatusCode, "code", env.ResponseCode, "message", env.ResponseMessage)
		return &ErrorResponse{StatusCode: resp.StatusCode, ResponseCode: env.ResponseCode, ResponseMessage: env.ResponseMessage}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, decodeErr)
	}
	if err := json.Unmarshal(env.ResponseBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response body: %w", op, err)
	}
	return nil
}
