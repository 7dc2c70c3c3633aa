package flutterwave

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializePayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/payments", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var payload map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "ref-1", payload["tx_ref"])
		assert.Equal(t, 1500.5, payload["amount"])

		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/abc"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test")
	resp, err := client.InitializePayment(context.Background(), PaymentRequest{
		TxRef:       "ref-1",
		Amount:      json.Number("1500.50"),
		Currency:    "NGN",
		RedirectURL: "https://app/payments/verify?ref=ref-1&provider=flutterwave",
		Customer:    Customer{Email: "a@example.com"},
	})
	require.NoError(t, err)
	require.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/abc", resp.Data.Link)
}

func TestInitializePayment_RejectionIsErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"error","message":"Invalid currency"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "sk").InitializePayment(context.Background(), PaymentRequest{TxRef: "r"})
	var apiErr *ErrorResponse
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Contains(t, apiErr.Error(), "Invalid currency")
}

func TestVerifyByReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/transactions/verify_by_reference", r.URL.Path)
		assert.Equal(t, "ref 1", r.URL.Query().Get("tx_ref"))
		_, _ = w.Write([]byte(`{"status":"success","data":{"id":42,"tx_ref":"ref 1","amount":100,"currency":"NGN","status":"successful"}}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, "sk").VerifyByReference(context.Background(), "ref 1")
	require.NoError(t, err)
	require.Equal(t, "successful", resp.Data.Status)
	require.Equal(t, int64(42), resp.Data.ID)
	require.Equal(t, "100", resp.Data.Amount.String())
}

func TestWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"charge.completed","data":{"tx_ref":"ref-1","status":"successful"}}`)
	sig := Sign("whsec", body)

	require.True(t, ValidateSignature("whsec", sig, body))
	require.False(t, ValidateSignature("other", sig, body))
	require.False(t, ValidateSignature("whsec", sig, append(body, ' ')))
	require.False(t, ValidateSignature("", sig, body))

	payload, err := ParseWebhook(body)
	require.NoError(t, err)
	require.Equal(t, EventChargeCompleted, payload.Event)
	require.Equal(t, "ref-1", payload.Data.TxRef)

	_, err = ParseWebhook([]byte(`{"data":{}}`))
	require.Error(t, err)
	_, err = ParseWebhook([]byte(`not json`))
	require.Error(t, err)
}
