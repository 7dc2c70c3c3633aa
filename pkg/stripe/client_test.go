package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "ref-1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "250000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "ngn", r.PostForm.Get("line_items[0][price_data][currency]"))
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1","status":"open","payment_status":"unpaid"}`))
	}))
	defer server.Close()

	session, err := NewClient(server.URL, "sk_test").CreateCheckoutSession(context.Background(), CheckoutSessionParams{
		ClientReferenceID: "ref-1",
		Amount:            250000,
		Currency:          "NGN",
		ProductName:       "Service charge",
		SuccessURL:        "https://app/ok",
		CancelURL:         "https://app/cancel",
	})
	require.NoError(t, err)
	require.Equal(t, "cs_test_1", session.ID)
}

func TestGetCheckoutSession_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "sk").GetCheckoutSession(context.Background(), "cs_missing")
	var apiErr *ErrorResponse
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	require.Equal(t, "resource_missing", apiErr.Err.Code)
}

func TestValidateSignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"ref-1","payment_status":"paid"}}}`)
	now := time.Unix(1_750_000_000, 0)
	header := Sign("whsec", body, now)

	require.NoError(t, ValidateSignature("whsec", header, body, now.Add(time.Minute), DefaultTolerance))
	require.ErrorIs(t, ValidateSignature("whsec", header, body, now.Add(10*time.Minute), DefaultTolerance), ErrSignatureExpired)
	require.ErrorIs(t, ValidateSignature("other", header, body, now, DefaultTolerance), ErrSignatureInvalid)
	require.ErrorIs(t, ValidateSignature("whsec", "garbage", body, now, DefaultTolerance), ErrMissingSignature)
	require.NoError(t, ValidateSignature("whsec", header+",v1=deadbeef", body, now, DefaultTolerance))

	event, err := ParseEvent(body)
	require.NoError(t, err)
	require.Equal(t, EventCheckoutSessionCompleted, event.Type)
	require.Equal(t, "ref-1", event.Data.Object.ClientReferenceID)
	require.Equal(t, "paid", event.Data.Object.PaymentStatus)
}
