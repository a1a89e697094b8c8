package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-core/internal/domain"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(Options{
		BaseURL:       srv.URL + "/",
		APIKey:        "sk_test",
		WebhookSecret: "whsec",
		Timeout:       time.Second,
	})
}

func TestHTTPGateway_Authorize(t *testing.T) {
	var got authorizationBody
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/authorizations", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "pay_1", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"auth_123","status":"pending"}`))
	})

	ref, err := gw.Authorize(context.Background(), domain.AuthorizationRequest{
		IdempotencyKey: "pay_1",
		PaymentID:      "pay_1",
		AuctionID:      "a1",
		BidderID:       "u1",
		PaymentMethod:  "pm_card",
		Amount:         decimal.RequireFromString("200.00"),
		Currency:       "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "auth_123", ref)
	assert.Equal(t, "u1", got.Customer)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(200)))
	assert.False(t, got.Capture)
}

func TestHTTPGateway_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"declined", http.StatusPaymentRequired, `{"code":"card_declined","message":"insufficient funds"}`, domain.ErrPaymentDeclined},
		{"unprocessable", http.StatusUnprocessableEntity, `{}`, domain.ErrPaymentDeclined},
		{"rate_limited", http.StatusTooManyRequests, ``, domain.ErrGateway},
		{"server_error", http.StatusBadGateway, ``, domain.ErrGateway},
		{"bad_request", http.StatusBadRequest, `{"message":"missing amount"}`, domain.ErrValidation},
		{"missing_id", http.StatusOK, `{"status":"pending"}`, domain.ErrGateway},
		{"garbage_body", http.StatusOK, `not json`, domain.ErrGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := gw.Authorize(context.Background(), domain.AuthorizationRequest{PaymentID: "p"})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHTTPGateway_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	gw := NewHTTPGateway(Options{BaseURL: srv.URL, Timeout: time.Second})
	_, err := gw.Authorize(context.Background(), domain.AuthorizationRequest{PaymentID: "p"})
	require.ErrorIs(t, err, domain.ErrGateway)
	assert.True(t, domain.IsRetryable(err))
}

func TestHTTPGateway_Refund(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/authorizations/auth_9/refunds", r.URL.Path)
		assert.Equal(t, "refund-auth_9", r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusAccepted)
	})

	require.NoError(t, gw.Refund(context.Background(), "auth_9"))
}

func TestSigner(t *testing.T) {
	s := NewSigner("whsec")
	payload := domain.Confirmation{EventID: "evt_1", ExternalReference: "auth_1", Outcome: domain.OutcomeSuccess}.SigningPayload()
	sig := s.Sign(payload)

	assert.NoError(t, s.Verify(payload, sig))
	assert.ErrorIs(t, s.Verify([]byte("evt_1.auth_1.failure"), sig), domain.ErrSignatureVerification)
	assert.ErrorIs(t, s.Verify(payload, "zz"), domain.ErrSignatureVerification)
	assert.ErrorIs(t, s.Verify(payload, ""), domain.ErrSignatureVerification)
	assert.ErrorIs(t, NewSigner("other").Verify(payload, sig), domain.ErrSignatureVerification)
	assert.ErrorIs(t, NewSigner("").Verify(payload, sig), domain.ErrSignatureVerification)
}

func TestHTTPGateway_VerifySignature(t *testing.T) {
	gw := NewHTTPGateway(Options{WebhookSecret: "whsec"})
	payload := []byte("evt.ref.success")

	assert.NoError(t, gw.VerifySignature(payload, NewSigner("whsec").Sign(payload)))
	assert.ErrorIs(t, gw.VerifySignature(payload, NewSigner("nope").Sign(payload)), domain.ErrSignatureVerification)
}
