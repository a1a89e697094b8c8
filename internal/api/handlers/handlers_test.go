package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"auction-core/internal/domain"
	"auction-core/internal/domain/mocks"
	"auction-core/internal/infrastructure/gateway"
	"auction-core/internal/infrastructure/lock"
	"auction-core/internal/infrastructure/memory"
	"auction-core/internal/services"
	"auction-core/pkg/logger"
)

type handlerEnv struct {
	ledger  *memory.Ledger
	queue   *memory.ConfirmationQueue
	gateway *mocks.MockPaymentGateway
	echo    *echo.Echo
	router  *mux.Router
}

func setupHandlers(t *testing.T) *handlerEnv {
	t.Helper()
	log := logger.NewFromZap(zaptest.NewLogger(t))
	ledger := memory.NewLedger()
	locker := lock.NewLocalLocker()
	queue := memory.NewConfirmationQueue()
	gw := mocks.NewMockPaymentGateway(gomock.NewController(t))

	am := services.NewAuctionManager(ledger, locker, nil, log)
	bs := services.NewBidService(ledger, locker, nil, services.BidServiceConfig{}, log)
	escrow := services.NewEscrowCoordinator(ledger, gw, memory.NewPaymentMethodStore(), nil, services.EscrowConfig{}, log)

	e := echo.New()
	api := e.Group("/api/v1")
	NewAuctionHandler(am, escrow, log).Register(api)
	NewConfirmationHandler(gateway.NewHTTPGateway(gateway.Options{WebhookSecret: "whsec"}), queue, log).Register(api)

	r := mux.NewRouter()
	NewBidHandler(bs, am, log).Register(r)

	require.NoError(t, ledger.CreateAuction(context.Background(), &domain.Auction{
		ID:        "a1",
		SellerID:  "seller-1",
		MinBid:    decimal.NewFromInt(100),
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
		Status:    domain.AuctionActive,
	}))

	return &handlerEnv{ledger: ledger, queue: queue, gateway: gw, echo: e, router: r}
}

func serve(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestAuctionHandler_CreateAuction(t *testing.T) {
	env := setupHandlers(t)
	start := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	end := time.Now().Add(2 * time.Hour).UTC().Format(time.RFC3339)

	rec := serve(env.echo, http.MethodPost, "/api/v1/auctions",
		`{"seller_id":"seller-2","min_bid":"25.50","start_time":"`+start+`","end_time":"`+end+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var state services.AuctionState
	decodeBody(t, rec, &state)
	assert.Equal(t, "scheduled", state.Status)
	assert.True(t, state.MinBid.Equal(decimal.RequireFromString("25.50")))
	assert.NotEmpty(t, state.AuctionID)

	rec = serve(env.echo, http.MethodPost, "/api/v1/auctions",
		`{"min_bid":"25.50","start_time":"`+start+`","end_time":"`+end+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(env.echo, http.MethodPost, "/api/v1/auctions", `{"seller_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuctionHandler_GetAndCancel(t *testing.T) {
	env := setupHandlers(t)

	rec := serve(env.echo, http.MethodGet, "/api/v1/auctions/a1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state services.AuctionState
	decodeBody(t, rec, &state)
	assert.Equal(t, "active", state.Status)

	rec = serve(env.echo, http.MethodGet, "/api/v1/auctions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(env.echo, http.MethodGet, "/api/v1/auctions/a1/bids", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(env.echo, http.MethodPost, "/api/v1/auctions/a1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &state)
	assert.Equal(t, "cancelled", state.Status)

	rec = serve(env.echo, http.MethodPost, "/api/v1/auctions/a1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAuctionHandler_RequestRefund(t *testing.T) {
	env := setupHandlers(t)
	ctx := context.Background()

	rec := serve(env.echo, http.MethodPost, "/api/v1/payments/missing/refund", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, env.ledger.CreatePayment(ctx, &domain.Payment{
		ID: "p1", AuctionID: "a1", BidderID: "alice", Amount: decimal.NewFromInt(150), Status: domain.PaymentPending,
	}))
	rec = serve(env.echo, http.MethodPost, "/api/v1/payments/p1/refund", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, env.ledger.SetExternalReference(ctx, "p1", "auth_1"))
	require.NoError(t, env.ledger.ApplyPaymentTransition(ctx, domain.PaymentTransition{
		EventID: "evt_1", Outcome: domain.OutcomeSuccess, PaymentID: "p1", From: domain.PaymentPending, To: domain.PaymentCompleted,
	}))
	env.gateway.EXPECT().Refund(gomock.Any(), "auth_1").Return(nil)

	rec = serve(env.echo, http.MethodPost, "/api/v1/payments/p1/refund", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var view PaymentView
	decodeBody(t, rec, &view)
	assert.Equal(t, "completed", view.Status)
	assert.Equal(t, "auth_1", view.ExternalReference)
}

func TestConfirmationHandler_Receive(t *testing.T) {
	signer := gateway.NewSigner("whsec")
	sign := func(eventID, ref, outcome string) string {
		return signer.Sign(domain.Confirmation{
			EventID: eventID, ExternalReference: ref, Outcome: domain.ConfirmationOutcome(outcome),
		}.SigningPayload())
	}

	tests := []struct {
		name       string
		body       string
		headers    []string
		wantStatus int
		wantQueued int
	}{
		{
			name:       "signed body",
			body:       `{"event_id":"evt_1","external_reference":"auth_1","outcome":"success","signature":"` + sign("evt_1", "auth_1", "success") + `"}`,
			wantStatus: http.StatusAccepted,
			wantQueued: 1,
		},
		{
			name:       "signature header",
			body:       `{"event_id":"evt_1","external_reference":"auth_1","outcome":"failure"}`,
			headers:    []string{SignatureHeader, sign("evt_1", "auth_1", "failure")},
			wantStatus: http.StatusAccepted,
			wantQueued: 1,
		},
		{
			name:       "tampered outcome",
			body:       `{"event_id":"evt_1","external_reference":"auth_1","outcome":"refund","signature":"` + sign("evt_1", "auth_1", "success") + `"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown outcome",
			body:       `{"event_id":"evt_1","external_reference":"auth_1","outcome":"chargeback","signature":"abc"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing signature",
			body:       `{"event_id":"evt_1","external_reference":"auth_1","outcome":"success"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"event_id":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupHandlers(t)
			rec := serve(env.echo, http.MethodPost, "/api/v1/payments/confirmations", tt.body, tt.headers...)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantQueued, env.queue.Len())
		})
	}
}

func TestBidHandler_PlaceBid(t *testing.T) {
	env := setupHandlers(t)

	rec := serve(env.router, http.MethodPost, "/api/v1/auctions/a1/bids", `{"bidder_id":"alice","amount":"150.00"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var accepted PlaceBidResponse
	decodeBody(t, rec, &accepted)
	assert.True(t, accepted.Accepted)
	assert.NotEmpty(t, accepted.BidID)
	assert.Equal(t, "alice", accepted.HighestBidderID)

	rec = serve(env.router, http.MethodPost, "/api/v1/auctions/a1/bids", `{"bidder_id":"bob","amount":"150.00"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var rejected PlaceBidResponse
	decodeBody(t, rec, &rejected)
	assert.False(t, rejected.Accepted)
	assert.Equal(t, "bid_too_low", rejected.Reason)
	require.NotNil(t, rejected.CurrentHighest)
	assert.True(t, rejected.CurrentHighest.Equal(decimal.NewFromInt(150)))

	rec = serve(env.router, http.MethodPost, "/api/v1/auctions/a1/bids", `{"bidder_id":"bob","amount":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(env.router, http.MethodPost, "/api/v1/auctions/a1/bids", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(env.router, http.MethodPost, "/api/v1/auctions/missing/bids", `{"bidder_id":"bob","amount":"200"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(env.router, http.MethodGet, "/api/v1/auctions/a1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state services.AuctionState
	decodeBody(t, rec, &state)
	require.NotNil(t, state.CurrentHighest)
	assert.True(t, state.CurrentHighest.Equal(decimal.NewFromInt(150)))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrSignatureVerification, http.StatusUnauthorized},
		{domain.ErrAuctionNotFound, http.StatusNotFound},
		{domain.ErrPaymentNotFound, http.StatusNotFound},
		{domain.ErrBidTooLow, http.StatusConflict},
		{domain.ErrAuctionClosed, http.StatusConflict},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrConcurrencyConflict, http.StatusConflict},
		{domain.ErrGateway, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}

	assert.Equal(t, errorResponse{Error: "internal error"}, newErrorResponse(context.DeadlineExceeded))
}
