package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"auction-core/internal/domain"
)

type Options struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// HTTPGateway is the domain.PaymentGateway adapter for the processor's REST API.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	signer  *Signer
}

var _ domain.PaymentGateway = (*HTTPGateway)(nil)

func NewHTTPGateway(opts Options) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		signer:  NewSigner(opts.WebhookSecret),
	}
}

type authorizationBody struct {
	PaymentID     string          `json:"payment_id"`
	AuctionID     string          `json:"auction_id"`
	Customer      string          `json:"customer"`
	PaymentMethod string          `json:"payment_method"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Capture       bool            `json:"capture"`
}

type authorizationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *HTTPGateway) Authorize(ctx context.Context, req domain.AuthorizationRequest) (string, error) {
	body := authorizationBody{
		PaymentID:     req.PaymentID,
		AuctionID:     req.AuctionID,
		Customer:      req.BidderID,
		PaymentMethod: req.PaymentMethod,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}

	var resp authorizationResponse
	if err := g.do(ctx, http.MethodPost, "/v1/authorizations", req.IdempotencyKey, body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("authorization response without id: %w", domain.ErrGateway)
	}
	return resp.ID, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, externalRef string) error {
	path := "/v1/authorizations/" + url.PathEscape(externalRef) + "/refunds"
	return g.do(ctx, http.MethodPost, path, "refund-"+externalRef, struct{}{}, nil)
}

func (g *HTTPGateway) VerifySignature(payload []byte, signature string) error {
	return g.signer.Verify(payload, signature)
}

func (g *HTTPGateway) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", method, path, err, domain.ErrGateway)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read gateway response: %v: %w", err, domain.ErrGateway)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode gateway response: %v: %w", err, domain.ErrGateway)
		}
		return nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", describe(raw, resp.StatusCode), domain.ErrPaymentDeclined)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%s: %w", describe(raw, resp.StatusCode), domain.ErrGateway)
	default:
		// Other 4xx mean the request itself is wrong; retrying will not help.
		return fmt.Errorf("%s: %w", describe(raw, resp.StatusCode), domain.ErrValidation)
	}
}

func describe(raw []byte, status int) string {
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return fmt.Sprintf("gateway status %d (%s): %s", status, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway status %d", status)
}
