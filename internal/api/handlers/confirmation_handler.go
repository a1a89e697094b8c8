package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

// SignatureHeader carries the gateway signature when it is not in the body.
const SignatureHeader = "X-Signature"

type SignatureVerifier interface {
	VerifySignature(payload []byte, signature string) error
}

// ConfirmationHandler is the gateway's webhook. It only authenticates and
// enqueues; reconciliation happens in the confirmation worker.
type ConfirmationHandler struct {
	verifier SignatureVerifier
	queue    domain.ConfirmationQueue
	now      func() time.Time
	log      logger.Logger
}

type ConfirmationRequest struct {
	EventID           string `json:"event_id"`
	ExternalReference string `json:"external_reference"`
	Outcome           string `json:"outcome"`
	Signature         string `json:"signature"`
}

func NewConfirmationHandler(verifier SignatureVerifier, queue domain.ConfirmationQueue, log logger.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		verifier: verifier,
		queue:    queue,
		now:      time.Now,
		log:      log,
	}
}

func (h *ConfirmationHandler) Register(g *echo.Group) {
	g.POST("/payments/confirmations", h.Receive)
}

func (h *ConfirmationHandler) Receive(c echo.Context) error {
	var req ConfirmationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if sig := c.Request().Header.Get(SignatureHeader); sig != "" {
		req.Signature = sig
	}

	outcome, err := domain.ParseConfirmationOutcome(req.Outcome)
	if err != nil {
		return c.JSON(http.StatusBadRequest, newErrorResponse(err))
	}
	if req.EventID == "" || req.ExternalReference == "" || req.Signature == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "event_id, external_reference and signature are required"})
	}

	confirmation := domain.Confirmation{
		EventID:           req.EventID,
		ExternalReference: req.ExternalReference,
		Outcome:           outcome,
		Signature:         req.Signature,
		ReceivedAt:        h.now(),
	}

	if err := h.verifier.VerifySignature(confirmation.SigningPayload(), confirmation.Signature); err != nil {
		h.log.Warn("Rejected payment confirmation",
			"security_event", true,
			"event_id", confirmation.EventID,
			"external_reference", confirmation.ExternalReference,
			"remote_addr", c.RealIP(),
			"error", err)
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid signature"})
	}

	if err := h.queue.Enqueue(c.Request().Context(), confirmation); err != nil {
		h.log.Error("Failed to enqueue payment confirmation", "event_id", confirmation.EventID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "try again later"})
	}

	h.log.Info("Payment confirmation queued", "event_id", confirmation.EventID, "outcome", outcome)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}
