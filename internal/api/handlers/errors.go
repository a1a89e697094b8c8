package handlers

import (
	"errors"
	"net/http"

	"auction-core/internal/domain"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes shared by the echo and
// mux handlers.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSignatureVerification):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAuctionNotFound),
		errors.Is(err, domain.ErrBidNotFound),
		errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound
	case domain.IsRejection(err),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newErrorResponse(err error) errorResponse {
	if statusFor(err) == http.StatusInternalServerError {
		return errorResponse{Error: "internal error"}
	}
	return errorResponse{Error: err.Error(), Reason: domain.RejectionReason(err)}
}
