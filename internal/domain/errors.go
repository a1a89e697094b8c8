package domain

import "errors"

// Business rule rejections, returned synchronously to the bidder.
var (
	ErrValidation     = errors.New("validation error")
	ErrBidTooLow      = errors.New("bid amount too low")
	ErrAuctionNotOpen = errors.New("auction not open")
	ErrAuctionClosed  = errors.New("auction closed")
)

// Lookup errors
var (
	ErrAuctionNotFound       = errors.New("auction not found")
	ErrBidNotFound           = errors.New("bid not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
)

// Ledger write errors
var (
	ErrConcurrencyConflict   = errors.New("concurrency conflict")
	ErrPaymentExists         = errors.New("payment already exists for auction")
	ErrEventAlreadyProcessed = errors.New("event already processed")
	ErrExternalReferenceSet  = errors.New("external reference already set")
)

// Payment and gateway errors
var (
	ErrGateway               = errors.New("payment gateway error")
	ErrPaymentDeclined       = errors.New("payment declined")
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrInvalidTransition     = errors.New("invalid transition")
)

// IsRetryable reports whether an operation that failed with err may succeed
// when attempted again later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrSignatureVerification),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrPaymentDeclined):
		return false
	}
	return true
}

// RejectionReason maps a bid rejection to the reason string exposed by the API.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, ErrAuctionNotOpen):
		return "auction_not_open"
	case errors.Is(err, ErrAuctionClosed):
		return "auction_closed"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrAuctionNotFound):
		return "auction_not_found"
	default:
		return ""
	}
}

// IsRejection reports whether err is a business rule rejection of a bid.
func IsRejection(err error) bool {
	return errors.Is(err, ErrBidTooLow) || errors.Is(err, ErrAuctionNotOpen) || errors.Is(err, ErrAuctionClosed)
}
