package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CurrencyScale is the number of decimal places money amounts may carry.
const CurrencyScale int32 = 2

// ValidateAmount rejects non-positive amounts and sub-cent precision.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount %s must be positive: %w", amount, ErrValidation)
	}
	if !amount.Equal(amount.Truncate(CurrencyScale)) {
		return fmt.Errorf("amount %s has more than %d decimal places: %w", amount, CurrencyScale, ErrValidation)
	}
	return nil
}

func ValidateBidInput(auctionID, bidderID string, amount decimal.Decimal) error {
	if auctionID == "" || bidderID == "" {
		return fmt.Errorf("missing auction or bidder id: %w", ErrValidation)
	}
	return ValidateAmount(amount)
}

func ValidateAuctionInput(sellerID string, minBid decimal.Decimal, start, end time.Time) error {
	if sellerID == "" {
		return fmt.Errorf("missing seller id: %w", ErrValidation)
	}
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("start and end time are required: %w", ErrValidation)
	}
	if !end.After(start) {
		return fmt.Errorf("end time must be after start time: %w", ErrValidation)
	}
	return ValidateAmount(minBid)
}
