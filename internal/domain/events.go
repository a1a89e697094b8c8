package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBidAccepted      EventType = "bid_accepted"
	EventAuctionEnded     EventType = "auction_ended"
	EventAuctionExtended  EventType = "auction_extended"
	EventAuctionCancelled EventType = "auction_cancelled"
	EventPaymentCompleted EventType = "payment_completed"
	EventPaymentFailed    EventType = "payment_failed"
	EventPaymentRefunded  EventType = "payment_refunded"
)

// AuctionEvent is the outbound feed record. Consumers must tolerate missed and
// duplicated events and fall back to polling auction state.
type AuctionEvent struct {
	Type      EventType        `json:"type"`
	AuctionID string           `json:"auction_id"`
	BidderID  string           `json:"bidder_id,omitempty"`
	WinnerID  string           `json:"winner_id,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	PaymentID string           `json:"payment_id,omitempty"`
	EndTime   *time.Time       `json:"end_time,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewBidAcceptedEvent(bid *Bid, at time.Time) *AuctionEvent {
	amount := bid.Amount
	return &AuctionEvent{
		Type:      EventBidAccepted,
		AuctionID: bid.AuctionID,
		BidderID:  bid.BidderID,
		Amount:    &amount,
		Timestamp: at,
	}
}

// NewAuctionEndedEvent builds the close notification; winner is nil when the
// auction ended without bids.
func NewAuctionEndedEvent(auctionID string, winner *Bid, at time.Time) *AuctionEvent {
	event := &AuctionEvent{
		Type:      EventAuctionEnded,
		AuctionID: auctionID,
		Timestamp: at,
	}
	if winner != nil {
		amount := winner.Amount
		event.WinnerID = winner.BidderID
		event.Amount = &amount
	}
	return event
}

func NewAuctionExtendedEvent(auctionID string, endTime, at time.Time) *AuctionEvent {
	return &AuctionEvent{
		Type:      EventAuctionExtended,
		AuctionID: auctionID,
		EndTime:   &endTime,
		Timestamp: at,
	}
}

func NewAuctionCancelledEvent(auctionID string, at time.Time) *AuctionEvent {
	return &AuctionEvent{
		Type:      EventAuctionCancelled,
		AuctionID: auctionID,
		Timestamp: at,
	}
}

// NewPaymentEvent maps a payment status to its feed event type.
func NewPaymentEvent(p *Payment, at time.Time) *AuctionEvent {
	var t EventType
	switch p.Status {
	case PaymentCompleted:
		t = EventPaymentCompleted
	case PaymentFailed:
		t = EventPaymentFailed
	case PaymentRefunded:
		t = EventPaymentRefunded
	default:
		return nil
	}
	return &AuctionEvent{
		Type:      t,
		AuctionID: p.AuctionID,
		PaymentID: p.ID,
		Timestamp: at,
	}
}

// IsTerminal reports whether no further events follow for the auction's live feed.
func (e *AuctionEvent) IsTerminal() bool {
	return e.Type == EventAuctionEnded || e.Type == EventAuctionCancelled
}
