package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type AuctionStatus int

const (
	AuctionScheduled AuctionStatus = iota
	AuctionActive
	AuctionEnded
	AuctionPaid
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionScheduled:
		return "scheduled"
	case AuctionActive:
		return "active"
	case AuctionEnded:
		return "ended"
	case AuctionPaid:
		return "paid"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsClosed reports whether the auction no longer accepts bids.
func (s AuctionStatus) IsClosed() bool {
	return s == AuctionEnded || s == AuctionPaid || s == AuctionCancelled
}

// CanTransitionTo enforces SCHEDULED -> ACTIVE -> ENDED -> {PAID, CANCELLED},
// plus external cancellation of auctions that have not ended yet.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionScheduled:
		return next == AuctionActive || next == AuctionCancelled
	case AuctionActive:
		return next == AuctionEnded || next == AuctionCancelled
	case AuctionEnded:
		return next == AuctionPaid || next == AuctionCancelled
	default:
		return false
	}
}

type Auction struct {
	ID              string
	SellerID        string
	MinBid          decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	Status          AuctionStatus
	HighestBidID    string
	HighestBidderID string
	HighestAmount   decimal.Decimal
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a *Auction) HasHighestBid() bool {
	return a.HighestBidID != ""
}

// Floor is the amount a new bid has to strictly exceed.
func (a *Auction) Floor() decimal.Decimal {
	if a.HasHighestBid() {
		return a.HighestAmount
	}
	return a.MinBid
}

// IsDueForActivation reports whether a SCHEDULED auction has reached its start time.
func (a *Auction) IsDueForActivation(now time.Time) bool {
	return a.Status == AuctionScheduled && !now.Before(a.StartTime)
}

// Transition returns a copy of the auction moved to next, or ErrInvalidTransition.
func (a *Auction) Transition(next AuctionStatus) (*Auction, error) {
	if !a.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("auction %s %s -> %s: %w", a.ID, a.Status, next, ErrInvalidTransition)
	}
	c := a.Clone()
	c.Status = next
	return c, nil
}

func (a *Auction) Clone() *Auction {
	c := *a
	return &c
}

type BidStatus string

const (
	BidAccepted   BidStatus = "accepted"
	BidRejected   BidStatus = "rejected"
	BidSuperseded BidStatus = "superseded"
)

type Bid struct {
	ID           string
	AuctionID    string
	BidderID     string
	Amount       decimal.Decimal
	SubmittedAt  time.Time
	Status       BidStatus
	RejectReason string
	CreatedAt    time.Time
}

func (b *Bid) Clone() *Bid {
	c := *b
	return &c
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// MaxFailureReasonLength bounds Payment.FailureReason in characters.
const MaxFailureReasonLength = 255

type Payment struct {
	ID                string
	AuctionID         string
	BidID             string
	BidderID          string
	Amount            decimal.Decimal
	ExternalReference string
	Status            PaymentStatus
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (p *Payment) Clone() *Payment {
	c := *p
	return &c
}

// AwaitingAuthorization is true for payments whose gateway request never landed.
func (p *Payment) AwaitingAuthorization() bool {
	return p.Status == PaymentPending && p.ExternalReference == ""
}

type ConfirmationOutcome string

const (
	OutcomeSuccess ConfirmationOutcome = "success"
	OutcomeFailure ConfirmationOutcome = "failure"
	OutcomeRefund  ConfirmationOutcome = "refund"
)

func ParseConfirmationOutcome(s string) (ConfirmationOutcome, error) {
	switch o := ConfirmationOutcome(s); o {
	case OutcomeSuccess, OutcomeFailure, OutcomeRefund:
		return o, nil
	default:
		return "", fmt.Errorf("unknown confirmation outcome %q: %w", s, ErrValidation)
	}
}

// Apply maps a gateway outcome onto the payment state machine. changed is false
// when the payment already reflects the outcome, which makes redelivery a no-op.
func (s PaymentStatus) Apply(outcome ConfirmationOutcome) (next PaymentStatus, changed bool, err error) {
	switch outcome {
	case OutcomeSuccess:
		switch s {
		case PaymentPending:
			return PaymentCompleted, true, nil
		case PaymentCompleted, PaymentRefunded:
			return s, false, nil
		}
	case OutcomeFailure:
		switch s {
		case PaymentPending:
			return PaymentFailed, true, nil
		case PaymentFailed:
			return s, false, nil
		}
	case OutcomeRefund:
		switch s {
		case PaymentCompleted:
			return PaymentRefunded, true, nil
		case PaymentRefunded:
			return s, false, nil
		}
	default:
		return s, false, fmt.Errorf("unknown confirmation outcome %q: %w", outcome, ErrValidation)
	}
	return s, false, fmt.Errorf("payment %s cannot apply %s: %w", s, outcome, ErrInvalidTransition)
}

// Confirmation is a gateway notification about an authorization attempt.
type Confirmation struct {
	EventID           string              `json:"event_id"`
	ExternalReference string              `json:"external_reference"`
	Outcome           ConfirmationOutcome `json:"outcome"`
	Signature         string              `json:"signature"`
	ReceivedAt        time.Time           `json:"received_at"`
}

// SigningPayload is the byte string the gateway signs.
func (c Confirmation) SigningPayload() []byte {
	return []byte(c.EventID + "." + c.ExternalReference + "." + string(c.Outcome))
}

// QueuedConfirmation wraps a confirmation on its way through the durable queue.
type QueuedConfirmation struct {
	Confirmation Confirmation `json:"confirmation"`
	Attempts     int          `json:"attempts"`
	EnqueuedAt   time.Time    `json:"enqueued_at"`

	// Receipt identifies the in-flight copy for acknowledgement; set by the queue.
	Receipt string `json:"-"`
}

// PaymentTransition is applied atomically by the ledger: the processed event
// record, the conditional payment update and the optional auction CAS write.
type PaymentTransition struct {
	EventID       string
	Outcome       ConfirmationOutcome
	PaymentID     string
	From          PaymentStatus
	To            PaymentStatus
	FailureReason string
	// Unreferenced restricts the move to payments with no external reference.
	Unreferenced bool

	Auction                *Auction
	AuctionExpectedVersion int64
}

// AuthorizationRequest is what the escrow coordinator sends to the gateway.
type AuthorizationRequest struct {
	IdempotencyKey string
	PaymentID      string
	AuctionID      string
	BidderID       string
	PaymentMethod  string
	Amount         decimal.Decimal
	Currency       string
}
