package domain

import (
	"context"
	"time"
)

// Repository interfaces
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	// UpdateAuction writes auction only if the stored version equals
	// expectedVersion, and bumps auction.Version on success.
	UpdateAuction(ctx context.Context, auction *Auction, expectedVersion int64) error
	ListOverdueAuctions(ctx context.Context, now time.Time, limit int) ([]*Auction, error)
	// ListAuctionsAwaitingPayment returns ENDED auctions with a winner whose
	// payment is missing or never reached the gateway.
	ListAuctionsAwaitingPayment(ctx context.Context, limit int) ([]*Auction, error)
}

type BidRepository interface {
	// AcceptBid CAS-writes auction, supersedes the previously accepted bid and
	// inserts bid, all or nothing.
	AcceptBid(ctx context.Context, auction *Auction, expectedVersion int64, bid *Bid) error
	RecordRejectedBid(ctx context.Context, bid *Bid) error
	GetBid(ctx context.Context, bidID string) (*Bid, error)
	ListBids(ctx context.Context, auctionID string) ([]*Bid, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *Payment) error
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	GetPaymentByAuction(ctx context.Context, auctionID string) (*Payment, error)
	GetPaymentByExternalReference(ctx context.Context, ref string) (*Payment, error)
	SetExternalReference(ctx context.Context, paymentID, ref string) error
	// ProcessedEvent reports the outcome recorded for eventID, if any.
	ProcessedEvent(ctx context.Context, eventID string) (ConfirmationOutcome, bool, error)
	ApplyPaymentTransition(ctx context.Context, t PaymentTransition) error
}

// Ledger is the single source of truth for auction, bid and payment state.
type Ledger interface {
	AuctionRepository
	BidRepository
	PaymentRepository
}

// AuctionLocker provides per-auction mutual exclusion.
type AuctionLocker interface {
	Lock(ctx context.Context, auctionID string) (unlock func(), err error)
}

// Event interfaces
type EventPublisher interface {
	Publish(ctx context.Context, event *AuctionEvent) error
}

type EventSubscriber interface {
	SubscribeToAuctionEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *AuctionEvent) error

// Payment gateway capability; adapters keep gateway SDK types out of the core.
//
//go:generate mockgen -destination=mocks/gateway_mock.go -package=mocks auction-core/internal/domain PaymentGateway
type PaymentGateway interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (externalRef string, err error)
	Refund(ctx context.Context, externalRef string) error
	VerifySignature(payload []byte, signature string) error
}

type PaymentMethodStore interface {
	PaymentMethod(ctx context.Context, bidderID string) (string, error)
}

// ConfirmationQueue is the durable inbox between the confirmation endpoint and
// reconciliation. Delivery is at-least-once.
type ConfirmationQueue interface {
	Enqueue(ctx context.Context, c Confirmation) error
	// Dequeue blocks up to timeout and returns nil, nil when nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*QueuedConfirmation, error)
	Ack(ctx context.Context, d *QueuedConfirmation) error
	Requeue(ctx context.Context, d *QueuedConfirmation) error
	DeadLetter(ctx context.Context, d *QueuedConfirmation, reason string) error
}

type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(userID, auctionID string) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
