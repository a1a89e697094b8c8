package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
	"auction-core/pkg/utils"
)

type AuctionManager struct {
	ledger    domain.Ledger
	locker    domain.AuctionLocker
	publisher domain.EventPublisher
	now       func() time.Time
	log       logger.Logger
}

func NewAuctionManager(
	ledger domain.Ledger,
	locker domain.AuctionLocker,
	publisher domain.EventPublisher,
	log logger.Logger,
) *AuctionManager {
	return &AuctionManager{
		ledger:    ledger,
		locker:    locker,
		publisher: publisher,
		now:       time.Now,
		log:       log,
	}
}

// SetClock replaces the time source; used by tests.
func (am *AuctionManager) SetClock(now func() time.Time) {
	am.now = now
}

type CreateAuctionParams struct {
	SellerID  string
	MinBid    decimal.Decimal
	StartTime time.Time
	EndTime   time.Time
}

// AuctionState is the pollable view of an auction.
type AuctionState struct {
	AuctionID       string           `json:"auction_id"`
	Status          string           `json:"status"`
	MinBid          decimal.Decimal  `json:"min_bid"`
	CurrentHighest  *decimal.Decimal `json:"current_highest"`
	HighestBidderID string           `json:"highest_bidder_id,omitempty"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	Version         int64            `json:"version"`
}

func NewAuctionState(a *domain.Auction) *AuctionState {
	state := &AuctionState{
		AuctionID: a.ID,
		Status:    a.Status.String(),
		MinBid:    a.MinBid,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Version:   a.Version,
	}
	if a.HasHighestBid() {
		amount := a.HighestAmount
		state.CurrentHighest = &amount
		state.HighestBidderID = a.HighestBidderID
	}
	return state
}

func (am *AuctionManager) CreateAuction(ctx context.Context, p CreateAuctionParams) (*domain.Auction, error) {
	if err := domain.ValidateAuctionInput(p.SellerID, p.MinBid, p.StartTime, p.EndTime); err != nil {
		return nil, err
	}

	now := am.now()
	auction := &domain.Auction{
		ID:        utils.GenerateID("auction"),
		SellerID:  p.SellerID,
		MinBid:    p.MinBid,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		Status:    domain.AuctionScheduled,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := am.ledger.CreateAuction(ctx, auction); err != nil {
		return nil, err
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "start_time", auction.StartTime, "end_time", auction.EndTime)
	return auction, nil
}

// GetAuction returns the auction, activating it first when its start time has passed.
func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	auction, err := am.ledger.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	activated, err := activateIfDue(ctx, am.ledger, auction, am.now())
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		// Someone else moved it; their write is at least as fresh.
		return am.ledger.GetAuction(ctx, auctionID)
	}
	if err != nil {
		return nil, err
	}
	return activated, nil
}

func (am *AuctionManager) GetAuctionState(ctx context.Context, auctionID string) (*AuctionState, error) {
	auction, err := am.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return NewAuctionState(auction), nil
}

func (am *AuctionManager) ListBids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	if _, err := am.ledger.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return am.ledger.ListBids(ctx, auctionID)
}

// CancelAuction moves an auction to CANCELLED. Auctions that have not ended
// can always be cancelled; an ENDED auction only when nothing is owed on it.
func (am *AuctionManager) CancelAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	unlock, err := am.locker.Lock(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("lock auction %s: %w", auctionID, err)
	}
	defer unlock()

	auction, err := am.ledger.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if auction.Status == domain.AuctionEnded && auction.HasHighestBid() {
		payment, err := am.ledger.GetPaymentByAuction(ctx, auctionID)
		if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, err
		}
		if payment == nil || payment.Status != domain.PaymentFailed {
			return nil, fmt.Errorf("auction %s has an open settlement: %w", auctionID, domain.ErrInvalidTransition)
		}
	}

	cancelled, err := auction.Transition(domain.AuctionCancelled)
	if err != nil {
		return nil, err
	}
	if err := am.ledger.UpdateAuction(ctx, cancelled, auction.Version); err != nil {
		return nil, err
	}

	am.log.Info("Auction cancelled", "auction_id", auctionID, "previous_status", auction.Status.String())
	publish(ctx, am.publisher, am.log, domain.NewAuctionCancelledEvent(auctionID, am.now()))
	return cancelled, nil
}

// activateIfDue performs the lazy SCHEDULED -> ACTIVE transition as a CAS write.
func activateIfDue(ctx context.Context, repo domain.AuctionRepository, auction *domain.Auction, now time.Time) (*domain.Auction, error) {
	if !auction.IsDueForActivation(now) {
		return auction, nil
	}
	active, err := auction.Transition(domain.AuctionActive)
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateAuction(ctx, active, auction.Version); err != nil {
		return nil, err
	}
	return active, nil
}

// publish hands an event to the broadcaster. Failures never propagate.
func publish(ctx context.Context, publisher domain.EventPublisher, log logger.Logger, event *domain.AuctionEvent) {
	if publisher == nil || event == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		log.Error("Failed to publish event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
	}
}
