package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"auction-core/internal/domain"
	"auction-core/internal/metrics"
	"auction-core/pkg/logger"
	"auction-core/pkg/utils"
)

type BidServiceConfig struct {
	// ConflictRetries bounds transparent retries after a version conflict.
	ConflictRetries int
	// ExtensionWindow enables anti-sniping when positive: a bid accepted this
	// close to the end pushes the end time to submission time + window.
	ExtensionWindow time.Duration
}

type BidService struct {
	ledger    domain.Ledger
	locker    domain.AuctionLocker
	publisher domain.EventPublisher
	cfg       BidServiceConfig
	now       func() time.Time
	tracer    trace.Tracer
	log       logger.Logger
}

func NewBidService(
	ledger domain.Ledger,
	locker domain.AuctionLocker,
	publisher domain.EventPublisher,
	cfg BidServiceConfig,
	log logger.Logger,
) *BidService {
	return &BidService{
		ledger:    ledger,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		tracer:    otel.Tracer("auction-core/services"),
		log:       log,
	}
}

// SetClock replaces the time source; used by tests.
func (s *BidService) SetClock(now func() time.Time) {
	s.now = now
}

// BidResult is the admission decision together with the auction as the
// decision saw it.
type BidResult struct {
	Bid             *domain.Bid
	Accepted        bool
	Reason          string
	CurrentHighest  *decimal.Decimal
	HighestBidderID string
	EndTime         time.Time
}

// SubmitBid admits or rejects a bid. Business rejections return a non-nil
// result describing the auction together with ErrBidTooLow, ErrAuctionNotOpen
// or ErrAuctionClosed.
func (s *BidService) SubmitBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, submittedAt time.Time) (*BidResult, error) {
	ctx, span := s.tracer.Start(ctx, "BidService.SubmitBid",
		trace.WithAttributes(attribute.String("auction.id", auctionID)))
	defer span.End()

	if err := domain.ValidateBidInput(auctionID, bidderID, amount); err != nil {
		metrics.RecordBid("invalid")
		return nil, err
	}
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}

	attempts := s.cfg.ConflictRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var (
			result *BidResult
			events []*domain.AuctionEvent
		)
		result, events, err = s.admit(ctx, auctionID, bidderID, amount, submittedAt)
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			s.log.Debug("Bid hit a version conflict, retrying", "auction_id", auctionID, "attempt", attempt)
			continue
		}
		if err != nil {
			if domain.IsRejection(err) {
				metrics.RecordBid(domain.RejectionReason(err))
				return result, err
			}
			span.RecordError(err)
			return nil, err
		}

		metrics.RecordBid("accepted")
		s.log.Info("Bid accepted", "auction_id", auctionID, "bidder_id", bidderID, "amount", amount.StringFixed(domain.CurrencyScale))
		for _, event := range events {
			publish(ctx, s.publisher, s.log, event)
		}
		return result, nil
	}

	metrics.RecordBid("conflict")
	return nil, fmt.Errorf("submit bid on %s gave up after %d attempts: %w", auctionID, attempts, err)
}

func (s *BidService) admit(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, submittedAt time.Time) (*BidResult, []*domain.AuctionEvent, error) {
	unlock, err := s.locker.Lock(ctx, auctionID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock auction %s: %w", auctionID, err)
	}
	defer unlock()

	auction, err := s.ledger.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	auction, err = activateIfDue(ctx, s.ledger, auction, now)
	if err != nil {
		return nil, nil, err
	}

	bid := &domain.Bid{
		ID:          utils.GenerateID("bid"),
		AuctionID:   auctionID,
		BidderID:    bidderID,
		Amount:      amount,
		SubmittedAt: submittedAt,
		CreatedAt:   now,
	}

	if rejection := checkAdmission(auction, amount, submittedAt); rejection != nil {
		bid.Status = domain.BidRejected
		bid.RejectReason = domain.RejectionReason(rejection)
		if err := s.ledger.RecordRejectedBid(ctx, bid); err != nil {
			s.log.Error("Failed to record rejected bid", "auction_id", auctionID, "bid_id", bid.ID, "error", err)
		}
		return newBidResult(auction, bid, false), nil, rejection
	}

	next := auction.Clone()
	next.HighestBidID = bid.ID
	next.HighestBidderID = bidderID
	next.HighestAmount = amount

	events := []*domain.AuctionEvent{domain.NewBidAcceptedEvent(bid, now)}
	if w := s.cfg.ExtensionWindow; w > 0 && auction.EndTime.Sub(submittedAt) < w {
		next.EndTime = submittedAt.Add(w)
		events = append(events, domain.NewAuctionExtendedEvent(auctionID, next.EndTime, now))
	}

	bid.Status = domain.BidAccepted
	if err := s.ledger.AcceptBid(ctx, next, auction.Version, bid); err != nil {
		return nil, nil, err
	}
	return newBidResult(next, bid, true), events, nil
}

// checkAdmission applies the business rules in order: closed, not yet open,
// past the deadline, not above the floor.
func checkAdmission(auction *domain.Auction, amount decimal.Decimal, submittedAt time.Time) error {
	switch {
	case auction.Status.IsClosed():
		return fmt.Errorf("auction %s is %s: %w", auction.ID, auction.Status, domain.ErrAuctionClosed)
	case auction.Status == domain.AuctionScheduled || submittedAt.Before(auction.StartTime):
		return fmt.Errorf("auction %s opens at %s: %w", auction.ID, auction.StartTime.Format(time.RFC3339), domain.ErrAuctionNotOpen)
	case !submittedAt.Before(auction.EndTime):
		return fmt.Errorf("auction %s ended at %s: %w", auction.ID, auction.EndTime.Format(time.RFC3339), domain.ErrAuctionClosed)
	case !amount.GreaterThan(auction.Floor()):
		return fmt.Errorf("bid %s must exceed %s: %w", amount, auction.Floor(), domain.ErrBidTooLow)
	}
	return nil
}

func newBidResult(auction *domain.Auction, bid *domain.Bid, accepted bool) *BidResult {
	result := &BidResult{
		Bid:      bid,
		Accepted: accepted,
		Reason:   bid.RejectReason,
		EndTime:  auction.EndTime,
	}
	if auction.HasHighestBid() {
		amount := auction.HighestAmount
		result.CurrentHighest = &amount
		result.HighestBidderID = auction.HighestBidderID
	}
	return result
}
