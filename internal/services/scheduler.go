package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"auction-core/internal/domain"
	"auction-core/internal/metrics"
	"auction-core/pkg/logger"
)

// PaymentInitiator is the part of the escrow coordinator the scheduler drives.
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, auctionID string, winning *domain.Bid) (*domain.Payment, error)
}

type SchedulerConfig struct {
	ScanInterval time.Duration
	BatchSize    int
}

// ScanReport summarizes one scheduler pass.
type ScanReport struct {
	Closed          int
	Conflicts       int
	Failed          int
	PaymentsStarted int
}

type CronAuctionScheduler struct {
	cron      *cron.Cron
	ledger    domain.Ledger
	escrow    PaymentInitiator
	publisher domain.EventPublisher
	cfg       SchedulerConfig
	now       func() time.Time
	log       logger.Logger
}

func NewCronAuctionScheduler(
	ledger domain.Ledger,
	escrow PaymentInitiator,
	publisher domain.EventPublisher,
	cfg SchedulerConfig,
	log logger.Logger,
) *CronAuctionScheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &CronAuctionScheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		ledger:    ledger,
		escrow:    escrow,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		log:       log,
	}
}

// SetClock replaces the time source; used by tests.
func (s *CronAuctionScheduler) SetClock(now func() time.Time) {
	s.now = now
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting auction scheduler", "interval", s.cfg.ScanInterval)

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.ScanInterval), func() {
		if ctx.Err() != nil {
			return
		}
		report := s.ScanOnce(ctx)
		if report.Closed > 0 || report.Conflicts > 0 || report.Failed > 0 || report.PaymentsStarted > 0 {
			s.log.Info("Scheduler scan finished",
				"closed", report.Closed,
				"conflicts", report.Conflicts,
				"failed", report.Failed,
				"payments_started", report.PaymentsStarted)
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running scan to finish.
func (s *CronAuctionScheduler) Stop() error {
	s.log.Info("Stopping auction scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// ScanOnce closes every overdue auction, starts payment for the winners and
// retries payments that never reached the gateway.
func (s *CronAuctionScheduler) ScanOnce(ctx context.Context) ScanReport {
	var report ScanReport
	now := s.now()

	overdue, err := s.ledger.ListOverdueAuctions(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("Failed to list overdue auctions", "error", err)
		report.Failed++
		return report
	}

	var winners []*domain.Bid
	for _, auction := range overdue {
		winner, err := s.closeAuction(ctx, auction)
		switch {
		case errors.Is(err, domain.ErrConcurrencyConflict):
			metrics.RecordCloseConflict()
			report.Conflicts++
			s.log.Info("Auction changed during close, will retry next scan", "auction_id", auction.ID)
		case err != nil:
			report.Failed++
			s.log.Error("Failed to close auction", "auction_id", auction.ID, "error", err)
		default:
			report.Closed++
			if winner != nil {
				winners = append(winners, winner)
			}
		}
	}

	started := make(map[string]bool, len(winners))
	for _, w := range winners {
		started[w.AuctionID] = true
	}
	report.PaymentsStarted += s.initiatePayments(ctx, winners)

	awaiting, err := s.ledger.ListAuctionsAwaitingPayment(ctx, s.cfg.BatchSize)
	if err != nil {
		s.log.Error("Failed to list auctions awaiting payment", "error", err)
		report.Failed++
		return report
	}
	var retry []*domain.Bid
	for _, auction := range awaiting {
		if started[auction.ID] {
			continue
		}
		winner, err := s.winningBid(ctx, auction)
		if err != nil {
			s.log.Error("Failed to load winning bid", "auction_id", auction.ID, "error", err)
			report.Failed++
			continue
		}
		retry = append(retry, winner)
	}
	report.PaymentsStarted += s.initiatePayments(ctx, retry)

	return report
}

// closeAuction moves one overdue auction to ENDED with a CAS write on the
// version read by the scan, and announces the result.
func (s *CronAuctionScheduler) closeAuction(ctx context.Context, auction *domain.Auction) (*domain.Bid, error) {
	current := auction
	if current.Status == domain.AuctionScheduled {
		active, err := current.Transition(domain.AuctionActive)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.UpdateAuction(ctx, active, current.Version); err != nil {
			return nil, err
		}
		current = active
	}

	ended, err := current.Transition(domain.AuctionEnded)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.UpdateAuction(ctx, ended, current.Version); err != nil {
		return nil, err
	}
	metrics.RecordAuctionClosed(ended.HasHighestBid())

	var winner *domain.Bid
	if ended.HasHighestBid() {
		winner, err = s.winningBid(ctx, ended)
		if err != nil {
			// The payment sweep retries once the bid is readable.
			s.log.Error("Failed to load winning bid", "auction_id", ended.ID, "error", err)
			winner = nil
		}
	}

	s.log.Info("Auction ended", "auction_id", ended.ID, "winner_id", ended.HighestBidderID, "version", ended.Version)
	publish(ctx, s.publisher, s.log, domain.NewAuctionEndedEvent(ended.ID, winnerForEvent(ended, winner), s.now()))
	return winner, nil
}

func (s *CronAuctionScheduler) winningBid(ctx context.Context, auction *domain.Auction) (*domain.Bid, error) {
	bid, err := s.ledger.GetBid(ctx, auction.HighestBidID)
	if err != nil {
		return nil, err
	}
	if bid.Status != domain.BidAccepted {
		return nil, fmt.Errorf("highest bid %s of auction %s is %s: %w", bid.ID, auction.ID, bid.Status, domain.ErrInvalidTransition)
	}
	return bid, nil
}

func (s *CronAuctionScheduler) initiatePayments(ctx context.Context, winners []*domain.Bid) int {
	if s.escrow == nil || len(winners) == 0 {
		return 0
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for _, w := range winners {
		wg.Add(1)
		go func(w *domain.Bid) {
			defer wg.Done()
			payment, err := s.escrow.InitiatePayment(ctx, w.AuctionID, w)
			if err != nil {
				s.log.Error("Failed to initiate payment", "auction_id", w.AuctionID, "error", err)
				return
			}
			s.log.Debug("Payment initiated", "auction_id", w.AuctionID, "payment_id", payment.ID, "status", payment.Status)
			mu.Lock()
			started++
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return started
}

func winnerForEvent(auction *domain.Auction, bid *domain.Bid) *domain.Bid {
	if bid != nil || !auction.HasHighestBid() {
		return bid
	}
	return &domain.Bid{
		ID:        auction.HighestBidID,
		AuctionID: auction.ID,
		BidderID:  auction.HighestBidderID,
		Amount:    auction.HighestAmount,
	}
}
