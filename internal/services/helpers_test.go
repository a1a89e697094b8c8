package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"auction-core/internal/domain"
	"auction-core/internal/infrastructure/lock"
	"auction-core/internal/infrastructure/memory"
	"auction-core/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// recordingPublisher keeps every event in publish order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.AuctionEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event *domain.AuctionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []*domain.AuctionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.AuctionEvent(nil), p.events...)
}

func (p *recordingPublisher) OfType(t domain.EventType) []*domain.AuctionEvent {
	var out []*domain.AuctionEvent
	for _, e := range p.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	ledger *memory.Ledger
	locker *lock.LocalLocker
	events *recordingPublisher
	clock  *fakeClock
	log    logger.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		ledger: memory.NewLedger(),
		locker: lock.NewLocalLocker(),
		events: &recordingPublisher{},
		clock:  newFakeClock(testStart),
		log:    logger.NewFromZap(zaptest.NewLogger(t)),
	}
}

func (env *testEnv) bidService(cfg BidServiceConfig) *BidService {
	s := NewBidService(env.ledger, env.locker, env.events, cfg, env.log)
	s.SetClock(env.clock.Now)
	return s
}

func (env *testEnv) scheduler(escrow PaymentInitiator) *CronAuctionScheduler {
	s := NewCronAuctionScheduler(env.ledger, escrow, env.events, SchedulerConfig{ScanInterval: time.Second, BatchSize: 50}, env.log)
	s.SetClock(env.clock.Now)
	return s
}

// activeAuction stores an ACTIVE auction that opened an hour before testStart
// and ends after the given duration.
func (env *testEnv) activeAuction(t *testing.T, id string, minBid int64, endsIn time.Duration) *domain.Auction {
	t.Helper()
	a := &domain.Auction{
		ID:        id,
		SellerID:  "seller-1",
		MinBid:    decimal.NewFromInt(minBid),
		StartTime: testStart.Add(-time.Hour),
		EndTime:   testStart.Add(endsIn),
		Status:    domain.AuctionActive,
		Version:   1,
	}
	require.NoError(t, env.ledger.CreateAuction(context.Background(), a))
	return a
}

func (env *testEnv) auction(t *testing.T, id string) *domain.Auction {
	t.Helper()
	a, err := env.ledger.GetAuction(context.Background(), id)
	require.NoError(t, err)
	return a
}

func amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
