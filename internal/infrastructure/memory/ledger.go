package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-core/internal/domain"
)

// Ledger is a concurrency-safe in-memory implementation of domain.Ledger.
// Every method works on copies so callers never share state with the store.
type Ledger struct {
	mu              sync.RWMutex
	auctions        map[string]*domain.Auction
	bids            map[string]*domain.Bid
	bidsByAuction   map[string][]string // key: auctionID -> bid ids in insertion order
	payments        map[string]*domain.Payment
	paymentByAuct   map[string]string // key: auctionID -> paymentID
	paymentByRef    map[string]string // key: external reference -> paymentID
	processedEvents map[string]domain.ConfirmationOutcome
	now             func() time.Time
}

var _ domain.Ledger = (*Ledger)(nil)

func NewLedger() *Ledger {
	return &Ledger{
		auctions:        make(map[string]*domain.Auction),
		bids:            make(map[string]*domain.Bid),
		bidsByAuction:   make(map[string][]string),
		payments:        make(map[string]*domain.Payment),
		paymentByAuct:   make(map[string]string),
		paymentByRef:    make(map[string]string),
		processedEvents: make(map[string]domain.ConfirmationOutcome),
		now:             time.Now,
	}
}

func (l *Ledger) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.auctions[auction.ID]; ok {
		return fmt.Errorf("create auction %s: %w", auction.ID, domain.ErrValidation)
	}
	if auction.Version == 0 {
		auction.Version = 1
	}
	l.auctions[auction.ID] = auction.Clone()
	return nil
}

func (l *Ledger) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.auctions[auctionID]
	if !ok {
		return nil, fmt.Errorf("get auction %s: %w", auctionID, domain.ErrAuctionNotFound)
	}
	return a.Clone(), nil
}

func (l *Ledger) UpdateAuction(ctx context.Context, auction *domain.Auction, expectedVersion int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.casAuction(auction, expectedVersion)
}

// casAuction must be called with l.mu held.
func (l *Ledger) casAuction(auction *domain.Auction, expectedVersion int64) error {
	stored, ok := l.auctions[auction.ID]
	if !ok {
		return fmt.Errorf("update auction %s: %w", auction.ID, domain.ErrAuctionNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("update auction %s at version %d (stored %d): %w",
			auction.ID, expectedVersion, stored.Version, domain.ErrConcurrencyConflict)
	}
	auction.Version = expectedVersion + 1
	auction.UpdatedAt = l.now()
	l.auctions[auction.ID] = auction.Clone()
	return nil
}

func (l *Ledger) ListOverdueAuctions(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*domain.Auction
	for _, a := range l.auctions {
		if (a.Status == domain.AuctionActive || a.Status == domain.AuctionScheduled) && !a.EndTime.After(now) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) ListAuctionsAwaitingPayment(ctx context.Context, limit int) ([]*domain.Auction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*domain.Auction
	for _, a := range l.auctions {
		if a.Status != domain.AuctionEnded || !a.HasHighestBid() {
			continue
		}
		if pid, ok := l.paymentByAuct[a.ID]; ok && !l.payments[pid].AwaitingAuthorization() {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) AcceptBid(ctx context.Context, auction *domain.Auction, expectedVersion int64, bid *domain.Bid) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.bids[bid.ID]; ok {
		return fmt.Errorf("accept bid %s: duplicate id: %w", bid.ID, domain.ErrValidation)
	}
	if err := l.casAuction(auction, expectedVersion); err != nil {
		return err
	}
	for _, id := range l.bidsByAuction[bid.AuctionID] {
		if b := l.bids[id]; b.Status == domain.BidAccepted {
			b.Status = domain.BidSuperseded
		}
	}
	l.insertBid(bid)
	return nil
}

func (l *Ledger) RecordRejectedBid(ctx context.Context, bid *domain.Bid) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bid.Status != domain.BidRejected {
		return fmt.Errorf("record rejected bid %s with status %s: %w", bid.ID, bid.Status, domain.ErrValidation)
	}
	if _, ok := l.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("record bid for auction %s: %w", bid.AuctionID, domain.ErrAuctionNotFound)
	}
	l.insertBid(bid)
	return nil
}

func (l *Ledger) insertBid(bid *domain.Bid) {
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = l.now()
	}
	l.bids[bid.ID] = bid.Clone()
	l.bidsByAuction[bid.AuctionID] = append(l.bidsByAuction[bid.AuctionID], bid.ID)
}

func (l *Ledger) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.bids[bidID]
	if !ok {
		return nil, fmt.Errorf("get bid %s: %w", bidID, domain.ErrBidNotFound)
	}
	return b.Clone(), nil
}

func (l *Ledger) ListBids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.bidsByAuction[auctionID]
	out := make([]*domain.Bid, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.bids[id].Clone())
	}
	return out, nil
}

func (l *Ledger) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.paymentByAuct[payment.AuctionID]; ok {
		return fmt.Errorf("create payment for auction %s: %w", payment.AuctionID, domain.ErrPaymentExists)
	}
	if payment.ExternalReference != "" {
		if _, ok := l.paymentByRef[payment.ExternalReference]; ok {
			return fmt.Errorf("create payment %s: %w", payment.ID, domain.ErrExternalReferenceSet)
		}
		l.paymentByRef[payment.ExternalReference] = payment.ID
	}
	now := l.now()
	payment.CreatedAt, payment.UpdatedAt = now, now
	l.payments[payment.ID] = payment.Clone()
	l.paymentByAuct[payment.AuctionID] = payment.ID
	return nil
}

func (l *Ledger) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, domain.ErrPaymentNotFound)
	}
	return p.Clone(), nil
}

func (l *Ledger) GetPaymentByAuction(ctx context.Context, auctionID string) (*domain.Payment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.paymentByAuct[auctionID]
	if !ok {
		return nil, fmt.Errorf("get payment for auction %s: %w", auctionID, domain.ErrPaymentNotFound)
	}
	return l.payments[id].Clone(), nil
}

func (l *Ledger) GetPaymentByExternalReference(ctx context.Context, ref string) (*domain.Payment, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.paymentByRef[ref]
	if !ok {
		return nil, fmt.Errorf("get payment by reference %s: %w", ref, domain.ErrPaymentNotFound)
	}
	return l.payments[id].Clone(), nil
}

func (l *Ledger) SetExternalReference(ctx context.Context, paymentID, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.payments[paymentID]
	if !ok {
		return fmt.Errorf("set reference on payment %s: %w", paymentID, domain.ErrPaymentNotFound)
	}
	if p.ExternalReference == ref {
		return nil
	}
	if p.ExternalReference != "" {
		return fmt.Errorf("payment %s already has reference %s: %w", paymentID, p.ExternalReference, domain.ErrExternalReferenceSet)
	}
	if owner, ok := l.paymentByRef[ref]; ok && owner != paymentID {
		return fmt.Errorf("reference %s belongs to payment %s: %w", ref, owner, domain.ErrExternalReferenceSet)
	}
	p.ExternalReference = ref
	p.UpdatedAt = l.now()
	l.paymentByRef[ref] = paymentID
	return nil
}

func (l *Ledger) ProcessedEvent(ctx context.Context, eventID string) (domain.ConfirmationOutcome, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	outcome, ok := l.processedEvents[eventID]
	return outcome, ok, nil
}

func (l *Ledger) ApplyPaymentTransition(ctx context.Context, t domain.PaymentTransition) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.EventID != "" {
		if _, ok := l.processedEvents[t.EventID]; ok {
			return fmt.Errorf("apply event %s: %w", t.EventID, domain.ErrEventAlreadyProcessed)
		}
	}
	p, ok := l.payments[t.PaymentID]
	if !ok {
		return fmt.Errorf("apply transition to payment %s: %w", t.PaymentID, domain.ErrPaymentNotFound)
	}
	if p.Status != t.From {
		return fmt.Errorf("payment %s is %s, expected %s: %w", t.PaymentID, p.Status, t.From, domain.ErrConcurrencyConflict)
	}
	if t.Unreferenced && p.ExternalReference != "" {
		return fmt.Errorf("payment %s already has reference %s: %w", t.PaymentID, p.ExternalReference, domain.ErrConcurrencyConflict)
	}

	// Validate the auction write before mutating anything.
	if t.Auction != nil {
		stored, ok := l.auctions[t.Auction.ID]
		if !ok {
			return fmt.Errorf("apply transition to auction %s: %w", t.Auction.ID, domain.ErrAuctionNotFound)
		}
		if stored.Version != t.AuctionExpectedVersion {
			return fmt.Errorf("auction %s moved past version %d: %w", t.Auction.ID, t.AuctionExpectedVersion, domain.ErrConcurrencyConflict)
		}
		if err := l.casAuction(t.Auction, t.AuctionExpectedVersion); err != nil {
			return err
		}
	}

	if t.From != t.To {
		p.Status = t.To
		if t.FailureReason != "" {
			p.FailureReason = t.FailureReason
		}
		p.UpdatedAt = l.now()
	}
	if t.EventID != "" {
		l.processedEvents[t.EventID] = t.Outcome
	}
	return nil
}
