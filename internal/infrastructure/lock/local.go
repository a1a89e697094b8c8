package lock

import (
	"context"
	"sync"

	"auction-core/internal/domain"
)

// LocalLocker is an in-process keyed mutex. Waiters give up when their
// context is done.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

var _ domain.AuctionLocker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, auctionID string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[auctionID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[auctionID] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(auctionID, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(auctionID, s)
		})
	}, nil
}

func (l *LocalLocker) release(auctionID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, auctionID)
	}
}
