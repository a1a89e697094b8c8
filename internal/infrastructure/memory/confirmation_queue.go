package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"auction-core/internal/domain"
)

// ConfirmationQueue is a process-local domain.ConfirmationQueue used by tests
// and by the memory storage driver.
type ConfirmationQueue struct {
	mu       sync.Mutex
	pending  []*domain.QueuedConfirmation
	inflight map[string]*domain.QueuedConfirmation
	dead     []DeadLetter
	signal   chan struct{}
}

type DeadLetter struct {
	Item   domain.QueuedConfirmation
	Reason string
}

func NewConfirmationQueue() *ConfirmationQueue {
	return &ConfirmationQueue{
		inflight: make(map[string]*domain.QueuedConfirmation),
		signal:   make(chan struct{}, 1),
	}
}

var _ domain.ConfirmationQueue = (*ConfirmationQueue)(nil)

func (q *ConfirmationQueue) Enqueue(ctx context.Context, c domain.Confirmation) error {
	q.push(&domain.QueuedConfirmation{Confirmation: c, EnqueuedAt: time.Now()})
	return nil
}

func (q *ConfirmationQueue) push(item *domain.QueuedConfirmation) {
	q.mu.Lock()
	q.pending = append(q.pending, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *ConfirmationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.QueuedConfirmation, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if item := q.pop(); item != nil {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.signal:
		}
	}
}

func (q *ConfirmationQueue) pop() *domain.QueuedConfirmation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	item := q.pending[0]
	q.pending = q.pending[1:]
	item.Receipt = uuid.NewString()
	q.inflight[item.Receipt] = item
	return item
}

func (q *ConfirmationQueue) Ack(ctx context.Context, d *domain.QueuedConfirmation) error {
	q.mu.Lock()
	delete(q.inflight, d.Receipt)
	q.mu.Unlock()
	return nil
}

func (q *ConfirmationQueue) Requeue(ctx context.Context, d *domain.QueuedConfirmation) error {
	q.mu.Lock()
	delete(q.inflight, d.Receipt)
	q.mu.Unlock()

	next := *d
	next.Attempts++
	next.Receipt = ""
	q.push(&next)
	return nil
}

func (q *ConfirmationQueue) DeadLetter(ctx context.Context, d *domain.QueuedConfirmation, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.inflight, d.Receipt)
	item := *d
	item.Receipt = ""
	q.dead = append(q.dead, DeadLetter{Item: item, Reason: reason})
	return nil
}

// Len reports items waiting for delivery.
func (q *ConfirmationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *ConfirmationQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}
