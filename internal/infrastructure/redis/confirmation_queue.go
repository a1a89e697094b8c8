package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"auction-core/internal/domain"
)

// ConfirmationQueue keeps confirmations in a Redis list. Dequeued items move
// to a processing list until acked, so a crash between dequeue and ack
// leaves them recoverable.
type ConfirmationQueue struct {
	client        redis.Cmdable
	queueKey      string
	processingKey string
	deadKey       string
}

var _ domain.ConfirmationQueue = (*ConfirmationQueue)(nil)

func NewConfirmationQueue(client redis.Cmdable, queueKey string) *ConfirmationQueue {
	return &ConfirmationQueue{
		client:        client,
		queueKey:      queueKey,
		processingKey: queueKey + ":processing",
		deadKey:       queueKey + ":dead",
	}
}

type deadLetterRecord struct {
	Item     domain.QueuedConfirmation `json:"item"`
	Reason   string                    `json:"reason"`
	FailedAt time.Time                 `json:"failed_at"`
}

func (q *ConfirmationQueue) Enqueue(ctx context.Context, c domain.Confirmation) error {
	payload, err := json.Marshal(domain.QueuedConfirmation{Confirmation: c, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal confirmation %s: %w", c.EventID, err)
	}
	if err := q.client.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue confirmation %s: %w", c.EventID, err)
	}
	return nil
}

func (q *ConfirmationQueue) Dequeue(ctx context.Context, timeout time.Duration) (*domain.QueuedConfirmation, error) {
	raw, err := q.client.BRPopLPush(ctx, q.queueKey, q.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue confirmation: %w", err)
	}

	var item domain.QueuedConfirmation
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		// Unreadable payloads would loop forever; park them with the raw body.
		_, parkErr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey, 1, raw)
			pipe.LPush(ctx, q.deadKey, raw)
			return nil
		})
		if parkErr != nil {
			return nil, fmt.Errorf("decode confirmation: %w (dead-letter failed: %v)", err, parkErr)
		}
		return nil, fmt.Errorf("decode confirmation: %w", err)
	}
	item.Receipt = raw
	return &item, nil
}

func (q *ConfirmationQueue) Ack(ctx context.Context, d *domain.QueuedConfirmation) error {
	return q.client.LRem(ctx, q.processingKey, 1, d.Receipt).Err()
}

func (q *ConfirmationQueue) Requeue(ctx context.Context, d *domain.QueuedConfirmation) error {
	next := *d
	next.Attempts++
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal confirmation %s: %w", d.Confirmation.EventID, err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, d.Receipt)
		pipe.LPush(ctx, q.queueKey, payload)
		return nil
	})
	return err
}

func (q *ConfirmationQueue) DeadLetter(ctx context.Context, d *domain.QueuedConfirmation, reason string) error {
	payload, err := json.Marshal(deadLetterRecord{Item: *d, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dead letter %s: %w", d.Confirmation.EventID, err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey, 1, d.Receipt)
		pipe.LPush(ctx, q.deadKey, payload)
		return nil
	})
	return err
}

// RecoverInFlight moves items left in the processing list by a crashed worker
// back onto the queue. Call it before starting workers.
func (q *ConfirmationQueue) RecoverInFlight(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.RPopLPush(ctx, q.processingKey, q.queueKey).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover in-flight confirmations: %w", err)
		}
		moved++
	}
}
