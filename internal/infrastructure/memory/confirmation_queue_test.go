package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-core/internal/domain"
)

func TestConfirmationQueue_DeliveryCycle(t *testing.T) {
	ctx := context.Background()
	q := NewConfirmationQueue()

	require.NoError(t, q.Enqueue(ctx, domain.Confirmation{EventID: "evt_1"}))
	require.NoError(t, q.Enqueue(ctx, domain.Confirmation{EventID: "evt_2"}))

	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "evt_1", first.Confirmation.EventID)
	assert.NotEmpty(t, first.Receipt)

	require.NoError(t, q.Requeue(ctx, first))
	assert.Equal(t, 2, q.Len())

	second, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "evt_2", second.Confirmation.EventID)
	require.NoError(t, q.Ack(ctx, second))

	retried, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", retried.Confirmation.EventID)
	assert.Equal(t, 1, retried.Attempts)

	require.NoError(t, q.DeadLetter(ctx, retried, "invalid transition"))
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "invalid transition", dead[0].Reason)
	assert.Equal(t, 0, q.Len())
}

func TestConfirmationQueue_DequeueTimesOut(t *testing.T) {
	q := NewConfirmationQueue()

	item, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestConfirmationQueue_DequeueWakesOnEnqueue(t *testing.T) {
	ctx := context.Background()
	q := NewConfirmationQueue()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, domain.Confirmation{EventID: "late"})
	}()

	item, err := q.Dequeue(ctx, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "late", item.Confirmation.EventID)
}

func TestConfirmationQueue_DequeueHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewConfirmationQueue().Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPaymentMethodStore(t *testing.T) {
	s := NewPaymentMethodStore()
	s.SetPaymentMethod("u1", "pm_card")

	m, err := s.PaymentMethod(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "pm_card", m)

	_, err = s.PaymentMethod(context.Background(), "u2")
	assert.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)
}
