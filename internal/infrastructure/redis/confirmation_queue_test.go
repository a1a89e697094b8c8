package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRedis answers the two calls Dequeue makes and panics on anything else.
type scriptedRedis struct {
	redis.Cmdable
	popped  string
	popErr  error
	txErr   error
	txCalls int
}

func (s *scriptedRedis) BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd {
	return redis.NewStringResult(s.popped, s.popErr)
}

func (s *scriptedRedis) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	s.txCalls++
	return nil, s.txErr
}

func TestConfirmationQueue_Dequeue(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue", func(t *testing.T) {
		q := NewConfirmationQueue(&scriptedRedis{popErr: redis.Nil}, "confirmations")
		item, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("decodes item and keeps receipt", func(t *testing.T) {
		raw := `{"confirmation":{"event_id":"evt_1","external_reference":"auth_1","outcome":"success"},"attempts":2}`
		q := NewConfirmationQueue(&scriptedRedis{popped: raw}, "confirmations")
		item, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, raw, item.Receipt)
	})

	t.Run("unreadable payload is parked", func(t *testing.T) {
		client := &scriptedRedis{popped: "not json"}
		q := NewConfirmationQueue(client, "confirmations")
		item, err := q.Dequeue(ctx, time.Second)
		assert.Nil(t, item)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode confirmation")
		assert.NotContains(t, err.Error(), "dead-letter failed")
		assert.Equal(t, 1, client.txCalls)
	})

	t.Run("parking failure is reported", func(t *testing.T) {
		client := &scriptedRedis{popped: "not json", txErr: errors.New("connection reset")}
		q := NewConfirmationQueue(client, "confirmations")
		item, err := q.Dequeue(ctx, time.Second)
		assert.Nil(t, item)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dead-letter failed: connection reset")
	})
}
