package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(5))
	assert.Equal(t, time.Second, p.Delay(60))

	assert.Equal(t, time.Duration(0), RetryPolicy{}.Delay(3))
}

func TestRetryPolicy_Do(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")
	retryable := func(err error) bool { return errors.Is(err, errTransient) }
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond}

	t.Run("succeeds after transient errors", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		}, retryable)
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on a permanent error", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return errFatal
		}, retryable)
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return errTransient
		}, retryable)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 4, calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}.Do(ctx, func(ctx context.Context) error {
			calls++
			cancel()
			return errTransient
		}, retryable)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 1, calls)
	})
}
