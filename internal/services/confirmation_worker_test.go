package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-core/internal/domain"
	"auction-core/internal/infrastructure/memory"
	"auction-core/pkg/logger"
)

type scriptedReconciler struct {
	mu   sync.Mutex
	errs []error
	seen []string
}

func (r *scriptedReconciler) Reconcile(ctx context.Context, c domain.Confirmation) (ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, c.EventID)
	if len(r.errs) == 0 {
		return ResultApplied, nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return "", err
}

func newWorker(queue domain.ConfirmationQueue, reconciler Reconciler, maxAttempts int) *ConfirmationWorker {
	return NewConfirmationWorker(queue, reconciler, ConfirmationWorkerConfig{
		MaxAttempts: maxAttempts,
		PollTimeout: 20 * time.Millisecond,
		Backoff:     RetryPolicy{BaseDelay: time.Millisecond},
	}, logger.NewNop())
}

func TestConfirmationWorker_AcksSuccess(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewConfirmationQueue()
	require.NoError(t, queue.Enqueue(ctx, domain.Confirmation{EventID: "evt_1"}))

	reconciler := &scriptedReconciler{}
	took, err := newWorker(queue, reconciler, 3).ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, 0, queue.Len())
	assert.Empty(t, queue.DeadLetters())

	took, err = newWorker(queue, reconciler, 3).ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, took, "empty queue times out quietly")
}

func TestConfirmationWorker_RetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewConfirmationQueue()
	require.NoError(t, queue.Enqueue(ctx, domain.Confirmation{EventID: "evt_1"}))

	transient := fmt.Errorf("ledger unavailable")
	reconciler := &scriptedReconciler{errs: []error{transient, transient, transient}}
	w := newWorker(queue, reconciler, 3)

	for i := 0; i < 2; i++ {
		took, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, took)
		assert.Equal(t, 1, queue.Len(), "retryable failure goes back on the queue")
	}

	took, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, took)

	dead := queue.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "evt_1", dead[0].Item.Confirmation.EventID)
	assert.Equal(t, []string{"evt_1", "evt_1", "evt_1"}, reconciler.seen)
}

func TestConfirmationWorker_DeadLettersPermanentErrors(t *testing.T) {
	for _, permanent := range []error{
		domain.ErrSignatureVerification,
		fmt.Errorf("pending cannot apply refund: %w", domain.ErrInvalidTransition),
		domain.ErrValidation,
	} {
		ctx := context.Background()
		queue := memory.NewConfirmationQueue()
		require.NoError(t, queue.Enqueue(ctx, domain.Confirmation{EventID: "evt_1"}))

		took, err := newWorker(queue, &scriptedReconciler{errs: []error{permanent}}, 5).ProcessOne(ctx)
		require.NoError(t, err)
		assert.True(t, took)
		require.Len(t, queue.DeadLetters(), 1, permanent.Error())
		assert.Equal(t, 0, queue.Len())
	}
}

func TestConfirmationWorker_RunStopsWithContext(t *testing.T) {
	queue := memory.NewConfirmationQueue()
	reconciler := &scriptedReconciler{}
	w := newWorker(queue, reconciler, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, queue.Enqueue(context.Background(), domain.Confirmation{EventID: "evt_1"}))
	assert.Eventually(t, func() bool {
		reconciler.mu.Lock()
		defer reconciler.mu.Unlock()
		return len(reconciler.seen) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
