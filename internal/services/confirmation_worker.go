package services

import (
	"context"
	"time"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

type Reconciler interface {
	Reconcile(ctx context.Context, c domain.Confirmation) (ReconcileResult, error)
}

type ConfirmationWorkerConfig struct {
	MaxAttempts int
	PollTimeout time.Duration
	Backoff     RetryPolicy
}

// ConfirmationWorker drains the confirmation queue into the reconciler.
// Retryable failures go back on the queue until MaxAttempts; everything else
// is dead-lettered.
type ConfirmationWorker struct {
	queue      domain.ConfirmationQueue
	reconciler Reconciler
	cfg        ConfirmationWorkerConfig
	log        logger.Logger
}

func NewConfirmationWorker(queue domain.ConfirmationQueue, reconciler Reconciler, cfg ConfirmationWorkerConfig, log logger.Logger) *ConfirmationWorker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	return &ConfirmationWorker{queue: queue, reconciler: reconciler, cfg: cfg, log: log}
}

func (w *ConfirmationWorker) Run(ctx context.Context) error {
	w.log.Info("Confirmation worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info("Confirmation worker stopped")
			return nil
		}
		if _, err := w.ProcessOne(ctx); err != nil && ctx.Err() == nil {
			w.log.Error("Confirmation queue error", "error", err)
			sleepCtx(ctx, time.Second)
		}
	}
}

// ProcessOne handles at most one queued confirmation. It reports whether an
// item was taken off the queue.
func (w *ConfirmationWorker) ProcessOne(ctx context.Context) (bool, error) {
	item, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}

	c := item.Confirmation
	result, err := w.reconciler.Reconcile(ctx, c)
	switch {
	case err == nil:
		w.log.Debug("Confirmation processed", "event_id", c.EventID, "result", result)
		return true, w.queue.Ack(ctx, item)

	case !domain.IsRetryable(err):
		w.log.Error("Discarding confirmation", "event_id", c.EventID, "error", err)
		return true, w.queue.DeadLetter(ctx, item, err.Error())

	case item.Attempts+1 >= w.cfg.MaxAttempts:
		w.log.Error("Confirmation retries exhausted", "event_id", c.EventID, "attempts", item.Attempts+1, "error", err)
		return true, w.queue.DeadLetter(ctx, item, err.Error())

	default:
		w.log.Warn("Confirmation will be retried", "event_id", c.EventID, "attempt", item.Attempts+1, "error", err)
		if serr := sleepCtx(ctx, w.cfg.Backoff.Delay(item.Attempts+1)); serr != nil {
			// Leave it in the processing list for recovery on restart.
			return true, serr
		}
		return true, w.queue.Requeue(ctx, item)
	}
}
