package services

import (
	"context"
	"errors"
	"time"

	"auction-core/internal/domain"
	"auction-core/internal/metrics"
	"auction-core/pkg/logger"
)

var ErrBroadcastBufferFull = errors.New("broadcast buffer full")

// Sink is one outbound delivery channel of the broadcaster.
type Sink struct {
	Name      string
	Publisher domain.EventPublisher
}

// Broadcaster decouples ledger mutations from event delivery. Publish only
// enqueues; a background loop fans each event out to every sink.
type Broadcaster struct {
	sinks       []Sink
	queue       chan *domain.AuctionEvent
	done        chan struct{}
	sinkTimeout time.Duration
	log         logger.Logger
}

var _ domain.EventPublisher = (*Broadcaster)(nil)

func NewBroadcaster(bufferSize int, log logger.Logger, sinks ...Sink) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Broadcaster{
		sinks:       sinks,
		queue:       make(chan *domain.AuctionEvent, bufferSize),
		done:        make(chan struct{}),
		sinkTimeout: 5 * time.Second,
		log:         log,
	}
}

// Publish never blocks. A full buffer drops the event.
func (b *Broadcaster) Publish(ctx context.Context, event *domain.AuctionEvent) error {
	select {
	case b.queue <- event:
		return nil
	default:
		metrics.RecordEvent(string(event.Type), "dropped")
		return ErrBroadcastBufferFull
	}
}

// Run delivers events until ctx is done, then drains what is already queued.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)

	b.log.Info("Event broadcaster started", "sinks", len(b.sinks))
	for {
		select {
		case event := <-b.queue:
			b.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-b.queue:
					b.deliver(event)
				default:
					b.log.Info("Event broadcaster stopped")
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

func (b *Broadcaster) deliver(event *domain.AuctionEvent) {
	for _, sink := range b.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
		err := sink.Publisher.Publish(ctx, event)
		cancel()

		if err != nil {
			metrics.RecordEvent(string(event.Type), "failed")
			b.log.Error("Failed to deliver event", "sink", sink.Name, "type", event.Type,
				"auction_id", event.AuctionID, "error", err)
			continue
		}
		metrics.RecordEvent(string(event.Type), "published")
	}
}
