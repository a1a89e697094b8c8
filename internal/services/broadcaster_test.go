package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

func TestBroadcaster_FansOutToEverySink(t *testing.T) {
	first, second := &recordingPublisher{}, &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("sink down")}
	b := NewBroadcaster(8, logger.NewNop(),
		Sink{Name: "first", Publisher: first},
		Sink{Name: "failing", Publisher: failing},
		Sink{Name: "second", Publisher: second},
	)

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, b.Publish(context.Background(), &domain.AuctionEvent{Type: domain.EventBidAccepted, AuctionID: id}))
	}

	assert.Eventually(t, func() bool {
		return len(first.Events()) == 3 && len(second.Events()) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-b.Done()

	got := second.Events()
	assert.Equal(t, "a1", got[0].AuctionID)
	assert.Equal(t, "a3", got[2].AuctionID)
	assert.Len(t, failing.Events(), 3, "a failing sink still sees every event")
}

func TestBroadcaster_PublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster(2, logger.NewNop())

	require.NoError(t, b.Publish(context.Background(), &domain.AuctionEvent{Type: domain.EventBidAccepted}))
	require.NoError(t, b.Publish(context.Background(), &domain.AuctionEvent{Type: domain.EventBidAccepted}))

	done := make(chan error, 1)
	go func() {
		done <- b.Publish(context.Background(), &domain.AuctionEvent{Type: domain.EventBidAccepted})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBroadcastBufferFull)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full buffer")
	}
}

func TestBroadcaster_DrainsOnShutdown(t *testing.T) {
	sink := &recordingPublisher{}
	b := NewBroadcaster(16, logger.NewNop(), Sink{Name: "sink", Publisher: sink})

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(context.Background(), &domain.AuctionEvent{Type: domain.EventAuctionEnded}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	select {
	case <-b.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
	assert.Len(t, sink.Events(), 10)
}
