package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

type recordingBroadcaster struct {
	auctions []string
	err      error
}

func (b *recordingBroadcaster) BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error {
	b.auctions = append(b.auctions, auctionID)
	return b.err
}

// closingConnManager only tracks which auctions had their connections closed.
type closingConnManager struct {
	domain.ConnectionManager
	closed []string
}

func (m *closingConnManager) CloseAndUnregisterConnections(auctionID string) error {
	m.closed = append(m.closed, auctionID)
	return nil
}

type staticSubscriber struct {
	events []*domain.AuctionEvent
}

func (s staticSubscriber) SubscribeToAuctionEvents(ctx context.Context, handler domain.EventHandler) error {
	for _, e := range s.events {
		if err := handler(e); err != nil {
			return err
		}
	}
	return nil
}

func TestEventListener_HandleEvent(t *testing.T) {
	tests := []struct {
		name       string
		eventType  domain.EventType
		wantClosed bool
	}{
		{"bid accepted", domain.EventBidAccepted, false},
		{"extended", domain.EventAuctionExtended, false},
		{"payment completed", domain.EventPaymentCompleted, false},
		{"ended", domain.EventAuctionEnded, true},
		{"cancelled", domain.EventAuctionCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &recordingBroadcaster{}
			cm := &closingConnManager{}
			el := NewEventListener(cm, b, logger.NewNop())

			require.NoError(t, el.HandleEvent(&domain.AuctionEvent{Type: tt.eventType, AuctionID: "a1"}))
			assert.Equal(t, []string{"a1"}, b.auctions)
			if tt.wantClosed {
				assert.Equal(t, []string{"a1"}, cm.closed)
			} else {
				assert.Empty(t, cm.closed)
			}
		})
	}
}

func TestEventListener_UnknownTypeAndBroadcastFailure(t *testing.T) {
	cm := &closingConnManager{}
	el := NewEventListener(cm, &recordingBroadcaster{}, logger.NewNop())
	assert.Error(t, el.HandleEvent(&domain.AuctionEvent{Type: "mystery", AuctionID: "a1"}))

	failing := NewEventListener(cm, &recordingBroadcaster{err: errors.New("write failed")}, logger.NewNop())
	assert.Error(t, failing.HandleEvent(&domain.AuctionEvent{Type: domain.EventAuctionEnded, AuctionID: "a1"}))
	assert.Empty(t, cm.closed, "connections stay open when the final event was not delivered")
}

func TestEventListener_Start(t *testing.T) {
	b := &recordingBroadcaster{}
	el := NewEventListener(&closingConnManager{}, b, logger.NewNop())

	err := el.Start(context.Background(), staticSubscriber{events: []*domain.AuctionEvent{
		{Type: domain.EventBidAccepted, AuctionID: "a1"},
		{Type: domain.EventBidAccepted, AuctionID: "a2"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, b.auctions)
}
