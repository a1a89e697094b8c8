package services

import (
	"context"
	"fmt"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

// EventListener relays the shared event feed to the WebSocket clients
// connected to this instance.
type EventListener struct {
	broadcaster       domain.AuctionBroadcaster
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(connectionManager domain.ConnectionManager,
	broadcaster domain.AuctionBroadcaster, log logger.Logger) *EventListener {
	return &EventListener{
		broadcaster:       broadcaster,
		connectionManager: connectionManager,
		log:               log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToAuctionEvents(ctx, el.HandleEvent)
}

func (el *EventListener) HandleEvent(event *domain.AuctionEvent) error {
	el.log.Debug("Handling auction event", "type", event.Type, "auction_id", event.AuctionID)

	switch event.Type {
	case domain.EventBidAccepted, domain.EventAuctionExtended,
		domain.EventPaymentCompleted, domain.EventPaymentFailed, domain.EventPaymentRefunded:
		return el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, event)
	case domain.EventAuctionEnded, domain.EventAuctionCancelled:
		return el.handleAuctionClosed(event)
	}

	return fmt.Errorf("unknown event type %q", event.Type)
}

func (el *EventListener) handleAuctionClosed(event *domain.AuctionEvent) error {
	if err := el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, event); err != nil {
		el.log.Error("Failed to broadcast final auction event", "type", event.Type, "error", err)
		return err
	}

	if err := el.connectionManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
		el.log.Error("Failed to finalize connections for auction", "auction_id",
			event.AuctionID, "error", err)
		return err
	}
	return nil
}
