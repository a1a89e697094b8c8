package websocket

import (
	"context"

	"auction-core/internal/domain"
)

// WebSocketNotifier delivers to clients connected to this process. It serves
// both as the listener's broadcaster and as an event sink.
type WebSocketNotifier struct {
	connManager domain.ConnectionManager
}

func NewWebSocketNotifier(connManager domain.ConnectionManager) *WebSocketNotifier {
	return &WebSocketNotifier{connManager: connManager}
}

func (n *WebSocketNotifier) NotifyUser(ctx context.Context, userID string, message interface{}) error {
	return n.connManager.NotifyUser(userID, message)
}

func (n *WebSocketNotifier) BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error {
	return n.connManager.BroadcastToAuction(auctionID, message)
}

// Publish fans the event out and closes the auction's connections once it is final.
func (n *WebSocketNotifier) Publish(ctx context.Context, event *domain.AuctionEvent) error {
	if err := n.connManager.BroadcastToAuction(event.AuctionID, event); err != nil {
		return err
	}
	if event.IsTerminal() {
		return n.connManager.CloseAndUnregisterConnections(event.AuctionID)
	}
	return nil
}
