package websocket

import (
	"encoding/json"
	"sync"

	"auction-core/internal/domain"
	"auction-core/pkg/logger"
)

// ConnectionManager indexes live connections by auction and by user. A user
// holds at most one connection per auction; reconnecting replaces the old one.
type ConnectionManager struct {
	byAuction map[string]map[string]domain.WebSocketConnection // auctionID -> userID -> connection
	byUser    map[string]map[string]domain.WebSocketConnection // userID -> auctionID -> connection
	mutex     sync.RWMutex
	log       logger.Logger
}

var _ domain.ConnectionManager = (*ConnectionManager)(nil)

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		byAuction: make(map[string]map[string]domain.WebSocketConnection),
		byUser:    make(map[string]map[string]domain.WebSocketConnection),
		log:       log,
	}
}

func (cm *ConnectionManager) RegisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	previous := cm.byAuction[auctionID][userID]
	put(cm.byAuction, auctionID, userID, conn)
	put(cm.byUser, userID, auctionID, conn)
	cm.mutex.Unlock()

	if previous != nil && previous != conn {
		if err := previous.Close(); err != nil {
			cm.log.Debug("Failed to close replaced connection", "user_id", userID, "auction_id", auctionID, "error", err)
		}
	}

	cm.log.Debug("Connection registered", "user_id", userID, "auction_id", auctionID)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(userID, auctionID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	remove(cm.byAuction, auctionID, userID)
	remove(cm.byUser, userID, auctionID)

	cm.log.Debug("Connection unregistered", "user_id", userID, "auction_id", auctionID)
	return nil
}

// CloseAndUnregisterConnections closes every connection of an auction that
// reached a terminal state.
func (cm *ConnectionManager) CloseAndUnregisterConnections(auctionID string) error {
	cm.mutex.Lock()
	conns := cm.byAuction[auctionID]
	delete(cm.byAuction, auctionID)
	for userID := range conns {
		remove(cm.byUser, userID, auctionID)
	}
	cm.mutex.Unlock()

	for userID, conn := range conns {
		if err := conn.Close(); err != nil {
			cm.log.Error("Failed to close connection", "user_id", userID,
				"auction_id", auctionID, "error", err)
		}
	}

	cm.log.Info("Connections closed for auction", "auction_id", auctionID, "count", len(conns))
	return nil
}

func (cm *ConnectionManager) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return values(cm.byAuction[auctionID])
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return values(cm.byUser[userID])
}

// BroadcastToAuction encodes message once and writes the same frame to every
// connection of the auction. A failing connection does not stop the others.
func (cm *ConnectionManager) BroadcastToAuction(auctionID string, message interface{}) error {
	frame, err := json.Marshal(message)
	if err != nil {
		return err
	}

	connections := cm.GetConnectionsForAuction(auctionID)
	cm.log.Debug("Broadcasting to auction", "auction_id", auctionID, "connections", len(connections))

	for _, conn := range connections {
		if err := conn.Send(json.RawMessage(frame)); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(),
				"auction_id", auctionID, "error", err)
		}
	}
	return nil
}

func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	frame, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, conn := range cm.GetConnectionsForUser(userID) {
		if err := conn.Send(json.RawMessage(frame)); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "error", err)
		}
	}
	return nil
}

func put(index map[string]map[string]domain.WebSocketConnection, outer, inner string, conn domain.WebSocketConnection) {
	if index[outer] == nil {
		index[outer] = make(map[string]domain.WebSocketConnection)
	}
	index[outer][inner] = conn
}

func remove(index map[string]map[string]domain.WebSocketConnection, outer, inner string) {
	if m, ok := index[outer]; ok {
		delete(m, inner)
		if len(m) == 0 {
			delete(index, outer)
		}
	}
}

func values(m map[string]domain.WebSocketConnection) []domain.WebSocketConnection {
	out := make([]domain.WebSocketConnection, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}
