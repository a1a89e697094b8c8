package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"auction-core/internal/domain"
	"auction-core/internal/services"
	"auction-core/pkg/logger"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type clientMessage struct {
	Type   string `json:"type"`
	Amount string `json:"amount,omitempty"`
}

type bidResultMessage struct {
	Type           string           `json:"type"`
	Accepted       bool             `json:"accepted"`
	BidID          string           `json:"bid_id,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	CurrentHighest *decimal.Decimal `json:"current_highest,omitempty"`
}

type stateMessage struct {
	Type  string                 `json:"type"`
	State *services.AuctionState `json:"state"`
}

type WebSocketHandler struct {
	bidService     *services.BidService
	auctionManager *services.AuctionManager
	connManager    domain.ConnectionManager
	log            logger.Logger
}

func NewWebSocketHandler(bidService *services.BidService, auctionManager *services.AuctionManager,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bidService:     bidService,
		auctionManager: auctionManager,
		connManager:    connManager,
		log:            log,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	auction, err := h.auctionManager.GetAuction(r.Context(), auctionID)
	if errors.Is(err, domain.ErrAuctionNotFound) {
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if auction.Status.IsClosed() || !time.Now().Before(auction.EndTime) {
		http.Error(w, "auction has already ended", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID)
	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		conn.Close()
		return
	}

	if err := wsConn.Send(stateMessage{Type: "auction_state", State: services.NewAuctionState(auction)}); err != nil {
		h.log.Debug("Failed to send initial state", "user_id", userID, "error", err)
	}

	go h.handleMessages(wsConn)
}

func (h *WebSocketHandler) handleMessages(conn *WebSocketConnection) {
	defer func() {
		h.connManager.UnregisterConnection(conn.UserID(), conn.AuctionID())
		conn.Close()
	}()

	for {
		var msg clientMessage
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("WebSocket read failed", "user_id", conn.UserID(), "error", err)
			}
			return
		}

		switch msg.Type {
		case "place_bid":
			h.handleBidMessage(conn, msg)
		case "ping":
			conn.Send(map[string]string{"type": "pong"})
		default:
			conn.Send(map[string]string{"type": "error", "message": "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(conn *WebSocketConnection, msg clientMessage) {
	amount, err := decimal.NewFromString(msg.Amount)
	if err != nil {
		conn.Send(map[string]string{"type": "error", "message": "invalid amount format"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	result, err := h.bidService.SubmitBid(ctx, conn.AuctionID(), conn.UserID(), amount, time.Now())
	if err != nil && result == nil {
		reason := domain.RejectionReason(err)
		if reason == "" {
			h.log.Error("Failed to place bid", "auction_id", conn.AuctionID(), "error", err)
			reason = "internal_error"
		}
		conn.Send(bidResultMessage{Type: "bid_result", Reason: reason})
		return
	}

	conn.Send(bidResultMessage{
		Type:           "bid_result",
		Accepted:       result.Accepted,
		BidID:          result.Bid.ID,
		Reason:         result.Reason,
		CurrentHighest: result.CurrentHighest,
	})
}

// WebSocketConnection serializes writes; gorilla connections allow one writer.
type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	writeMu   sync.Mutex
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
	}
}

func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()

	wsc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) Close() error {
	return wsc.conn.Close()
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
