package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"auction-core/internal/domain"
	"auction-core/internal/infrastructure/websocket"
	"auction-core/internal/services"
	"auction-core/pkg/logger"
)

type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
}

func NewWebSocketHandlers(bidService *services.BidService, auctionManager *services.AuctionManager,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		wsHandler: websocket.NewWebSocketHandler(bidService, auctionManager, connManager, log),
	}
}

func (h *WebSocketHandlers) Register(r *mux.Router) {
	r.HandleFunc("/ws/auction/{auctionID}", h.HandleConnection)
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
