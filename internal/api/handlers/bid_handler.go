package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"auction-core/internal/services"
	"auction-core/pkg/logger"
)

type BidHandler struct {
	bidService     *services.BidService
	auctionManager *services.AuctionManager
	log            logger.Logger
}

type PlaceBidRequest struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type PlaceBidResponse struct {
	Accepted        bool             `json:"accepted"`
	BidID           string           `json:"bid_id,omitempty"`
	CurrentHighest  *decimal.Decimal `json:"current_highest"`
	HighestBidderID string           `json:"highest_bidder_id,omitempty"`
	EndTime         time.Time        `json:"end_time"`
	Reason          string           `json:"reason,omitempty"`
}

func NewBidHandler(bidService *services.BidService, auctionManager *services.AuctionManager, log logger.Logger) *BidHandler {
	return &BidHandler{
		bidService:     bidService,
		auctionManager: auctionManager,
		log:            log,
	}
}

func (h *BidHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/auctions/{auctionID}/bids", h.PlaceBid).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auctions/{auctionID}", h.GetAuctionState).Methods(http.MethodGet)
}

func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.bidService.SubmitBid(r.Context(), auctionID, req.BidderID, req.Amount, time.Time{})
	if err != nil && result == nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("Failed to submit bid", "auction_id", auctionID, "error", err)
		}
		writeJSON(w, status, newErrorResponse(err))
		return
	}

	resp := PlaceBidResponse{
		Accepted:        result.Accepted,
		CurrentHighest:  result.CurrentHighest,
		HighestBidderID: result.HighestBidderID,
		EndTime:         result.EndTime,
		Reason:          result.Reason,
	}
	if result.Bid != nil {
		resp.BidID = result.Bid.ID
	}
	if !result.Accepted {
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *BidHandler) GetAuctionState(w http.ResponseWriter, r *http.Request) {
	state, err := h.auctionManager.GetAuctionState(r.Context(), mux.Vars(r)["auctionID"])
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			h.log.Error("Failed to get auction state", "error", err)
		}
		writeJSON(w, statusFor(err), newErrorResponse(err))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
