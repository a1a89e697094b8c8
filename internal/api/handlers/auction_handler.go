package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"auction-core/internal/domain"
	"auction-core/internal/services"
	"auction-core/pkg/logger"
)

type AuctionHandler struct {
	auctionManager *services.AuctionManager
	escrow         *services.EscrowCoordinator
	log            logger.Logger
}

type CreateAuctionRequest struct {
	SellerID  string          `json:"seller_id"`
	MinBid    decimal.Decimal `json:"min_bid"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
}

type BidView struct {
	ID           string          `json:"id"`
	AuctionID    string          `json:"auction_id"`
	BidderID     string          `json:"bidder_id"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	RejectReason string          `json:"reject_reason,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
}

type PaymentView struct {
	ID                string          `json:"id"`
	AuctionID         string          `json:"auction_id"`
	BidderID          string          `json:"bidder_id"`
	Amount            decimal.Decimal `json:"amount"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference,omitempty"`
}

func NewAuctionHandler(auctionManager *services.AuctionManager, escrow *services.EscrowCoordinator, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionManager: auctionManager,
		escrow:         escrow,
		log:            log,
	}
}

// Register mounts the auction routes on g.
func (h *AuctionHandler) Register(g *echo.Group) {
	g.POST("/auctions", h.CreateAuction)
	g.GET("/auctions/:id", h.GetAuction)
	g.GET("/auctions/:id/bids", h.ListBids)
	g.POST("/auctions/:id/cancel", h.CancelAuction)
	g.POST("/payments/:id/refund", h.RequestRefund)
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	h.log.Debug("CreateAuction endpoint called",
		"remote_addr", c.RealIP(),
		"user_agent", c.Request().UserAgent())

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Debug("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	auction, err := h.auctionManager.CreateAuction(c.Request().Context(), services.CreateAuctionParams{
		SellerID:  req.SellerID,
		MinBid:    req.MinBid,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		return h.fail(c, "Failed to create auction", err)
	}
	return c.JSON(http.StatusCreated, services.NewAuctionState(auction))
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	state, err := h.auctionManager.GetAuctionState(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "Failed to get auction", err)
	}
	return c.JSON(http.StatusOK, state)
}

func (h *AuctionHandler) ListBids(c echo.Context) error {
	bids, err := h.auctionManager.ListBids(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "Failed to list bids", err)
	}

	views := make([]BidView, 0, len(bids))
	for _, b := range bids {
		views = append(views, BidView{
			ID:           b.ID,
			AuctionID:    b.AuctionID,
			BidderID:     b.BidderID,
			Amount:       b.Amount,
			Status:       string(b.Status),
			RejectReason: b.RejectReason,
			SubmittedAt:  b.SubmittedAt,
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (h *AuctionHandler) CancelAuction(c echo.Context) error {
	auction, err := h.auctionManager.CancelAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "Failed to cancel auction", err)
	}
	return c.JSON(http.StatusOK, services.NewAuctionState(auction))
}

// RequestRefund answers 202: the payment becomes REFUNDED once the gateway
// confirms through the confirmation endpoint.
func (h *AuctionHandler) RequestRefund(c echo.Context) error {
	payment, err := h.escrow.RequestRefund(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "Failed to request refund", err)
	}
	return c.JSON(http.StatusAccepted, newPaymentView(payment))
}

func (h *AuctionHandler) fail(c echo.Context, msg string, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, "path", c.Path(), "error", err)
	} else {
		h.log.Debug(msg, "path", c.Path(), "error", err)
	}
	return c.JSON(status, newErrorResponse(err))
}

func newPaymentView(p *domain.Payment) PaymentView {
	return PaymentView{
		ID:                p.ID,
		AuctionID:         p.AuctionID,
		BidderID:          p.BidderID,
		Amount:            p.Amount,
		Status:            string(p.Status),
		ExternalReference: p.ExternalReference,
	}
}
