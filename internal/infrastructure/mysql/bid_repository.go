package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auction-core/internal/domain"
)

type MySQLBidRepository struct {
	db *sql.DB
}

func NewMySQLBidRepository(db *sql.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

// AcceptBid writes the auction snapshot, supersedes the previous winner and
// stores the new bid in one transaction.
func (r *MySQLBidRepository) AcceptBid(ctx context.Context, auction *domain.Auction, expectedVersion int64, bid *domain.Bid) error {
	version := auction.Version
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := updateAuction(ctx, tx, auction, expectedVersion); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE bids SET status = ? WHERE auction_id = ? AND status = ?`,
			string(domain.BidSuperseded), bid.AuctionID, string(domain.BidAccepted))
		if err != nil {
			return fmt.Errorf("supersede bids on %s: %w", bid.AuctionID, err)
		}
		return insertBid(ctx, tx, bid)
	})
	if err != nil {
		auction.Version = version
		return err
	}
	return nil
}

func (r *MySQLBidRepository) RecordRejectedBid(ctx context.Context, bid *domain.Bid) error {
	if bid.Status != domain.BidRejected {
		return fmt.Errorf("record rejected bid %s with status %s: %w", bid.ID, bid.Status, domain.ErrValidation)
	}
	return insertBid(ctx, r.db, bid)
}

func insertBid(ctx context.Context, q querier, bid *domain.Bid) error {
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO bids (id, auction_id, bidder_id, amount, submitted_at, status, reject_reason, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := q.ExecContext(ctx, query,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.SubmittedAt,
		string(bid.Status), nullString(bid.RejectReason), bid.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bid %s: %w", bid.ID, err)
	}
	return nil
}

func (r *MySQLBidRepository) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	query := `
        SELECT id, auction_id, bidder_id, amount, submitted_at, status, reject_reason, created_at
        FROM bids WHERE id = ?
    `
	bid, err := scanBid(r.db.QueryRowContext(ctx, query, bidID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get bid %s: %w", bidID, domain.ErrBidNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bid %s: %w", bidID, err)
	}
	return bid, nil
}

func (r *MySQLBidRepository) ListBids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	query := `
        SELECT id, auction_id, bidder_id, amount, submitted_at, status, reject_reason, created_at
        FROM bids
        WHERE auction_id = ?
        ORDER BY created_at ASC
    `
	rows, err := r.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("list bids for %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var (
		bid    domain.Bid
		status string
		reason sql.NullString
	)
	err := row.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount,
		&bid.SubmittedAt, &status, &reason, &bid.CreatedAt)
	if err != nil {
		return nil, err
	}
	bid.Status = domain.BidStatus(status)
	bid.RejectReason = reason.String
	return &bid, nil
}
