package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"auction-core/internal/domain"
)

const auctionColumns = `id, seller_id, min_bid, start_time, end_time, status,
        highest_bid_id, highest_bidder_id, highest_amount, version, created_at, updated_at`

type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

func (r *MySQLAuctionRepository) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	if auction.Version == 0 {
		auction.Version = 1
	}
	now := time.Now().UTC()
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = now
	}
	auction.UpdatedAt = now

	query := `
        INSERT INTO auctions (id, seller_id, min_bid, start_time, end_time, status,
            highest_bid_id, highest_bidder_id, highest_amount, version, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.MinBid, auction.StartTime, auction.EndTime,
		int(auction.Status), nullString(auction.HighestBidID), nullString(auction.HighestBidderID),
		nullAmount(auction), auction.Version, auction.CreatedAt, auction.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert auction %s: %w", auction.ID, err)
	}
	return nil
}

func (r *MySQLAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get auction %s: %w", auctionID, domain.ErrAuctionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

func (r *MySQLAuctionRepository) UpdateAuction(ctx context.Context, auction *domain.Auction, expectedVersion int64) error {
	return updateAuction(ctx, r.db, auction, expectedVersion)
}

func (r *MySQLAuctionRepository) ListOverdueAuctions(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + `
        FROM auctions
        WHERE status IN (?, ?) AND end_time <= ?
        ORDER BY end_time ASC
        LIMIT ?
    `
	rows, err := r.db.QueryContext(ctx, query,
		int(domain.AuctionScheduled), int(domain.AuctionActive), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue auctions: %w", err)
	}
	defer rows.Close()

	return scanAuctions(rows)
}

func (r *MySQLAuctionRepository) ListAuctionsAwaitingPayment(ctx context.Context, limit int) ([]*domain.Auction, error) {
	query := `SELECT a.id, a.seller_id, a.min_bid, a.start_time, a.end_time, a.status,
            a.highest_bid_id, a.highest_bidder_id, a.highest_amount, a.version, a.created_at, a.updated_at
        FROM auctions a
        LEFT JOIN payments p ON p.auction_id = a.id
        WHERE a.status = ? AND a.highest_bid_id IS NOT NULL
          AND (p.id IS NULL OR (p.status = ? AND p.external_reference IS NULL))
        ORDER BY a.end_time ASC
        LIMIT ?
    `
	rows, err := r.db.QueryContext(ctx, query,
		int(domain.AuctionEnded), string(domain.PaymentPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list auctions awaiting payment: %w", err)
	}
	defer rows.Close()

	return scanAuctions(rows)
}

// updateAuction is the compare-and-swap write shared by every auction mutation.
func updateAuction(ctx context.Context, q querier, auction *domain.Auction, expectedVersion int64) error {
	now := time.Now().UTC()
	query := `
        UPDATE auctions
        SET status = ?, end_time = ?, highest_bid_id = ?, highest_bidder_id = ?,
            highest_amount = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND version = ?
    `
	res, err := q.ExecContext(ctx, query,
		int(auction.Status), auction.EndTime, nullString(auction.HighestBidID),
		nullString(auction.HighestBidderID), nullAmount(auction), now,
		auction.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update auction %s: %w", auction.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update auction %s: %w", auction.ID, err)
	}
	if n == 0 {
		var stored int64
		err := q.QueryRowContext(ctx, `SELECT version FROM auctions WHERE id = ?`, auction.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update auction %s: %w", auction.ID, domain.ErrAuctionNotFound)
		}
		if err != nil {
			return fmt.Errorf("update auction %s: %w", auction.ID, err)
		}
		return fmt.Errorf("update auction %s at version %d (stored %d): %w",
			auction.ID, expectedVersion, stored, domain.ErrConcurrencyConflict)
	}

	auction.Version = expectedVersion + 1
	auction.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var (
		auction       domain.Auction
		status        int
		highestBid    sql.NullString
		highestBidder sql.NullString
		highestAmount decimal.NullDecimal
	)
	err := row.Scan(&auction.ID, &auction.SellerID, &auction.MinBid, &auction.StartTime,
		&auction.EndTime, &status, &highestBid, &highestBidder, &highestAmount,
		&auction.Version, &auction.CreatedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	auction.Status = domain.AuctionStatus(status)
	auction.HighestBidID = highestBid.String
	auction.HighestBidderID = highestBidder.String
	if highestAmount.Valid {
		auction.HighestAmount = highestAmount.Decimal
	}
	return &auction, nil
}

func scanAuctions(rows *sql.Rows) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}
	return auctions, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullAmount(a *domain.Auction) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: a.HighestAmount, Valid: a.HasHighestBid()}
}
