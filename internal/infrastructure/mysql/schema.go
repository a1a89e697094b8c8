package mysql

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS auctions (
        id                VARCHAR(64)    NOT NULL PRIMARY KEY,
        seller_id         VARCHAR(64)    NOT NULL,
        min_bid           DECIMAL(18,2)  NOT NULL,
        start_time        DATETIME(6)    NOT NULL,
        end_time          DATETIME(6)    NOT NULL,
        status            TINYINT        NOT NULL,
        highest_bid_id    VARCHAR(64)    NULL,
        highest_bidder_id VARCHAR(64)    NULL,
        highest_amount    DECIMAL(18,2)  NULL,
        version           BIGINT         NOT NULL DEFAULT 1,
        created_at        DATETIME(6)    NOT NULL,
        updated_at        DATETIME(6)    NOT NULL,
        INDEX idx_auctions_status_end (status, end_time)
    )`,
	`CREATE TABLE IF NOT EXISTS bids (
        id            VARCHAR(64)   NOT NULL PRIMARY KEY,
        auction_id    VARCHAR(64)   NOT NULL,
        bidder_id     VARCHAR(64)   NOT NULL,
        amount        DECIMAL(18,2) NOT NULL,
        submitted_at  DATETIME(6)   NOT NULL,
        status        VARCHAR(16)   NOT NULL,
        reject_reason VARCHAR(64)   NULL,
        created_at    DATETIME(6)   NOT NULL,
        INDEX idx_bids_auction (auction_id, status)
    )`,
	`CREATE TABLE IF NOT EXISTS payments (
        id                 VARCHAR(64)   NOT NULL PRIMARY KEY,
        auction_id         VARCHAR(64)   NOT NULL,
        bid_id             VARCHAR(64)   NOT NULL,
        bidder_id          VARCHAR(64)   NOT NULL,
        amount             DECIMAL(18,2) NOT NULL,
        external_reference VARCHAR(128)  NULL,
        status             VARCHAR(16)   NOT NULL,
        failure_reason     VARCHAR(255)  NULL,
        created_at         DATETIME(6)   NOT NULL,
        updated_at         DATETIME(6)   NOT NULL,
        UNIQUE KEY uq_payments_auction (auction_id),
        UNIQUE KEY uq_payments_reference (external_reference)
    )`,
	`CREATE TABLE IF NOT EXISTS processed_events (
        event_id     VARCHAR(128) NOT NULL PRIMARY KEY,
        payment_id   VARCHAR(64)  NOT NULL,
        outcome      VARCHAR(16)  NOT NULL,
        processed_at DATETIME(6)  NOT NULL
    )`,
}

// Migrate creates the ledger tables when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
