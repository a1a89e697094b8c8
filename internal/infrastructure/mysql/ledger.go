package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"auction-core/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Ledger is the MySQL-backed domain.Ledger.
type Ledger struct {
	*MySQLAuctionRepository
	*MySQLBidRepository
	*MySQLPaymentRepository
}

var _ domain.Ledger = (*Ledger)(nil)

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{
		MySQLAuctionRepository: NewMySQLAuctionRepository(db),
		MySQLBidRepository:     NewMySQLBidRepository(db),
		MySQLPaymentRepository: NewMySQLPaymentRepository(db),
	}
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
