package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"auction-core/internal/domain"
)

const errDuplicateEntry = 1062

const paymentColumns = `id, auction_id, bid_id, bidder_id, amount, external_reference,
        status, failure_reason, created_at, updated_at`

type MySQLPaymentRepository struct {
	db *sql.DB
}

func NewMySQLPaymentRepository(db *sql.DB) *MySQLPaymentRepository {
	return &MySQLPaymentRepository{db: db}
}

func (r *MySQLPaymentRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	now := time.Now().UTC()
	payment.CreatedAt, payment.UpdatedAt = now, now

	query := `
        INSERT INTO payments (id, auction_id, bid_id, bidder_id, amount, external_reference,
            status, failure_reason, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		payment.ID, payment.AuctionID, payment.BidID, payment.BidderID, payment.Amount,
		nullString(payment.ExternalReference), string(payment.Status),
		nullString(payment.FailureReason), payment.CreatedAt, payment.UpdatedAt)
	if isDuplicate(err) {
		return fmt.Errorf("create payment for auction %s: %w", payment.AuctionID, domain.ErrPaymentExists)
	}
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", payment.ID, err)
	}
	return nil
}

func (r *MySQLPaymentRepository) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return r.getPaymentWhere(ctx, "id = ?", paymentID)
}

func (r *MySQLPaymentRepository) GetPaymentByAuction(ctx context.Context, auctionID string) (*domain.Payment, error) {
	return r.getPaymentWhere(ctx, "auction_id = ?", auctionID)
}

func (r *MySQLPaymentRepository) GetPaymentByExternalReference(ctx context.Context, ref string) (*domain.Payment, error) {
	return r.getPaymentWhere(ctx, "external_reference = ?", ref)
}

func (r *MySQLPaymentRepository) getPaymentWhere(ctx context.Context, cond string, arg interface{}) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + cond
	payment, err := scanPayment(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment where %s [%v]: %w", cond, arg, domain.ErrPaymentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("payment where %s [%v]: %w", cond, arg, err)
	}
	return payment, nil
}

func (r *MySQLPaymentRepository) SetExternalReference(ctx context.Context, paymentID, ref string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET external_reference = ?, updated_at = ? WHERE id = ? AND external_reference IS NULL`,
		ref, time.Now().UTC(), paymentID)
	if isDuplicate(err) {
		return fmt.Errorf("reference %s already in use: %w", ref, domain.ErrExternalReferenceSet)
	}
	if err != nil {
		return fmt.Errorf("set reference on payment %s: %w", paymentID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	payment, err := r.GetPayment(ctx, paymentID)
	if err != nil {
		return err
	}
	if payment.ExternalReference == ref {
		return nil
	}
	return fmt.Errorf("payment %s already has reference %s: %w", paymentID, payment.ExternalReference, domain.ErrExternalReferenceSet)
}

func (r *MySQLPaymentRepository) ProcessedEvent(ctx context.Context, eventID string) (domain.ConfirmationOutcome, bool, error) {
	var outcome string
	err := r.db.QueryRowContext(ctx, `SELECT outcome FROM processed_events WHERE event_id = ?`, eventID).Scan(&outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup event %s: %w", eventID, err)
	}
	return domain.ConfirmationOutcome(outcome), true, nil
}

// ApplyPaymentTransition records the event id, moves the payment and, when
// requested, CAS-writes the auction in one transaction.
func (r *MySQLPaymentRepository) ApplyPaymentTransition(ctx context.Context, t domain.PaymentTransition) error {
	var version int64
	if t.Auction != nil {
		version = t.Auction.Version
	}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if t.EventID != "" {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO processed_events (event_id, payment_id, outcome, processed_at) VALUES (?, ?, ?, ?)`,
				t.EventID, t.PaymentID, string(t.Outcome), now)
			if isDuplicate(err) {
				return fmt.Errorf("apply event %s: %w", t.EventID, domain.ErrEventAlreadyProcessed)
			}
			if err != nil {
				return fmt.Errorf("record event %s: %w", t.EventID, err)
			}
		}

		var (
			status string
			ref    sql.NullString
		)
		err := tx.QueryRowContext(ctx, `SELECT status, external_reference FROM payments WHERE id = ? FOR UPDATE`, t.PaymentID).Scan(&status, &ref)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("apply transition to payment %s: %w", t.PaymentID, domain.ErrPaymentNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock payment %s: %w", t.PaymentID, err)
		}
		if domain.PaymentStatus(status) != t.From {
			return fmt.Errorf("payment %s is %s, expected %s: %w", t.PaymentID, status, t.From, domain.ErrConcurrencyConflict)
		}
		if t.Unreferenced && ref.String != "" {
			return fmt.Errorf("payment %s already has reference %s: %w", t.PaymentID, ref.String, domain.ErrConcurrencyConflict)
		}

		if t.From != t.To {
			_, err := tx.ExecContext(ctx,
				`UPDATE payments SET status = ?, failure_reason = COALESCE(?, failure_reason), updated_at = ? WHERE id = ?`,
				string(t.To), nullString(t.FailureReason), now, t.PaymentID)
			if err != nil {
				return fmt.Errorf("update payment %s: %w", t.PaymentID, err)
			}
		}

		if t.Auction != nil {
			return updateAuction(ctx, tx, t.Auction, t.AuctionExpectedVersion)
		}
		return nil
	})
	if err != nil && t.Auction != nil {
		t.Auction.Version = version
	}
	return err
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		payment domain.Payment
		ref     sql.NullString
		status  string
		reason  sql.NullString
	)
	err := row.Scan(&payment.ID, &payment.AuctionID, &payment.BidID, &payment.BidderID,
		&payment.Amount, &ref, &status, &reason, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return nil, err
	}
	payment.ExternalReference = ref.String
	payment.Status = domain.PaymentStatus(status)
	payment.FailureReason = reason.String
	return &payment, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}
