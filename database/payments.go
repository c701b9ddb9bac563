package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cvpay-svc/models"
)

type PaymentStore struct {
	db *sql.DB
}

func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

const paymentColumns = `id, order_id, cv_id, affiliate_id, amount, currency, msisdn, status,
	transaction_id, selcom_reference, raw_callback, completed_at, created_at, updated_at`

// Create inserts a new payment. A second payment for the same order id fails
// with ErrDuplicate.
func (s *PaymentStore) Create(ctx context.Context, p *models.Payment) error {
	var affiliateID sql.NullInt64
	if p.AffiliateID != nil {
		affiliateID = sql.NullInt64{Int64: int64(*p.AffiliateID), Valid: true}
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO payments (order_id, cv_id, affiliate_id, amount, currency, msisdn, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		p.OrderID, nullString(p.CVID), affiliateID, p.Amount, p.Currency, p.MSISDN, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment %s: %w", p.OrderID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *PaymentStore) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)

	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment %s: %w", orderID, err)
	}
	return p, nil
}

// MarkProcessing moves a pending payment to processing once the gateway has
// accepted the push. It reports false when the payment was not pending.
func (s *PaymentStore) MarkProcessing(ctx context.Context, orderID, reference string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments
		SET status = 'processing', selcom_reference = COALESCE($2, selcom_reference), updated_at = NOW()
		WHERE order_id = $1 AND status = 'pending'`,
		orderID, nullString(reference),
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment %s processing: %w", orderID, err)
	}
	return affected(res)
}

// Completion carries the gateway data recorded when a payment completes.
type Completion struct {
	OrderID       string
	CVID          string
	TransactionID string
	Reference     string
	RawCallback   []byte
	CompletedAt   time.Time
}

// Complete transitions a non-terminal payment to completed and, in the same
// transaction, unlocks the CV. It reports false without side effects when the
// payment was already terminal, which is how concurrent or repeated completions
// collapse into one.
func (s *PaymentStore) Complete(ctx context.Context, c Completion) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE payments
		SET status = 'completed',
			transaction_id = $2,
			selcom_reference = COALESCE($3, selcom_reference),
			raw_callback = COALESCE($4::jsonb, raw_callback),
			completed_at = $5,
			cv_id = COALESCE(cv_id, $6::uuid),
			updated_at = NOW()
		WHERE order_id = $1 AND status IN ('pending', 'processing')`,
		c.OrderID, nullString(c.TransactionID), nullString(c.Reference), nullJSON(c.RawCallback), c.CompletedAt, nullString(c.CVID),
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete payment %s: %w", c.OrderID, err)
	}
	ok, err := affected(res)
	if err != nil || !ok {
		return false, err
	}

	if c.CVID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cvs SET status = 'paid', updated_at = NOW()
			WHERE id = $1 AND status IN ('draft', 'pending_payment')`,
			c.CVID,
		); err != nil {
			return false, fmt.Errorf("failed to mark cv %s paid: %w", c.CVID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit completion of %s: %w", c.OrderID, err)
	}
	return true, nil
}

type Failure struct {
	OrderID       string
	TransactionID string
	Reference     string
	RawCallback   []byte
}

// Fail transitions a non-terminal payment to failed. The CV is left untouched.
func (s *PaymentStore) Fail(ctx context.Context, f Failure) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments
		SET status = 'failed',
			transaction_id = COALESCE($2, transaction_id),
			selcom_reference = COALESCE($3, selcom_reference),
			raw_callback = COALESCE($4::jsonb, raw_callback),
			updated_at = NOW()
		WHERE order_id = $1 AND status IN ('pending', 'processing')`,
		f.OrderID, nullString(f.TransactionID), nullString(f.Reference), nullJSON(f.RawCallback),
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail payment %s: %w", f.OrderID, err)
	}
	return affected(res)
}

// ListStale returns processing payments created before olderThan, oldest first.
func (s *PaymentStore) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id FROM payments
		WHERE status = 'processing' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale payments: %w", err)
	}
	defer rows.Close()

	var orderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale payment: %w", err)
		}
		orderIDs = append(orderIDs, id)
	}
	return orderIDs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p           models.Payment
		cvID        sql.NullString
		affiliateID sql.NullInt64
		txID        sql.NullString
		reference   sql.NullString
		raw         []byte
		completedAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.OrderID, &cvID, &affiliateID, &p.Amount, &p.Currency, &p.MSISDN, &p.Status,
		&txID, &reference, &raw, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.CVID = cvID.String
	if affiliateID.Valid {
		id := int(affiliateID.Int64)
		p.AffiliateID = &id
	}
	p.TransactionID = txID.String
	p.SelcomReference = reference.String
	p.RawCallback = raw
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
