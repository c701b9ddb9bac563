package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cvpay-svc/config"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

func InitDB(cfg config.Database, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cvs (
		id UUID PRIMARY KEY,
		status VARCHAR(20) NOT NULL DEFAULT 'draft'
			CHECK (status IN ('draft', 'pending_payment', 'paid', 'downloaded')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS affiliates (
		id SERIAL PRIMARY KEY,
		code VARCHAR(50) UNIQUE NOT NULL,
		commission_rate NUMERIC(5, 2) NOT NULL DEFAULT 10,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id SERIAL PRIMARY KEY,
		order_id VARCHAR(100) UNIQUE NOT NULL,
		cv_id UUID,
		affiliate_id INTEGER REFERENCES affiliates(id),
		amount NUMERIC(12, 2) NOT NULL,
		currency VARCHAR(3) NOT NULL DEFAULT 'TZS',
		msisdn VARCHAR(20) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
		transaction_id VARCHAR(255),
		selcom_reference VARCHAR(255),
		raw_callback JSONB,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status_created ON payments (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_cv_id ON payments (cv_id)`,
	`CREATE TABLE IF NOT EXISTS affiliate_clicks (
		id SERIAL PRIMARY KEY,
		affiliate_id INTEGER NOT NULL REFERENCES affiliates(id),
		landing_path VARCHAR(500),
		ip VARCHAR(64),
		user_agent VARCHAR(500),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS affiliate_conversions (
		id SERIAL PRIMARY KEY,
		affiliate_id INTEGER NOT NULL REFERENCES affiliates(id),
		order_id VARCHAR(100) UNIQUE NOT NULL REFERENCES payments(order_id),
		amount NUMERIC(12, 2) NOT NULL,
		commission NUMERIC(12, 2) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'approved', 'paid')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the tables this service owns if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	logger.Info("Database schema is up to date", zap.Int("statements", len(schema)))
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
