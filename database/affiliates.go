package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cvpay-svc/models"
)

type AffiliateStore struct {
	db *sql.DB
}

func NewAffiliateStore(db *sql.DB) *AffiliateStore {
	return &AffiliateStore{db: db}
}

func (s *AffiliateStore) GetByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	return s.get(ctx, "code", code)
}

func (s *AffiliateStore) GetByID(ctx context.Context, id int) (*models.Affiliate, error) {
	return s.get(ctx, "id", id)
}

func (s *AffiliateStore) get(ctx context.Context, column string, value any) (*models.Affiliate, error) {
	var a models.Affiliate
	err := s.db.QueryRowContext(ctx,
		"SELECT id, code, commission_rate, active, created_at FROM affiliates WHERE "+column+" = $1", value,
	).Scan(&a.ID, &a.Code, &a.CommissionRate, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get affiliate by %s: %w", column, err)
	}
	return &a, nil
}

func (s *AffiliateStore) RecordClick(ctx context.Context, click models.AffiliateClick) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO affiliate_clicks (affiliate_id, landing_path, ip, user_agent) VALUES ($1, $2, $3, $4)",
		click.AffiliateID, click.LandingPath, click.IP, click.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to record click for affiliate %d: %w", click.AffiliateID, err)
	}
	return nil
}

// RecordConversion inserts the conversion for an order at most once. It
// reports false when a conversion for the order already exists.
func (s *AffiliateStore) RecordConversion(ctx context.Context, conv *models.AffiliateConversion) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO affiliate_conversions (affiliate_id, order_id, amount, commission, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING`,
		conv.AffiliateID, conv.OrderID, conv.Amount, conv.Commission, conv.Status,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record conversion for %s: %w", conv.OrderID, err)
	}
	return affected(res)
}

func (s *AffiliateStore) Stats(ctx context.Context, affiliateID int) (models.AffiliateStats, error) {
	stats := models.AffiliateStats{AffiliateID: affiliateID}
	err := s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM affiliate_clicks WHERE affiliate_id = $1),
			(SELECT COUNT(*) FROM affiliate_conversions WHERE affiliate_id = $1),
			(SELECT COALESCE(SUM(commission), 0) FROM affiliate_conversions WHERE affiliate_id = $1)`,
		affiliateID,
	).Scan(&stats.Clicks, &stats.Conversions, &stats.TotalCommission)
	if err != nil {
		return stats, fmt.Errorf("failed to load stats for affiliate %d: %w", affiliateID, err)
	}
	return stats, nil
}
