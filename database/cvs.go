package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cvpay-svc/models"
)

type CVStore struct {
	db *sql.DB
}

func NewCVStore(db *sql.DB) *CVStore {
	return &CVStore{db: db}
}

func (s *CVStore) Get(ctx context.Context, id string) (*models.CV, error) {
	var cv models.CV
	err := s.db.QueryRowContext(ctx,
		"SELECT id, status, updated_at FROM cvs WHERE id = $1", id,
	).Scan(&cv.ID, &cv.Status, &cv.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cv %s: %w", id, err)
	}
	return &cv, nil
}

// MarkPendingPayment flags a CV as awaiting payment. Paid CVs are never
// moved back.
func (s *CVStore) MarkPendingPayment(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cvs SET status = 'pending_payment', updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'pending_payment')`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark cv %s pending payment: %w", id, err)
	}
	return affected(res)
}

// MarkDownloaded records a download of an unlocked CV. It reports false if the
// CV has not been paid for.
func (s *CVStore) MarkDownloaded(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cvs SET status = 'downloaded', updated_at = NOW()
		WHERE id = $1 AND status IN ('paid', 'downloaded')`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark cv %s downloaded: %w", id, err)
	}
	return affected(res)
}
