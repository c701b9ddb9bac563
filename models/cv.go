package models

import "time"

type CVStatus string

const (
	CVStatusDraft          CVStatus = "draft"
	CVStatusPendingPayment CVStatus = "pending_payment"
	CVStatusPaid           CVStatus = "paid"
	CVStatusDownloaded     CVStatus = "downloaded"
)

// Unlocked reports whether the CV may be downloaded.
func (s CVStatus) Unlocked() bool {
	return s == CVStatusPaid || s == CVStatusDownloaded
}

type CV struct {
	ID        string    `json:"id"`
	Status    CVStatus  `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
