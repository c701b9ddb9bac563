package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is defined out of s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusCompleted:  {},
	PaymentStatusFailed:     {},
}

// CanTransition reports whether from -> to moves forward along
// pending -> processing -> {completed, failed}.
func CanTransition(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Payment struct {
	ID              int             `json:"id"`
	OrderID         string          `json:"order_id"`
	CVID            string          `json:"cv_id,omitempty"`
	AffiliateID     *int            `json:"affiliate_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	MSISDN          string          `json:"msisdn"`
	Status          PaymentStatus   `json:"status"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	SelcomReference string          `json:"selcom_reference,omitempty"`
	RawCallback     json.RawMessage `json:"-"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PaymentEvent is published after a payment reaches a terminal status.
type PaymentEvent struct {
	OrderID       string          `json:"order_id"`
	CVID          string          `json:"cv_id,omitempty"`
	MSISDN        string          `json:"msisdn"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        PaymentStatus   `json:"status"`
	EventType     string          `json:"event_type"` // payment_completed, payment_failed
	TransactionID string          `json:"transaction_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

const (
	EventPaymentCompleted = "payment_completed"
	EventPaymentFailed    = "payment_failed"
)

type InitiatePaymentRequest struct {
	CVID          string `json:"cvId" binding:"required"`
	Phone         string `json:"phone" binding:"required"`
	AffiliateCode string `json:"affiliateCode"`
}

type InitiatePaymentResponse struct {
	OrderID   string        `json:"orderId"`
	Status    PaymentStatus `json:"status"`
	Reference string        `json:"reference,omitempty"`
	Message   string        `json:"message"`
}

type PaymentStatusResponse struct {
	Status        PaymentStatus `json:"status"`
	CVID          string        `json:"cvId,omitempty"`
	TransactionID string        `json:"transactionId,omitempty"`
	Message       string        `json:"message"`
}
