package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Affiliate struct {
	ID             int             `json:"id"`
	Code           string          `json:"code"`
	CommissionRate decimal.Decimal `json:"commission_rate"` // percent
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ConversionStatus string

const (
	ConversionStatusPending  ConversionStatus = "pending"
	ConversionStatusApproved ConversionStatus = "approved"
	ConversionStatusPaid     ConversionStatus = "paid"
)

type AffiliateConversion struct {
	ID          int              `json:"id"`
	AffiliateID int              `json:"affiliate_id"`
	OrderID     string           `json:"order_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Commission  decimal.Decimal  `json:"commission"`
	Status      ConversionStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

type AffiliateClick struct {
	AffiliateID int    `json:"affiliate_id"`
	LandingPath string `json:"landing_path"`
	IP          string `json:"ip"`
	UserAgent   string `json:"user_agent"`
}

type AffiliateStats struct {
	AffiliateID     int             `json:"affiliate_id"`
	Clicks          int             `json:"clicks"`
	Conversions     int             `json:"conversions"`
	TotalCommission decimal.Decimal `json:"total_commission"`
}

type RecordClickRequest struct {
	Code        string `json:"code" binding:"required"`
	LandingPath string `json:"landingPath"`
}

// Commission computes amount * rate / 100, rounded to two places.
func Commission(amount, ratePercent decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratePercent).Div(decimal.NewFromInt(100)).Round(2)
}
