package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Allowance frequencies.
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// AllowanceConfig is a recurring disbursement schedule for one account.
// Several rows may exist per account historically; the most recently
// created enabled row is the authoritative one.
type AllowanceConfig struct {
	ID        int64           `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Frequency string          `json:"frequency" db:"frequency"`
	NextDue   time.Time       `json:"next_due" db:"next_due"`
	Enabled   bool            `json:"enabled" db:"enabled"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// ValidFrequency reports whether f is a supported allowance frequency.
func ValidFrequency(f string) bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}
