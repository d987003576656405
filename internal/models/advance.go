package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Advance request states. Pending is the only non-terminal state.
const (
	AdvancePending   = "pending"
	AdvanceApproved  = "approved"
	AdvanceRejected  = "rejected"
	AdvanceCancelled = "cancelled"
)

// AdvanceRequest asks for part of a future allowance to be released early.
// An account holds at most one pending request at a time. On approval the
// requested amount is credited to the account and subtracted from the
// allowance configuration so the next regular disbursement is smaller.
type AdvanceRequest struct {
	ID          string          `json:"id" db:"id"`
	AccountID   string          `json:"account_id" db:"account_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      string          `json:"status" db:"status"`
	Reason      *string         `json:"reason,omitempty" db:"reason"`
	RequestedAt time.Time       `json:"requested_at" db:"requested_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy  *string         `json:"resolved_by,omitempty" db:"resolved_by"`
}
