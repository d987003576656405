package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry categories. A category is fixed at insert time and never changes.
const (
	CategoryManual       = "manual"
	CategoryAllowance    = "allowance"
	CategoryTask         = "task"
	CategoryAdvance      = "advance"
	CategoryDeposit      = "deposit"
	CategoryReversal     = "reversal"
	CategoryReversalUndo = "reversal_undo"
)

// LedgerEntry is an immutable signed monetary fact. Positive amounts are
// credits, negative amounts are debits. Entries are never updated or
// deleted; a mistake is corrected by posting a reversal entry.
type LedgerEntry struct {
	ID          int64           `json:"id" db:"id"`
	Reference   string          `json:"reference" db:"reference"`
	AccountID   string          `json:"account_id" db:"account_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Category    string          `json:"category" db:"category"`
	Description string          `json:"description" db:"description"`
	CreatedBy   *string         `json:"created_by,omitempty" db:"created_by"` // nil = system-generated
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// ValidCategory reports whether c is one of the known entry categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryManual, CategoryAllowance, CategoryTask, CategoryAdvance,
		CategoryDeposit, CategoryReversal, CategoryReversalUndo:
		return true
	}
	return false
}
