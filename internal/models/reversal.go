package models

import "time"

// Reversal links an original ledger entry to its inverse entry. At most one
// reversal exists per original entry (unique constraint on
// original_entry_id). Reverted flips to true exactly once, when the
// reversal itself is undone.
type Reversal struct {
	ID              int64      `json:"id" db:"id"`
	OriginalEntryID int64      `json:"original_entry_id" db:"original_entry_id"`
	ReversalEntryID int64      `json:"reversal_entry_id" db:"reversal_entry_id"`
	PerformedBy     string     `json:"performed_by" db:"performed_by"`
	PerformedAt     time.Time  `json:"performed_at" db:"performed_at"`
	Reverted        bool       `json:"reverted" db:"reverted"`
	RevertedBy      *string    `json:"reverted_by,omitempty" db:"reverted_by"`
	RevertedAt      *time.Time `json:"reverted_at,omitempty" db:"reverted_at"`
}

// ReversalFilter narrows a reversal listing. Nil fields are ignored.
type ReversalFilter struct {
	AccountID       string
	OriginalEntryID int64
	Reverted        *bool
}
