package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds the running balance for one user. The balance is only ever
// written by the ledger service, atomically with the entry that changes it,
// so it always equals the sum of the account's ledger entries.
type Account struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
