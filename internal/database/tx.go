package database

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTransaction runs fn inside a database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise, so multi-step
// mutations are atomic by construction: either every statement in fn
// persists or none does.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
