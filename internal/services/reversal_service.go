package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/famledger/backend/internal/database"
	"github.com/famledger/backend/internal/models"
	"github.com/shopspring/decimal"
)

// ReversalService inverts previously posted ledger entries. Each original
// entry can be reversed at most once, and each reversal can be undone at
// most once; both limits are enforced inside the same transaction as the
// compensating entry so concurrent attempts cannot both win.
type ReversalService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewReversalService(db *sql.DB, ledger *LedgerService) *ReversalService {
	return &ReversalService{db: db, ledger: ledger}
}

// Reverse posts the inverse of the original entry and records the link
// between the two. Reversing a credit debits the account, so it inherits
// the ledger's insufficient-funds check; if that fails nothing persists.
func (s *ReversalService) Reverse(ctx context.Context, originalEntryID int64, actorID string) (*models.Reversal, error) {
	var rec *models.Reversal
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		original, err := getEntry(ctx, tx, originalEntryID)
		if err != nil {
			return err
		}

		var exists bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM reversals WHERE original_entry_id = $1)`,
			originalEntryID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check existing reversal: %w", err)
		}
		if exists {
			return conflictf("Transaction already reversed")
		}

		inverse, err := s.ledger.PostTx(ctx, tx, PostParams{
			AccountID:   original.AccountID,
			Amount:      original.Amount.Neg(),
			Category:    models.CategoryReversal,
			Description: fmt.Sprintf("Reversal of transaction #%d", original.ID),
			CreatedBy:   &actorID,
		})
		if err != nil {
			return err
		}

		rec = &models.Reversal{
			OriginalEntryID: original.ID,
			ReversalEntryID: inverse.ID,
			PerformedBy:     actorID,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO reversals (original_entry_id, reversal_entry_id, performed_by)
			VALUES ($1, $2, $3)
			RETURNING id, performed_at`,
			rec.OriginalEntryID, rec.ReversalEntryID, rec.PerformedBy).
			Scan(&rec.ID, &rec.PerformedAt)
		if isUniqueViolation(err) {
			// A concurrent reversal of the same entry won the race and
			// committed after our existence check ran.
			return conflictf("Transaction already reversed")
		}
		if err != nil {
			return fmt.Errorf("insert reversal record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Undo re-posts the original entry's amount and closes out the reversal
// record. Permitted exactly once per reversal: a second undo finds no open
// record and reports not found, which keeps it distinguishable from
// "never reversed".
func (s *ReversalService) Undo(ctx context.Context, originalEntryID int64, actorID string) (int64, error) {
	var undoEntryID int64
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var (
			reversalID int64
			accountID  string
			amount     decimal.Decimal
		)
		err := tx.QueryRowContext(ctx, `
			SELECT r.id, e.account_id, e.amount
			FROM reversals r
			JOIN ledger_entries e ON e.id = r.original_entry_id
			WHERE r.original_entry_id = $1 AND r.reverted = false
			FOR UPDATE OF r`,
			originalEntryID).Scan(&reversalID, &accountID, &amount)
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundf("no reversible reversal found")
		}
		if err != nil {
			return fmt.Errorf("lock reversal for entry %d: %w", originalEntryID, err)
		}

		undo, err := s.ledger.PostTx(ctx, tx, PostParams{
			AccountID:   accountID,
			Amount:      amount,
			Category:    models.CategoryReversalUndo,
			Description: fmt.Sprintf("Undo reversal of transaction #%d", originalEntryID),
			CreatedBy:   &actorID,
		})
		if err != nil {
			return err
		}
		undoEntryID = undo.ID

		_, err = tx.ExecContext(ctx, `
			UPDATE reversals
			SET reverted = true, reverted_by = $1, reverted_at = now()
			WHERE id = $2`,
			actorID, reversalID)
		if err != nil {
			return fmt.Errorf("close reversal %d: %w", reversalID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return undoEntryID, nil
}

// ListReversals returns a page of reversal records, newest first, filtered
// by account (through the original entry), original entry or reverted
// status. The second return value is the total match count.
func (s *ReversalService) ListReversals(ctx context.Context, filter models.ReversalFilter, page, limit int) ([]models.Reversal, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	where := "1=1"
	args := []any{}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		where += fmt.Sprintf(" AND e.account_id = $%d", len(args))
	}
	if filter.OriginalEntryID != 0 {
		args = append(args, filter.OriginalEntryID)
		where += fmt.Sprintf(" AND r.original_entry_id = $%d", len(args))
	}
	if filter.Reverted != nil {
		args = append(args, *filter.Reverted)
		where += fmt.Sprintf(" AND r.reverted = $%d", len(args))
	}

	countQuery := `
		SELECT COUNT(*)
		FROM reversals r
		JOIN ledger_entries e ON e.id = r.original_entry_id
		WHERE ` + where
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reversals: %w", err)
	}

	args = append(args, limit, (page-1)*limit)
	listQuery := fmt.Sprintf(`
		SELECT r.id, r.original_entry_id, r.reversal_entry_id, r.performed_by,
		       r.performed_at, r.reverted, r.reverted_by, r.reverted_at
		FROM reversals r
		JOIN ledger_entries e ON e.id = r.original_entry_id
		WHERE %s
		ORDER BY r.performed_at DESC, r.id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reversals: %w", err)
	}
	defer rows.Close()

	records := []models.Reversal{}
	for rows.Next() {
		var r models.Reversal
		if err := rows.Scan(&r.ID, &r.OriginalEntryID, &r.ReversalEntryID,
			&r.PerformedBy, &r.PerformedAt, &r.Reverted, &r.RevertedBy, &r.RevertedAt); err != nil {
			return nil, 0, err
		}
		records = append(records, r)
	}
	return records, total, rows.Err()
}
