package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/famledger/backend/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReversalMock(t *testing.T) (*ReversalService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	ledger := NewLedgerService(db, nil)
	service := NewReversalService(db, ledger)
	return service, mock, func() { db.Close() }
}

func expectOriginalEntry(mock sqlmock.Sqlmock, entryID int64, accountID, amount, category string) {
	mock.ExpectQuery(`SELECT id, reference, account_id, amount, category, description, created_by, created_at\s+FROM ledger_entries WHERE id = \$1`).
		WithArgs(entryID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "reference", "account_id", "amount", "category", "description", "created_by", "created_at",
		}).AddRow(entryID, "ref-1", accountID, amount, category, "Pocket money", "admin1", time.Now()))
}

func expectReversalExists(mock sqlmock.Sqlmock, entryID int64, exists bool) {
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM reversals WHERE original_entry_id = \$1\)`).
		WithArgs(entryID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestReversalService_Reverse(t *testing.T) {
	ctx := context.Background()

	t.Run("reversing a credit restores the prior balance", func(t *testing.T) {
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectBegin()
		expectOriginalEntry(mock, 1, "kid1", "20", models.CategoryManual)
		expectReversalExists(mock, 1, false)
		expectAccountLock(mock, "kid1", "20")
		expectEntryInsert(mock, 2, "kid1", decimal.NewFromInt(-20), models.CategoryReversal)
		expectBalanceUpdate(mock, "kid1", decimal.Zero)
		mock.ExpectQuery(`INSERT INTO reversals`).
			WithArgs(int64(1), int64(2), "parent1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "performed_at"}).AddRow(10, time.Now()))
		mock.ExpectCommit()

		rec, err := service.Reverse(ctx, 1, "parent1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), rec.ID)
		assert.Equal(t, int64(1), rec.OriginalEntryID)
		assert.Equal(t, int64(2), rec.ReversalEntryID)
		assert.False(t, rec.Reverted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second reversal of the same entry conflicts", func(t *testing.T) {
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectBegin()
		expectOriginalEntry(mock, 1, "kid1", "20", models.CategoryManual)
		expectReversalExists(mock, 1, true)
		mock.ExpectRollback()

		_, err := service.Reverse(ctx, 1, "parent1")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindConflict))
		assert.Equal(t, "Transaction already reversed", err.Error())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("losing a concurrent reversal race still conflicts", func(t *testing.T) {
		// Both racers pass the existence check under READ COMMITTED; the
		// loser's insert hits the unique index on original_entry_id once
		// the winner commits.
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectBegin()
		expectOriginalEntry(mock, 1, "kid1", "20", models.CategoryManual)
		expectReversalExists(mock, 1, false)
		expectAccountLock(mock, "kid1", "20")
		expectEntryInsert(mock, 2, "kid1", decimal.NewFromInt(-20), models.CategoryReversal)
		expectBalanceUpdate(mock, "kid1", decimal.Zero)
		mock.ExpectQuery(`INSERT INTO reversals`).
			WithArgs(int64(1), int64(2), "parent1").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "reversals_original_entry_id_key"})
		mock.ExpectRollback()

		_, err := service.Reverse(ctx, 1, "parent1")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindConflict))
		assert.Equal(t, "Transaction already reversed", err.Error())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing original entry reports not found", func(t *testing.T) {
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id, reference, account_id, amount, category, description, created_by, created_at\s+FROM ledger_entries WHERE id = \$1`).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, err := service.Reverse(ctx, 99, "parent1")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindNotFound))
	})

	t.Run("reversing a credit the account already spent fails", func(t *testing.T) {
		// Original +50 credit, but the balance has since dropped to 10:
		// the -50 reversal would overdraw, so nothing persists.
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectBegin()
		expectOriginalEntry(mock, 1, "kid1", "50", models.CategoryManual)
		expectReversalExists(mock, 1, false)
		expectAccountLock(mock, "kid1", "10")
		mock.ExpectRollback()

		_, err := service.Reverse(ctx, 1, "parent1")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInsufficientFunds))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReversalService_Undo(t *testing.T) {
	ctx := context.Background()

	t.Run("undo re-posts the original amount and closes the record", func(t *testing.T) {
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT r.id, e.account_id, e.amount\s+FROM reversals r`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount"}).
				AddRow(10, "kid1", "20"))
		expectAccountLock(mock, "kid1", "0")
		expectEntryInsert(mock, 3, "kid1", decimal.NewFromInt(20), models.CategoryReversalUndo)
		expectBalanceUpdate(mock, "kid1", decimal.NewFromInt(20))
		mock.ExpectExec(`UPDATE reversals\s+SET reverted = true, reverted_by = \$1, reverted_at = now\(\)\s+WHERE id = \$2`).
			WithArgs("parent1", int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		undoEntryID, err := service.Undo(ctx, 1, "parent1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), undoEntryID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second undo reports not found", func(t *testing.T) {
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT r.id, e.account_id, e.amount\s+FROM reversals r`).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount"}))
		mock.ExpectRollback()

		_, err := service.Undo(ctx, 1, "parent1")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindNotFound))
		assert.Equal(t, "no reversible reversal found", err.Error())
	})
}

func TestReversalService_ListReversals(t *testing.T) {
	ctx := context.Background()

	t.Run("filters by account and reverted status", func(t *testing.T) {
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM reversals r\s+JOIN ledger_entries e`).
			WithArgs("kid1", false).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		mock.ExpectQuery(`SELECT r.id, r.original_entry_id, r.reversal_entry_id, r.performed_by`).
			WithArgs("kid1", false, 20, 0).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "original_entry_id", "reversal_entry_id", "performed_by",
				"performed_at", "reverted", "reverted_by", "reverted_at",
			}).AddRow(10, 1, 2, "parent1", time.Now(), false, nil, nil))

		reverted := false
		records, total, err := service.ListReversals(ctx, models.ReversalFilter{
			AccountID: "kid1",
			Reverted:  &reverted,
		}, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, records, 1)
		assert.Equal(t, int64(1), records[0].OriginalEntryID)
		assert.False(t, records[0].Reverted)
	})

	t.Run("empty result still reports total", func(t *testing.T) {
		service, mock, close := newReversalMock(t)
		defer close()

		mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM reversals r\s+JOIN ledger_entries e`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`SELECT r.id, r.original_entry_id`).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "original_entry_id", "reversal_entry_id", "performed_by",
				"performed_at", "reverted", "reverted_by", "reverted_at",
			}))

		records, total, err := service.ListReversals(ctx, models.ReversalFilter{}, 1, 20)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, records)
	})
}
