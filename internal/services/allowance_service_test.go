package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/famledger/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllowanceMock(t *testing.T) (*AllowanceService, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	ledger := NewLedgerService(db, nil)
	service := NewAllowanceService(db, ledger, nil, 24*time.Hour)
	return service, mock, func() { db.Close() }
}

func TestAllowanceService_CurrentConfig(t *testing.T) {
	service, mock, close := newAllowanceMock(t)
	defer close()

	now := time.Now()
	// Most recently created enabled row wins; the ORDER BY ... LIMIT 1 in
	// the query is the selection rule for accounts with historical rows.
	mock.ExpectQuery(`FROM allowance_configs\s+WHERE account_id = \$1 AND enabled = true\s+ORDER BY created_at DESC, id DESC\s+LIMIT 1`).
		WithArgs("kid1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "amount", "frequency", "next_due", "enabled", "created_at", "updated_at",
		}).AddRow(2, "kid1", "10", models.FrequencyWeekly, now.Add(24*time.Hour), true, now, now))

	cfg, err := service.CurrentConfig(context.Background(), "kid1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cfg.ID)
	assert.True(t, cfg.Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, models.FrequencyWeekly, cfg.Frequency)
}

func TestAllowanceService_CurrentConfig_NoneConfigured(t *testing.T) {
	service, mock, close := newAllowanceMock(t)
	defer close()

	mock.ExpectQuery(`FROM allowance_configs`).
		WithArgs("kid1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := service.CurrentConfig(context.Background(), "kid1")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestAllowanceService_ProcessDue(t *testing.T) {
	ctx := context.Background()

	t.Run("due weekly config pays out and reschedules", func(t *testing.T) {
		service, mock, close := newAllowanceMock(t)
		defer close()

		now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		amount := decimal.NewFromInt(7)

		mock.ExpectQuery(`SELECT id, account_id, amount, frequency\s+FROM allowance_configs\s+WHERE enabled = true AND next_due <= \$1`).
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "frequency"}).
				AddRow(1, "kid1", "7", models.FrequencyWeekly))

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT enabled AND next_due <= \$2\s+FROM allowance_configs\s+WHERE id = \$1\s+FOR UPDATE`).
			WithArgs(int64(1), now).
			WillReturnRows(sqlmock.NewRows([]string{"still_due"}).AddRow(true))
		expectAccountLock(mock, "kid1", "0")
		expectEntryInsert(mock, 5, "kid1", amount, models.CategoryAllowance)
		expectBalanceUpdate(mock, "kid1", amount)
		mock.ExpectExec(`UPDATE allowance_configs SET next_due = \$1, updated_at = now\(\) WHERE id = \$2`).
			WithArgs(now.AddDate(0, 0, 7), int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		disbursed := service.ProcessDue(ctx, now)
		assert.Equal(t, 1, disbursed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("one failing config does not block the rest", func(t *testing.T) {
		service, mock, close := newAllowanceMock(t)
		defer close()

		now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

		mock.ExpectQuery(`SELECT id, account_id, amount, frequency\s+FROM allowance_configs`).
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "frequency"}).
				AddRow(1, "kid1", "7", models.FrequencyWeekly).
				AddRow(2, "kid2", "3", models.FrequencyDaily))

		// First config blows up mid-transaction and is skipped.
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT enabled AND next_due <= \$2`).
			WithArgs(int64(1), now).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		// Second config still pays out.
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT enabled AND next_due <= \$2`).
			WithArgs(int64(2), now).
			WillReturnRows(sqlmock.NewRows([]string{"still_due"}).AddRow(true))
		expectAccountLock(mock, "kid2", "1")
		expectEntryInsert(mock, 6, "kid2", decimal.NewFromInt(3), models.CategoryAllowance)
		expectBalanceUpdate(mock, "kid2", decimal.NewFromInt(4))
		mock.ExpectExec(`UPDATE allowance_configs SET next_due = \$1`).
			WithArgs(now.AddDate(0, 0, 1), int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		disbursed := service.ProcessDue(ctx, now)
		assert.Equal(t, 1, disbursed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("config no longer due is skipped without posting", func(t *testing.T) {
		service, mock, close := newAllowanceMock(t)
		defer close()

		now := time.Now()

		mock.ExpectQuery(`SELECT id, account_id, amount, frequency\s+FROM allowance_configs`).
			WithArgs(now).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "amount", "frequency"}).
				AddRow(1, "kid1", "7", models.FrequencyWeekly))

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT enabled AND next_due <= \$2`).
			WithArgs(int64(1), now).
			WillReturnRows(sqlmock.NewRows([]string{"still_due"}).AddRow(false))
		mock.ExpectRollback()

		disbursed := service.ProcessDue(ctx, now)
		assert.Zero(t, disbursed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAllowanceService_Upsert(t *testing.T) {
	service, mock, close := newAllowanceMock(t)
	defer close()

	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE allowance_configs SET enabled = false, updated_at = now\(\) WHERE account_id = \$1 AND enabled = true`).
		WithArgs("kid1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO allowance_configs`).
		WithArgs("kid1", decimal.NewFromInt(10), models.FrequencyWeekly, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(3, now, now))
	mock.ExpectCommit()

	cfg, err := service.Upsert(context.Background(), "kid1", decimal.NewFromInt(10), models.FrequencyWeekly)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cfg.ID)
	assert.True(t, cfg.Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllowanceService_Upsert_Validation(t *testing.T) {
	service, _, close := newAllowanceMock(t)
	defer close()

	_, err := service.Upsert(context.Background(), "kid1", decimal.NewFromInt(-1), models.FrequencyDaily)
	assert.True(t, IsKind(err, KindValidation))

	_, err = service.Upsert(context.Background(), "kid1", decimal.NewFromInt(1), "hourly")
	assert.True(t, IsKind(err, KindValidation))
}

func TestNextDueAfter(t *testing.T) {
	base := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, base.AddDate(0, 0, 1), nextDueAfter(models.FrequencyDaily, base))
	assert.Equal(t, base.AddDate(0, 0, 7), nextDueAfter(models.FrequencyWeekly, base))
	// Jan 31 + 1 month normalizes to Mar 2/3 per time.AddDate semantics.
	assert.Equal(t, base.AddDate(0, 1, 0), nextDueAfter(models.FrequencyMonthly, base))

	// next_due always moves strictly forward
	assert.True(t, nextDueAfter(models.FrequencyDaily, base).After(base))
}
