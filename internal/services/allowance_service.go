package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/famledger/backend/internal/database"
	"github.com/famledger/backend/internal/models"
	"github.com/shopspring/decimal"
)

// AllowanceService owns the recurring allowance configurations and the
// scheduler that disburses them. A config's next_due timestamp only moves
// forward, and only together with the allowance entry it paid out.
type AllowanceService struct {
	db       *sql.DB
	ledger   *LedgerService
	events   *EventPublisher
	interval time.Duration
}

func NewAllowanceService(db *sql.DB, ledger *LedgerService, events *EventPublisher, interval time.Duration) *AllowanceService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &AllowanceService{db: db, ledger: ledger, events: events, interval: interval}
}

// CurrentConfig returns the authoritative allowance configuration for an
// account: the most recently created enabled row. Historical rows may
// exist; they are ignored.
func (s *AllowanceService) CurrentConfig(ctx context.Context, accountID string) (*models.AllowanceConfig, error) {
	return currentConfig(ctx, s.db, accountID, false)
}

func currentConfig(ctx context.Context, q querier, accountID string, forUpdate bool) (*models.AllowanceConfig, error) {
	query := `
		SELECT id, account_id, amount, frequency, next_due, enabled, created_at, updated_at
		FROM allowance_configs
		WHERE account_id = $1 AND enabled = true
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var cfg models.AllowanceConfig
	err := q.QueryRowContext(ctx, query, accountID).Scan(
		&cfg.ID, &cfg.AccountID, &cfg.Amount, &cfg.Frequency,
		&cfg.NextDue, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("no allowance configured")
	}
	if err != nil {
		return nil, fmt.Errorf("fetch allowance config for %s: %w", accountID, err)
	}
	return &cfg, nil
}

// Upsert disables existing configs for the account and creates a fresh one
// due one period from now.
func (s *AllowanceService) Upsert(ctx context.Context, accountID string, amount decimal.Decimal, frequency string) (*models.AllowanceConfig, error) {
	if amount.IsNegative() {
		return nil, validationf("allowance amount must not be negative")
	}
	if !models.ValidFrequency(frequency) {
		return nil, validationf("unknown frequency %q", frequency)
	}

	var cfg *models.AllowanceConfig
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE allowance_configs SET enabled = false, updated_at = now() WHERE account_id = $1 AND enabled = true`,
			accountID)
		if err != nil {
			return fmt.Errorf("disable previous configs: %w", err)
		}

		cfg = &models.AllowanceConfig{
			AccountID: accountID,
			Amount:    amount,
			Frequency: frequency,
			NextDue:   nextDueAfter(frequency, time.Now()),
			Enabled:   true,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO allowance_configs (account_id, amount, frequency, next_due)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at`,
			cfg.AccountID, cfg.Amount, cfg.Frequency, cfg.NextDue).
			Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert allowance config: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// decrementTx reduces the account's current allowance amount by adv,
// flooring at zero. Runs inside the caller's transaction; used by the
// advance workflow so the next regular disbursement shrinks by what was
// already paid out early.
func (s *AllowanceService) decrementTx(ctx context.Context, tx *sql.Tx, accountID string, adv decimal.Decimal) error {
	cfg, err := currentConfig(ctx, tx, accountID, true)
	if err != nil {
		return err
	}

	remaining := cfg.Amount.Sub(adv)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE allowance_configs SET amount = $1, updated_at = now() WHERE id = $2`,
		remaining, cfg.ID)
	if err != nil {
		return fmt.Errorf("decrement allowance config %d: %w", cfg.ID, err)
	}
	return nil
}

// dueConfig is the slice of a config row the scheduler needs.
type dueConfig struct {
	ID        int64
	AccountID string
	Amount    decimal.Decimal
	Frequency string
}

// ProcessDue disburses every enabled configuration whose next_due has
// passed. Each configuration is handled in its own transaction: a failure
// is logged and skipped, leaving next_due untouched so the next tick
// retries it. Returns the number of successful disbursements.
func (s *AllowanceService) ProcessDue(ctx context.Context, now time.Time) int {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount, frequency
		FROM allowance_configs
		WHERE enabled = true AND next_due <= $1
		ORDER BY id`,
		now)
	if err != nil {
		log.Printf("[SCHEDULER] Failed to query due allowances: %v", err)
		return 0
	}
	defer rows.Close()

	var due []dueConfig
	for rows.Next() {
		var c dueConfig
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Amount, &c.Frequency); err != nil {
			log.Printf("[SCHEDULER] Failed to scan allowance config: %v", err)
			return 0
		}
		due = append(due, c)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[SCHEDULER] Failed reading due allowances: %v", err)
		return 0
	}

	disbursed := 0
	for _, cfg := range due {
		entry, err := s.disburse(ctx, cfg, now)
		if err != nil {
			log.Printf("[SCHEDULER] Failed to disburse allowance config %d (account %s): %v",
				cfg.ID, cfg.AccountID, err)
			continue
		}
		s.events.PublishEntry(ctx, entry)
		disbursed++
	}
	return disbursed
}

// disburse posts one allowance payment and advances next_due, atomically.
// The config row is re-locked and re-checked inside the transaction so a
// concurrent tick cannot pay the same period twice.
func (s *AllowanceService) disburse(ctx context.Context, cfg dueConfig, now time.Time) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var stillDue bool
		err := tx.QueryRowContext(ctx, `
			SELECT enabled AND next_due <= $2
			FROM allowance_configs
			WHERE id = $1
			FOR UPDATE`,
			cfg.ID, now).Scan(&stillDue)
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundf("allowance config %d vanished", cfg.ID)
		}
		if err != nil {
			return fmt.Errorf("lock allowance config %d: %w", cfg.ID, err)
		}
		if !stillDue {
			return invalidStatef("allowance config %d no longer due", cfg.ID)
		}

		entry, err = s.ledger.PostTx(ctx, tx, PostParams{
			AccountID:   cfg.AccountID,
			Amount:      cfg.Amount,
			Category:    models.CategoryAllowance,
			Description: fmt.Sprintf("Scheduled %s allowance", cfg.Frequency),
			CreatedBy:   nil,
		})
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE allowance_configs SET next_due = $1, updated_at = now() WHERE id = $2`,
			nextDueAfter(cfg.Frequency, now), cfg.ID)
		if err != nil {
			return fmt.Errorf("advance next_due for config %d: %w", cfg.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// nextDueAfter adds one period to now. Periods are calendar based, so a
// monthly allowance paid on the 31st lands on the month's last day when
// the next month is shorter.
func nextDueAfter(frequency string, now time.Time) time.Time {
	switch frequency {
	case models.FrequencyDaily:
		return now.AddDate(0, 0, 1)
	case models.FrequencyWeekly:
		return now.AddDate(0, 0, 7)
	default:
		return now.AddDate(0, 1, 0)
	}
}

// Run fires ProcessDue once at startup and then on every tick until the
// context is cancelled. Started from main as a goroutine.
func (s *AllowanceService) Run(ctx context.Context) {
	log.Printf("[SCHEDULER] Allowance scheduler started (interval %s)", s.interval)

	s.ProcessDue(ctx, time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[SCHEDULER] Allowance scheduler stopped")
			return
		case now := <-ticker.C:
			n := s.ProcessDue(ctx, now)
			if n > 0 {
				log.Printf("[SCHEDULER] Disbursed %d allowance(s)", n)
			}
		}
	}
}
