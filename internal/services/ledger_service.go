package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/famledger/backend/internal/database"
	"github.com/famledger/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerService is the single choke point for mutating an account balance.
// Every entry insert and its matching balance update happen inside one
// database transaction; no other component writes the balance column.
type LedgerService struct {
	db     *sql.DB
	events *EventPublisher
}

// PostParams describes one ledger entry to insert. A nil CreatedBy marks
// the entry as system-generated (scheduler disbursements).
type PostParams struct {
	AccountID   string
	Amount      decimal.Decimal
	Category    string
	Description string
	CreatedBy   *string
}

func NewLedgerService(db *sql.DB, events *EventPublisher) *LedgerService {
	return &LedgerService{db: db, events: events}
}

// Post inserts a ledger entry and adjusts the account balance atomically,
// then publishes the entry to the event feed. Zero amounts are rejected:
// they would have no observable effect and only pollute the entry set.
func (s *LedgerService) Post(ctx context.Context, p PostParams) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		entry, err = s.PostTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishEntry(ctx, entry)
	return entry, nil
}

// PostTx is Post inside a caller-owned transaction, for callers that need
// further statements in the same atomic unit (reversals, advances, the
// scheduler). The account row is locked FOR UPDATE so concurrent postings
// against the same account serialize and the insufficient-funds check
// always sees the latest committed balance.
func (s *LedgerService) PostTx(ctx context.Context, tx *sql.Tx, p PostParams) (*models.LedgerEntry, error) {
	if p.Amount.IsZero() {
		return nil, validationf("amount must be non-zero")
	}
	if !models.ValidCategory(p.Category) {
		return nil, validationf("unknown entry category %q", p.Category)
	}

	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`,
		p.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", p.AccountID, err)
	}

	newBalance := balance.Add(p.Amount)
	if p.Amount.IsNegative() && newBalance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	entry := &models.LedgerEntry{
		Reference:   uuid.New().String(),
		AccountID:   p.AccountID,
		Amount:      p.Amount,
		Category:    p.Category,
		Description: p.Description,
		CreatedBy:   p.CreatedBy,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (reference, account_id, amount, category, description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		entry.Reference, entry.AccountID, entry.Amount, entry.Category,
		entry.Description, entry.CreatedBy).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance, time.Now(), p.AccountID)
	if err != nil {
		return nil, fmt.Errorf("update balance for account %s: %w", p.AccountID, err)
	}

	return entry, nil
}

// GetEntry fetches one entry by ID.
func (s *LedgerService) GetEntry(ctx context.Context, entryID int64) (*models.LedgerEntry, error) {
	return getEntry(ctx, s.db, entryID)
}

// querier covers both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntry(ctx context.Context, q querier, entryID int64) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := q.QueryRowContext(ctx, `
		SELECT id, reference, account_id, amount, category, description, created_by, created_at
		FROM ledger_entries WHERE id = $1`,
		entryID).Scan(&entry.ID, &entry.Reference, &entry.AccountID, &entry.Amount,
		&entry.Category, &entry.Description, &entry.CreatedBy, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("transaction not found")
	}
	if err != nil {
		return nil, fmt.Errorf("fetch entry %d: %w", entryID, err)
	}
	return &entry, nil
}

// ListEntries returns a page of an account's entries, newest first, plus
// the total count for pagination.
func (s *LedgerService) ListEntries(ctx context.Context, accountID string, page, limit int) ([]models.LedgerEntry, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`,
		accountID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count entries: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reference, account_id, amount, category, description, created_by, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		accountID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Reference, &e.AccountID, &e.Amount,
			&e.Category, &e.Description, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// GetAccount returns the account record with its current balance.
func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, balance, created_at, updated_at FROM accounts WHERE id = $1`,
		accountID).Scan(&account.ID, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("account not found")
	}
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	return &account, nil
}

// EnsureAccount creates the account row if it does not exist yet. Called
// when a user is created; the ledger needs a row to lock before it can
// post anything.
func (s *LedgerService) EnsureAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		accountID)
	if err != nil {
		return fmt.Errorf("ensure account %s: %w", accountID, err)
	}
	return nil
}

// VerifyBalance recomputes the entry sum for an account and compares it to
// the stored balance. A mismatch means the atomicity discipline was broken
// somewhere.
func (s *LedgerService) VerifyBalance(ctx context.Context, accountID string) (bool, error) {
	var stored, summed decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT a.balance, COALESCE(SUM(e.amount), 0)
		FROM accounts a
		LEFT JOIN ledger_entries e ON e.account_id = a.id
		WHERE a.id = $1
		GROUP BY a.balance`,
		accountID).Scan(&stored, &summed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, notFoundf("account not found")
	}
	if err != nil {
		return false, fmt.Errorf("verify balance: %w", err)
	}
	return stored.Equal(summed), nil
}
