package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/famledger/backend/internal/database"
	"github.com/famledger/backend/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdvanceService runs the request/approval state machine for releasing
// part of a future allowance early. pending is the only state anything
// can transition out of; approved, rejected and cancelled are terminal.
type AdvanceService struct {
	db        *sql.DB
	ledger    *LedgerService
	allowance *AllowanceService
	events    *EventPublisher
	maxAmount decimal.Decimal
}

func NewAdvanceService(db *sql.DB, ledger *LedgerService, allowance *AllowanceService, events *EventPublisher, maxAmount decimal.Decimal) *AdvanceService {
	if maxAmount.IsZero() || maxAmount.IsNegative() {
		maxAmount = decimal.NewFromInt(100)
	}
	return &AdvanceService{
		db:        db,
		ledger:    ledger,
		allowance: allowance,
		events:    events,
		maxAmount: maxAmount,
	}
}

// Create opens a pending advance request for the account. The account must
// have an enabled allowance configuration, no other pending request, and
// the amount must fit inside both the fixed cap and the configuration's
// current per-period amount.
func (s *AdvanceService) Create(ctx context.Context, accountID string, amount decimal.Decimal) (*models.AdvanceRequest, error) {
	if !amount.IsPositive() {
		return nil, validationf("advance amount must be positive")
	}
	if amount.GreaterThan(s.maxAmount) {
		return nil, validationf("advance amount cannot exceed %s", s.maxAmount.StringFixed(2))
	}

	var req *models.AdvanceRequest
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var pending bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM advance_requests
				WHERE account_id = $1 AND status = 'pending'
			)`, accountID).Scan(&pending)
		if err != nil {
			return fmt.Errorf("check pending advances: %w", err)
		}
		if pending {
			return conflictf("already has a pending advance request")
		}

		cfg, err := currentConfig(ctx, tx, accountID, false)
		if err != nil {
			if IsKind(err, KindNotFound) {
				return invalidStatef("must have an allowance configured")
			}
			return err
		}
		if amount.GreaterThan(cfg.Amount) {
			return invalidStatef("cannot exceed regular allowance amount")
		}

		req = &models.AdvanceRequest{
			ID:        uuid.New().String(),
			AccountID: accountID,
			Amount:    amount,
			Status:    models.AdvancePending,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO advance_requests (id, account_id, amount)
			VALUES ($1, $2, $3)
			RETURNING requested_at`,
			req.ID, req.AccountID, req.Amount).Scan(&req.RequestedAt)
		if isUniqueViolation(err) {
			// The partial unique index on pending requests caught a
			// concurrent create that committed after our existence check.
			return conflictf("already has a pending advance request")
		}
		if err != nil {
			return fmt.Errorf("insert advance request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ApprovalResult reports what an approval produced.
type ApprovalResult struct {
	LedgerEntryID int64  `json:"ledger_entry_id"`
	AccountID     string `json:"account_id"`
}

// Approve marks a pending request approved, credits the account and
// shrinks the allowance configuration by the advanced amount, all in one
// transaction.
func (s *AdvanceService) Approve(ctx context.Context, requestID, adminID string) (*ApprovalResult, error) {
	var (
		result *ApprovalResult
		posted *models.LedgerEntry
	)
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		req, err := lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.AdvancePending {
			return invalidStatef("not pending")
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE advance_requests
			SET status = 'approved', resolved_by = $1, resolved_at = now()
			WHERE id = $2`,
			adminID, requestID)
		if err != nil {
			return fmt.Errorf("approve request %s: %w", requestID, err)
		}

		posted, err = s.ledger.PostTx(ctx, tx, PostParams{
			AccountID:   req.AccountID,
			Amount:      req.Amount,
			Category:    models.CategoryAdvance,
			Description: fmt.Sprintf("Allowance advance (request %s)", requestID),
			CreatedBy:   &adminID,
		})
		if err != nil {
			return err
		}

		if err := s.allowance.decrementTx(ctx, tx, req.AccountID, req.Amount); err != nil {
			return err
		}

		result = &ApprovalResult{LedgerEntryID: posted.ID, AccountID: req.AccountID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishEntry(ctx, posted)
	return result, nil
}

// Reject marks a pending request rejected with an optional reason. No
// ledger effect.
func (s *AdvanceService) Reject(ctx context.Context, requestID, adminID string, reason *string) (*models.AdvanceRequest, error) {
	var req *models.AdvanceRequest
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		req, err = lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.Status != models.AdvancePending {
			return invalidStatef("not pending")
		}

		err = tx.QueryRowContext(ctx, `
			UPDATE advance_requests
			SET status = 'rejected', reason = $1, resolved_by = $2, resolved_at = now()
			WHERE id = $3
			RETURNING status, reason, resolved_by, resolved_at`,
			reason, adminID, requestID).
			Scan(&req.Status, &req.Reason, &req.ResolvedBy, &req.ResolvedAt)
		if err != nil {
			return fmt.Errorf("reject request %s: %w", requestID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Cancel lets the owning user withdraw their own pending request. Requests
// belonging to other accounts are reported as not found.
func (s *AdvanceService) Cancel(ctx context.Context, requestID, actorID string) error {
	return database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		req, err := lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if req.AccountID != actorID {
			return notFoundf("advance request not found")
		}
		if req.Status != models.AdvancePending {
			return invalidStatef("not pending")
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE advance_requests
			SET status = 'cancelled', resolved_by = $1, resolved_at = now()
			WHERE id = $2`,
			actorID, requestID)
		if err != nil {
			return fmt.Errorf("cancel request %s: %w", requestID, err)
		}
		return nil
	})
}

// lockRequest loads a request row FOR UPDATE so concurrent resolutions of
// the same request serialize; exactly one sees it pending.
func lockRequest(ctx context.Context, tx *sql.Tx, requestID string) (*models.AdvanceRequest, error) {
	var req models.AdvanceRequest
	err := tx.QueryRowContext(ctx, `
		SELECT id, account_id, amount, status, reason, requested_at, resolved_at, resolved_by
		FROM advance_requests
		WHERE id = $1
		FOR UPDATE`,
		requestID).Scan(&req.ID, &req.AccountID, &req.Amount, &req.Status,
		&req.Reason, &req.RequestedAt, &req.ResolvedAt, &req.ResolvedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundf("advance request not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock advance request %s: %w", requestID, err)
	}
	return &req, nil
}

// ListByAccount returns the account's advance requests, newest first.
func (s *AdvanceService) ListByAccount(ctx context.Context, accountID string) ([]models.AdvanceRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount, status, reason, requested_at, resolved_at, resolved_by
		FROM advance_requests
		WHERE account_id = $1
		ORDER BY requested_at DESC`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("list advance requests: %w", err)
	}
	defer rows.Close()

	requests := []models.AdvanceRequest{}
	for rows.Next() {
		var r models.AdvanceRequest
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Amount, &r.Status,
			&r.Reason, &r.RequestedAt, &r.ResolvedAt, &r.ResolvedBy); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}
