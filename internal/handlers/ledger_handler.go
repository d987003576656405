package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/famledger/backend/internal/middleware"
	"github.com/famledger/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// LedgerHandler exposes entry posting and account enquiries.
type LedgerHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewLedgerHandler(ledger *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

type postEntryRequest struct {
	AccountID   string          `json:"account_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"required"`
	Category    string          `json:"category" validate:"required"`
	Description string          `json:"description" validate:"max=500"`
}

// PostEntry handles POST /entries (admin only). Negative amounts debit the
// account and are rejected with 400 when they would overdraw it.
func (h *LedgerHandler) PostEntry(w http.ResponseWriter, r *http.Request) {
	var req postEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	actor := middleware.UserID(r.Context())
	entry, err := h.ledger.Post(r.Context(), services.PostParams{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Category:    req.Category,
		Description: req.Description,
		CreatedBy:   &actor,
	})
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusCreated, entry)
}

// GetBalance handles GET /accounts/{accountID}/balance.
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.GetAccount(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, account)
}

// ListEntries handles GET /accounts/{accountID}/entries with page/limit
// query parameters.
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	page, limit := pageParams(r)

	entries, total, err := h.ledger.ListEntries(r.Context(), accountID, page, limit)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, NewPagedData(entries, total, page, limit))
}

// GetEntry handles GET /entries/{entryID}.
func (h *LedgerHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid entry id", http.StatusBadRequest, nil)
		return
	}

	entry, err := h.ledger.GetEntry(r.Context(), entryID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, entry)
}
