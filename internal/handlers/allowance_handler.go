package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/famledger/backend/internal/middleware"
	"github.com/famledger/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AllowanceHandler exposes the allowance configuration surface. The
// scheduler itself runs in the background; these endpoints only read and
// administer configurations.
type AllowanceHandler struct {
	allowances *services.AllowanceService
	validator  *services.ValidationHelper
}

func NewAllowanceHandler(allowances *services.AllowanceService) *AllowanceHandler {
	return &AllowanceHandler{
		allowances: allowances,
		validator:  services.NewValidationHelper(),
	}
}

// GetCurrent handles GET /accounts/{accountID}/allowance. Users may read
// their own configuration; admins may read anyone's.
func (h *AllowanceHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID != middleware.UserID(r.Context()) && !middleware.IsAdmin(r.Context()) {
		services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	cfg, err := h.allowances.CurrentConfig(r.Context(), accountID)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, cfg)
}

type upsertAllowanceRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Frequency string          `json:"frequency" validate:"required,oneof=daily weekly monthly"`
}

// Upsert handles PUT /accounts/{accountID}/allowance (admin only). The
// previous configuration is disabled and a fresh one becomes authoritative.
func (h *AllowanceHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertAllowanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	cfg, err := h.allowances.Upsert(r.Context(), chi.URLParam(r, "accountID"), req.Amount, req.Frequency)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, cfg)
}
