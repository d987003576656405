package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/famledger/backend/internal/middleware"
	"github.com/famledger/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// AdvanceHandler exposes the advance request workflow. Create and Cancel
// act on the caller's own account; Approve and Reject are admin only.
type AdvanceHandler struct {
	advances  *services.AdvanceService
	validator *services.ValidationHelper
}

func NewAdvanceHandler(advances *services.AdvanceService) *AdvanceHandler {
	return &AdvanceHandler{
		advances:  advances,
		validator: services.NewValidationHelper(),
	}
}

type createAdvanceRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// Create handles POST /advances. An existing pending request is reported
// as 400 with the conflict message, per the published API contract.
func (h *AdvanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	created, err := h.advances.Create(r.Context(), middleware.UserID(r.Context()), req.Amount)
	if err != nil {
		if services.IsKind(err, services.KindConflict) {
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusCreated, created)
}

// Approve handles POST /advances/{requestID}/approve (admin only).
func (h *AdvanceHandler) Approve(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	result, err := h.advances.Approve(r.Context(), requestID, middleware.UserID(r.Context()))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, result)
}

type rejectAdvanceRequest struct {
	Reason *string `json:"reason"`
}

// Reject handles POST /advances/{requestID}/reject (admin only).
func (h *AdvanceHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectAdvanceRequest
	if r.Body != nil {
		// Reason is optional; an empty body is fine.
		json.NewDecoder(r.Body).Decode(&req)
	}

	rejected, err := h.advances.Reject(r.Context(), chi.URLParam(r, "requestID"),
		middleware.UserID(r.Context()), req.Reason)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, rejected)
}

// Cancel handles POST /advances/{requestID}/cancel. Only the owning user
// may cancel, and only while the request is pending.
func (h *AdvanceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	err := h.advances.Cancel(r.Context(), chi.URLParam(r, "requestID"),
		middleware.UserID(r.Context()))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// List handles GET /advances, returning the caller's own requests.
func (h *AdvanceHandler) List(w http.ResponseWriter, r *http.Request) {
	requests, err := h.advances.ListByAccount(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, requests)
}
