package handlers

import (
	"net/http"
	"strconv"

	"github.com/famledger/backend/internal/middleware"
	"github.com/famledger/backend/internal/models"
	"github.com/famledger/backend/internal/services"
	"github.com/go-chi/chi/v5"
)

// ReversalHandler exposes the reverse/undo protocol and the reversal audit
// listing.
type ReversalHandler struct {
	reversals *services.ReversalService
}

func NewReversalHandler(reversals *services.ReversalService) *ReversalHandler {
	return &ReversalHandler{reversals: reversals}
}

// Reverse handles POST /entries/{entryID}/reverse. A second reversal of
// the same entry yields 409.
func (h *ReversalHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid entry id", http.StatusBadRequest, nil)
		return
	}

	rec, err := h.reversals.Reverse(r.Context(), entryID, middleware.UserID(r.Context()))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusCreated, rec)
}

// Undo handles POST /entries/{entryID}/undo. Undoing an already-undone
// reversal (or an entry that was never reversed) yields 404.
func (h *ReversalHandler) Undo(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid entry id", http.StatusBadRequest, nil)
		return
	}

	undoEntryID, err := h.reversals.Undo(r.Context(), entryID, middleware.UserID(r.Context()))
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, map[string]any{
		"undo_entry_id": undoEntryID,
	})
}

// List handles GET /reversals with page, limit, userId, originalId and
// reverted query parameters.
func (h *ReversalHandler) List(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)

	filter := models.ReversalFilter{
		AccountID: r.URL.Query().Get("userId"),
	}
	if raw := r.URL.Query().Get("originalId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			services.SendErrorResponse(w, "Invalid originalId", http.StatusBadRequest, nil)
			return
		}
		filter.OriginalEntryID = id
	}
	if raw := r.URL.Query().Get("reverted"); raw != "" {
		reverted, err := strconv.ParseBool(raw)
		if err != nil {
			services.SendErrorResponse(w, "Invalid reverted flag", http.StatusBadRequest, nil)
			return
		}
		filter.Reverted = &reverted
	}

	records, total, err := h.reversals.ListReversals(r.Context(), filter, page, limit)
	if err != nil {
		services.SendEngineError(w, err)
		return
	}

	services.SendSuccess(w, http.StatusOK, NewPagedData(records, total, page, limit))
}
