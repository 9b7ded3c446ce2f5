package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/services"
)

// UpdateReconciliationRequest carries the target workflow status.
type UpdateReconciliationRequest struct {
	Status string `json:"status"`
}

// ReconciliationHandler handles reconciliation workflow HTTP requests.
type ReconciliationHandler struct {
	reconciliations services.ReconciliationService
	logger          *zap.Logger
}

// NewReconciliationHandler creates a new reconciliation workflow handler.
func NewReconciliationHandler(reconciliations services.ReconciliationService, logger *zap.Logger) *ReconciliationHandler {
	return &ReconciliationHandler{reconciliations: reconciliations, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *ReconciliationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/reconciliations/{rid}", h.Get)
	mux.HandleFunc("PATCH /api/reconciliations/{rid}", h.UpdateStatus)
}

// Get handles GET /api/reconciliations/{rid}.
func (h *ReconciliationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reconciliationID(w, r)
	if !ok {
		return
	}

	rec, err := h.reconciliations.Get(r.Context(), id)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, rec))
}

// UpdateStatus handles PATCH /api/reconciliations/{rid}. Moves the
// reconciliation along its workflow; an invalid transition is a conflict.
func (h *ReconciliationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.reconciliationID(w, r)
	if !ok {
		return
	}

	var req UpdateReconciliationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid request body"))
		return
	}
	if req.Status == "" {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "status is required"))
		return
	}

	rec, err := h.reconciliations.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, rec))
}

func (h *ReconciliationHandler) reconciliationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("rid"))
	if err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_reconciliation_id", "Invalid reconciliation ID format"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReconciliationHandler) logWrite(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
