package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/services"
)

// AcceptSuggestionRequest carries the optional reconciliation metadata
// recorded when a suggestion is accepted.
type AcceptSuggestionRequest struct {
	Reference string `json:"reference,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// SuggestionHandler handles suggestion review HTTP requests.
type SuggestionHandler struct {
	suggestions services.SuggestionService
	logger      *zap.Logger
}

// NewSuggestionHandler creates a new suggestion review handler.
func NewSuggestionHandler(suggestions services.SuggestionService, logger *zap.Logger) *SuggestionHandler {
	return &SuggestionHandler{suggestions: suggestions, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *SuggestionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/recon/suggestions/{sid}", h.Get)
	mux.HandleFunc("POST /api/recon/suggestions/{sid}/accept", h.Accept)
	mux.HandleFunc("POST /api/recon/suggestions/{sid}/reject", h.Reject)
}

// Get handles GET /api/recon/suggestions/{sid}.
func (h *SuggestionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.suggestionID(w, r)
	if !ok {
		return
	}

	sug, err := h.suggestions.Get(r.Context(), id)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, sug))
}

// Accept handles POST /api/recon/suggestions/{sid}/accept.
// Finalizes the suggested match as a Reconciliation. Accepting an already
// accepted suggestion returns the existing reconciliation.
func (h *SuggestionHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, ok := h.suggestionID(w, r)
	if !ok {
		return
	}

	var req AcceptSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid request body"))
		return
	}

	rec, err := h.suggestions.Accept(r.Context(), id, req.Reference, req.Notes)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, rec))
}

// Reject handles POST /api/recon/suggestions/{sid}/reject.
func (h *SuggestionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.suggestionID(w, r)
	if !ok {
		return
	}

	if err := h.suggestions.Reject(r.Context(), id); err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, map[string]string{"status": "rejected"}))
}

func (h *SuggestionHandler) suggestionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("sid"))
	if err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_suggestion_id", "Invalid suggestion ID format"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *SuggestionHandler) logWrite(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
