package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/services"
	"github.com/ledgerline/recon-engine/pkg/services/workqueue"
)

// TaskResponse is the standard task envelope: the task plus, once it is
// terminal, its suggestions.
type TaskResponse struct {
	Task        *models.ReconTask    `json:"task"`
	Suggestions []*models.Suggestion `json:"suggestions,omitempty"`
}

// QueueResponse exposes the work queue state.
type QueueResponse struct {
	Tasks    []workqueue.TaskSnapshot `json:"tasks"`
	Progress workqueue.Progress       `json:"progress"`
}

// ReconHandler handles reconciliation task HTTP requests.
type ReconHandler struct {
	recon  services.ReconService
	logger *zap.Logger
}

// NewReconHandler creates a new reconciliation task handler.
func NewReconHandler(recon services.ReconService, logger *zap.Logger) *ReconHandler {
	return &ReconHandler{recon: recon, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *ReconHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/recon/tasks", h.Submit)
	mux.HandleFunc("GET /api/recon/tasks", h.List)
	mux.HandleFunc("GET /api/recon/tasks/{tid}", h.Get)
	mux.HandleFunc("POST /api/recon/tasks/{tid}/cancel", h.Cancel)
	mux.HandleFunc("GET /api/recon/tasks/{tid}/suggestions", h.ListSuggestions)
	mux.HandleFunc("GET /api/recon/queue", h.Queue)
}

// Submit handles POST /api/recon/tasks.
// Accepts the run request and returns the queued task immediately;
// execution is asynchronous.
func (h *ReconHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req services.SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid request body"))
		return
	}

	task, err := h.recon.Submit(r.Context(), req)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}

	h.logWrite(WriteJSON(w, http.StatusAccepted, TaskResponse{Task: task}))
}

// List handles GET /api/recon/tasks.
func (h *ReconHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	tasks, err := h.recon.List(r.Context(), limit)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, map[string]any{"tasks": tasks}))
}

// Get handles GET /api/recon/tasks/{tid}.
// Suggestions are included once the task reaches a terminal state.
func (h *ReconHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	task, suggestions, err := h.recon.Get(r.Context(), id)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, TaskResponse{Task: task, Suggestions: suggestions}))
}

// Cancel handles POST /api/recon/tasks/{tid}/cancel.
// Cancellation is cooperative: a running task stops at its next checkpoint
// and retains partial results.
func (h *ReconHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	if err := h.recon.Cancel(r.Context(), id); err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"}))
}

// ListSuggestions handles GET /api/recon/tasks/{tid}/suggestions.
func (h *ReconHandler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}

	task, suggestions, err := h.recon.Get(r.Context(), id)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	if !models.TerminalTaskStatus(task.Status) {
		h.logWrite(ErrorResponse(w, http.StatusConflict, "task_not_finished",
			"Suggestions are available once the task reaches a terminal state"))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions}))
}

// Queue handles GET /api/recon/queue.
func (h *ReconHandler) Queue(w http.ResponseWriter, r *http.Request) {
	snapshots, progress := h.recon.QueueState()
	h.logWrite(WriteJSON(w, http.StatusOK, QueueResponse{Tasks: snapshots, Progress: progress}))
}

func (h *ReconHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("tid"))
	if err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_task_id", "Invalid task ID format"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *ReconHandler) logWrite(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
