package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/services"
)

// ConfigHandler handles matching configuration and pipeline HTTP requests.
type ConfigHandler struct {
	configs services.ConfigService
	logger  *zap.Logger
}

// NewConfigHandler creates a new configuration handler.
func NewConfigHandler(configs services.ConfigService, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{configs: configs, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/recon/configs", h.CreateConfig)
	mux.HandleFunc("GET /api/recon/configs", h.ListConfigs)
	mux.HandleFunc("GET /api/recon/configs/{cid}", h.GetConfig)
	mux.HandleFunc("POST /api/recon/pipelines", h.CreatePipeline)
	mux.HandleFunc("GET /api/recon/pipelines", h.ListPipelines)
	mux.HandleFunc("GET /api/recon/pipelines/{pid}", h.GetPipeline)
}

// CreateConfig handles POST /api/recon/configs.
func (h *ConfigHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.MatchingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid request body"))
		return
	}

	if err := h.configs.CreateConfig(r.Context(), &cfg); err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusCreated, cfg))
}

// ListConfigs handles GET /api/recon/configs.
// Optional company_id and user_id query parameters narrow the listing;
// results come back in scope precedence order.
func (h *ConfigHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	companyID, ok := h.optionalID(w, r, "company_id")
	if !ok {
		return
	}
	userID, ok := h.optionalID(w, r, "user_id")
	if !ok {
		return
	}

	configs, err := h.configs.ListConfigs(r.Context(), companyID, userID)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, map[string]any{"configs": configs}))
}

// GetConfig handles GET /api/recon/configs/{cid}.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("cid"))
	if err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_config_id", "Invalid config ID format"))
		return
	}

	cfg, err := h.configs.GetConfig(r.Context(), id)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, cfg))
}

// CreatePipeline handles POST /api/recon/pipelines.
func (h *ConfigHandler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var p models.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid request body"))
		return
	}

	if err := h.configs.CreatePipeline(r.Context(), &p); err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusCreated, p))
}

// ListPipelines handles GET /api/recon/pipelines.
func (h *ConfigHandler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.configs.ListPipelines(r.Context())
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, map[string]any{"pipelines": pipelines}))
}

// GetPipeline handles GET /api/recon/pipelines/{pid}.
func (h *ConfigHandler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("pid"))
	if err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_pipeline_id", "Invalid pipeline ID format"))
		return
	}

	p, err := h.configs.GetPipeline(r.Context(), id)
	if err != nil {
		h.logWrite(serviceError(w, err))
		return
	}
	h.logWrite(WriteJSON(w, http.StatusOK, p))
}

func (h *ConfigHandler) optionalID(w http.ResponseWriter, r *http.Request, param string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logWrite(ErrorResponse(w, http.StatusBadRequest, "invalid_"+param, "Invalid "+param+" format"))
		return nil, false
	}
	return &id, true
}

func (h *ConfigHandler) logWrite(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
