package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/matching"
	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/repositories"
)

// ResolvedRun is everything one task execution needs from configuration:
// the ordered stages plus the run-wide settings and pool filters.
type ResolvedRun struct {
	Stages []matching.ResolvedStage
	// BankFilter and BookFilter load the shared candidate pool. They come
	// from the first enabled stage's configuration; later stages narrow by
	// consumption, not by reloading.
	BankFilter models.CandidateFilter
	BookFilter models.CandidateFilter
	// MaxSuggestions caps ranked survivors across the whole run. Zero means
	// each stage's own cap is the only limit.
	MaxSuggestions int
	TimeBudget     time.Duration
	AutoApplyScore *float64
}

// ConfigService manages matching configurations and pipelines and resolves a
// task's configuration reference into an executable run.
type ConfigService interface {
	CreateConfig(ctx context.Context, cfg *models.MatchingConfig) error
	GetConfig(ctx context.Context, id uuid.UUID) (*models.MatchingConfig, error)
	ListConfigs(ctx context.Context, companyID, userID *uuid.UUID) ([]*models.MatchingConfig, error)

	CreatePipeline(ctx context.Context, p *models.Pipeline) error
	GetPipeline(ctx context.Context, id uuid.UUID) (*models.Pipeline, error)
	ListPipelines(ctx context.Context) ([]*models.Pipeline, error)

	// SeedGlobalConfigs inserts global-scope configs that do not exist yet,
	// matched by name. Existing configs are left untouched so local edits
	// survive restarts.
	SeedGlobalConfigs(ctx context.Context, configs []*models.MatchingConfig) error

	// ResolveRun loads the task's config or pipeline and validates everything
	// that must hold before execution starts. A failure here puts the task in
	// the failed state; the run never begins.
	ResolveRun(ctx context.Context, task *models.ReconTask) (*ResolvedRun, error)
}

type configService struct {
	configs   repositories.MatchingConfigRepository
	pipelines repositories.PipelineRepository
}

// NewConfigService creates a new configuration service.
func NewConfigService(configs repositories.MatchingConfigRepository, pipelines repositories.PipelineRepository) ConfigService {
	return &configService{configs: configs, pipelines: pipelines}
}

func (s *configService) CreateConfig(ctx context.Context, cfg *models.MatchingConfig) error {
	if err := validateScopeOwners(cfg); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, err)
	}
	return s.configs.Create(ctx, cfg)
}

func (s *configService) GetConfig(ctx context.Context, id uuid.UUID) (*models.MatchingConfig, error) {
	return s.configs.Get(ctx, id)
}

func (s *configService) ListConfigs(ctx context.Context, companyID, userID *uuid.UUID) ([]*models.MatchingConfig, error) {
	return s.configs.List(ctx, companyID, userID)
}

func (s *configService) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, err)
	}
	// Catch dangling config references at creation time instead of at the
	// first run. Stage overrides are deliberately not validated here.
	for _, st := range p.Stages {
		if _, err := s.configs.Get(ctx, st.ConfigID); err != nil {
			return fmt.Errorf("stage %d references config %s: %w", st.Position, st.ConfigID, err)
		}
	}
	return s.pipelines.Create(ctx, p)
}

func (s *configService) GetPipeline(ctx context.Context, id uuid.UUID) (*models.Pipeline, error) {
	return s.pipelines.Get(ctx, id)
}

func (s *configService) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	return s.pipelines.List(ctx)
}

func (s *configService) SeedGlobalConfigs(ctx context.Context, configs []*models.MatchingConfig) error {
	for _, cfg := range configs {
		_, err := s.configs.GetByName(ctx, models.ScopeGlobal, cfg.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("seed config %q: %w", cfg.Name, err)
		}
		if err := s.CreateConfig(ctx, cfg); err != nil {
			return fmt.Errorf("seed config %q: %w", cfg.Name, err)
		}
	}
	return nil
}

func (s *configService) ResolveRun(ctx context.Context, task *models.ReconTask) (*ResolvedRun, error) {
	switch {
	case task.ConfigID != nil && task.PipelineID == nil:
		return s.resolveSingleConfig(ctx, task, *task.ConfigID)
	case task.PipelineID != nil && task.ConfigID == nil:
		return s.resolvePipeline(ctx, task, *task.PipelineID)
	default:
		return nil, fmt.Errorf("%w: exactly one of config_id and pipeline_id must be set", apperrors.ErrInvalidRequest)
	}
}

// resolveSingleConfig runs one configuration as a pipeline of a single stage.
func (s *configService) resolveSingleConfig(ctx context.Context, task *models.ReconTask, configID uuid.UUID) (*ResolvedRun, error) {
	cfg, err := s.configs.Get(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("resolve config %s: %w", configID, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: config %s: %s", apperrors.ErrInvalidConfig, cfg.ID, err)
	}

	run := &ResolvedRun{
		Stages: []matching.ResolvedStage{
			{Position: 1, Enabled: true, Config: cfg},
		},
		BankFilter: cfg.BankFilter,
		BookFilter: cfg.BookFilter,
	}
	if cfg.TimeBudget != nil {
		run.TimeBudget = *cfg.TimeBudget
	}
	return run, nil
}

func (s *configService) resolvePipeline(ctx context.Context, task *models.ReconTask, pipelineID uuid.UUID) (*ResolvedRun, error) {
	p, err := s.pipelines.Get(ctx, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("resolve pipeline %s: %w", pipelineID, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: pipeline %s: %s", apperrors.ErrInvalidConfig, p.ID, err)
	}

	run := &ResolvedRun{
		MaxSuggestions: p.MaxSuggestions,
		AutoApplyScore: effectiveAutoApply(p.AutoApplyScore, task.AutoApplyOverride),
	}
	if p.TimeBudget != nil {
		run.TimeBudget = *p.TimeBudget
	}

	// Execution order is defined by stage position, not by whatever order
	// the stages slice arrived in.
	stages := make([]models.PipelineStage, len(p.Stages))
	copy(stages, p.Stages)
	sort.Slice(stages, func(i, j int) bool { return stages[i].Position < stages[j].Position })

	haveFilters := false
	for _, st := range stages {
		cfg, err := s.configs.Get(ctx, st.ConfigID)
		if err != nil {
			return nil, fmt.Errorf("stage %d: resolve config %s: %w", st.Position, st.ConfigID, err)
		}
		run.Stages = append(run.Stages, matching.ResolvedStage{
			Position:  st.Position,
			Enabled:   st.Enabled,
			Config:    cfg,
			Overrides: st.Overrides,
		})
		if st.Enabled && !haveFilters {
			run.BankFilter = cfg.BankFilter
			run.BookFilter = cfg.BookFilter
			haveFilters = true
		}
	}
	if !haveFilters {
		return nil, fmt.Errorf("%w: pipeline %s has no enabled stages", apperrors.ErrInvalidConfig, p.ID)
	}
	return run, nil
}

// effectiveAutoApply applies the task's override to the pipeline's
// auto-apply score. An explicit false disables auto-apply outright; an
// explicit true is a no-op when no score is configured, since there is no
// threshold to apply against.
func effectiveAutoApply(score *float64, override *bool) *float64 {
	if override != nil && !*override {
		return nil
	}
	return score
}

func validateScopeOwners(cfg *models.MatchingConfig) error {
	switch cfg.Scope {
	case models.ScopeGlobal:
		if cfg.CompanyID != nil || cfg.UserID != nil {
			return fmt.Errorf("global scope must not set company_id or user_id")
		}
	case models.ScopeCompany:
		if cfg.CompanyID == nil || cfg.UserID != nil {
			return fmt.Errorf("company scope requires company_id and no user_id")
		}
	case models.ScopeUser:
		if cfg.UserID == nil || cfg.CompanyID != nil {
			return fmt.Errorf("user scope requires user_id and no company_id")
		}
	case models.ScopeCompanyUser:
		if cfg.CompanyID == nil || cfg.UserID == nil {
			return fmt.Errorf("company_user scope requires both company_id and user_id")
		}
	}
	return nil
}

var _ ConfigService = (*configService)(nil)
