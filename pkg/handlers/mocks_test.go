package handlers

import (
	"context"

	"github.com/google/uuid"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/services"
	"github.com/ledgerline/recon-engine/pkg/services/workqueue"
)

// mockReconService implements services.ReconService with canned responses.
type mockReconService struct {
	task        *models.ReconTask
	tasks       []*models.ReconTask
	suggestions []*models.Suggestion
	snapshots   []workqueue.TaskSnapshot
	progress    workqueue.Progress
	err         error

	submitted  *services.SubmitTaskRequest
	cancelled  []uuid.UUID
	listLimits []int
}

func (m *mockReconService) Submit(_ context.Context, req services.SubmitTaskRequest) (*models.ReconTask, error) {
	m.submitted = &req
	if m.err != nil {
		return nil, m.err
	}
	return m.task, nil
}

func (m *mockReconService) Get(_ context.Context, id uuid.UUID) (*models.ReconTask, []*models.Suggestion, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.task, m.suggestions, nil
}

func (m *mockReconService) List(_ context.Context, limit int) ([]*models.ReconTask, error) {
	m.listLimits = append(m.listLimits, limit)
	if m.err != nil {
		return nil, m.err
	}
	return m.tasks, nil
}

func (m *mockReconService) Cancel(_ context.Context, id uuid.UUID) error {
	m.cancelled = append(m.cancelled, id)
	return m.err
}

func (m *mockReconService) QueueState() ([]workqueue.TaskSnapshot, workqueue.Progress) {
	return m.snapshots, m.progress
}

// mockSuggestionService implements services.SuggestionService.
type mockSuggestionService struct {
	suggestion     *models.Suggestion
	reconciliation *models.Reconciliation
	err            error

	acceptedRef   string
	acceptedNotes string
	rejected      []uuid.UUID
}

func (m *mockSuggestionService) Get(_ context.Context, id uuid.UUID) (*models.Suggestion, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.suggestion, nil
}

func (m *mockSuggestionService) Accept(_ context.Context, id uuid.UUID, reference, notes string) (*models.Reconciliation, error) {
	m.acceptedRef = reference
	m.acceptedNotes = notes
	if m.err != nil {
		return nil, m.err
	}
	return m.reconciliation, nil
}

func (m *mockSuggestionService) Reject(_ context.Context, id uuid.UUID) error {
	m.rejected = append(m.rejected, id)
	return m.err
}

// mockReconciliationService implements services.ReconciliationService.
type mockReconciliationService struct {
	reconciliation *models.Reconciliation
	err            error

	updatedID     uuid.UUID
	updatedStatus string
}

func (m *mockReconciliationService) Get(_ context.Context, id uuid.UUID) (*models.Reconciliation, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.reconciliation == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.reconciliation, nil
}

func (m *mockReconciliationService) UpdateStatus(_ context.Context, id uuid.UUID, status string) (*models.Reconciliation, error) {
	m.updatedID = id
	m.updatedStatus = status
	if m.err != nil {
		return nil, m.err
	}
	rec := *m.reconciliation
	rec.Status = status
	return &rec, nil
}

// mockConfigService implements services.ConfigService.
type mockConfigService struct {
	config    *models.MatchingConfig
	configs   []*models.MatchingConfig
	pipeline  *models.Pipeline
	pipelines []*models.Pipeline
	err       error

	createdConfig   *models.MatchingConfig
	createdPipeline *models.Pipeline
}

func (m *mockConfigService) CreateConfig(_ context.Context, cfg *models.MatchingConfig) error {
	m.createdConfig = cfg
	return m.err
}

func (m *mockConfigService) GetConfig(_ context.Context, id uuid.UUID) (*models.MatchingConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.config == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.config, nil
}

func (m *mockConfigService) ListConfigs(_ context.Context, _, _ *uuid.UUID) ([]*models.MatchingConfig, error) {
	return m.configs, m.err
}

func (m *mockConfigService) CreatePipeline(_ context.Context, p *models.Pipeline) error {
	m.createdPipeline = p
	return m.err
}

func (m *mockConfigService) GetPipeline(_ context.Context, id uuid.UUID) (*models.Pipeline, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.pipeline == nil {
		return nil, apperrors.ErrNotFound
	}
	return m.pipeline, nil
}

func (m *mockConfigService) ListPipelines(_ context.Context) ([]*models.Pipeline, error) {
	return m.pipelines, m.err
}

func (m *mockConfigService) SeedGlobalConfigs(_ context.Context, _ []*models.MatchingConfig) error {
	return m.err
}

func (m *mockConfigService) ResolveRun(_ context.Context, _ *models.ReconTask) (*services.ResolvedRun, error) {
	return nil, m.err
}
