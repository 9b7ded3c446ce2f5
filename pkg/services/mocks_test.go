package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// mockTxRunner satisfies TxRunner without a database. The callback receives
// a nil tx; the mock repositories ignore it. Like pgx, it refuses to begin
// a transaction on a cancelled context.
type mockTxRunner struct {
	err error
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.err != nil {
		return m.err
	}
	return fn(nil)
}

// mockConfigRepo implements repositories.MatchingConfigRepository.
type mockConfigRepo struct {
	configs map[uuid.UUID]*models.MatchingConfig
	getErr  error
}

func newMockConfigRepo(configs ...*models.MatchingConfig) *mockConfigRepo {
	m := &mockConfigRepo{configs: make(map[uuid.UUID]*models.MatchingConfig)}
	for _, c := range configs {
		m.configs[c.ID] = c
	}
	return m
}

func (m *mockConfigRepo) Create(_ context.Context, cfg *models.MatchingConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	m.configs[cfg.ID] = cfg
	return nil
}

func (m *mockConfigRepo) Get(_ context.Context, id uuid.UUID) (*models.MatchingConfig, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	cfg, ok := m.configs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return cfg, nil
}

func (m *mockConfigRepo) GetByName(_ context.Context, scope, name string) (*models.MatchingConfig, error) {
	for _, cfg := range m.configs {
		if cfg.Scope == scope && cfg.Name == name {
			return cfg, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockConfigRepo) List(_ context.Context, _, _ *uuid.UUID) ([]*models.MatchingConfig, error) {
	var out []*models.MatchingConfig
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	return out, nil
}

// mockPipelineRepo implements repositories.PipelineRepository.
type mockPipelineRepo struct {
	pipelines map[uuid.UUID]*models.Pipeline
}

func newMockPipelineRepo(pipelines ...*models.Pipeline) *mockPipelineRepo {
	m := &mockPipelineRepo{pipelines: make(map[uuid.UUID]*models.Pipeline)}
	for _, p := range pipelines {
		m.pipelines[p.ID] = p
	}
	return m
}

func (m *mockPipelineRepo) Create(_ context.Context, p *models.Pipeline) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.pipelines[p.ID] = p
	return nil
}

func (m *mockPipelineRepo) Get(_ context.Context, id uuid.UUID) (*models.Pipeline, error) {
	p, ok := m.pipelines[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

func (m *mockPipelineRepo) List(_ context.Context) ([]*models.Pipeline, error) {
	var out []*models.Pipeline
	for _, p := range m.pipelines {
		out = append(out, p)
	}
	return out, nil
}

// mockTaskRepo implements repositories.TaskRepository. Guarded the same way
// the real one is so lifecycle races behave identically in tests.
type mockTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.ReconTask
}

func newMockTaskRepo() *mockTaskRepo {
	return &mockTaskRepo{tasks: make(map[uuid.UUID]*models.ReconTask)}
}

func (m *mockTaskRepo) Create(_ context.Context, task *models.ReconTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

func (m *mockTaskRepo) Get(_ context.Context, id uuid.UUID) (*models.ReconTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (m *mockTaskRepo) List(_ context.Context, _ int) ([]*models.ReconTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReconTask
	for _, task := range m.tasks {
		copied := *task
		out = append(out, &copied)
	}
	return out, nil
}

func (m *mockTaskRepo) MarkRunning(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || task.Status != models.TaskQueued {
		return apperrors.ErrConflict
	}
	task.Status = models.TaskRunning
	return nil
}

func (m *mockTaskRepo) MarkCancelledIfQueued(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok || task.Status != models.TaskQueued {
		return false, nil
	}
	task.Status = models.TaskCancelled
	return true, nil
}

func (m *mockTaskRepo) FinalizeTx(_ context.Context, _ pgx.Tx, task *models.ReconTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return apperrors.ErrNotFound
	}
	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

// mockCandidateRepo implements repositories.CandidateRepository over an
// in-memory slice. Filters beyond the id allow-list are ignored.
type mockCandidateRepo struct {
	candidates []*models.Candidate
}

func (m *mockCandidateRepo) Create(_ context.Context, c *models.Candidate) error {
	m.candidates = append(m.candidates, c)
	return nil
}

func (m *mockCandidateRepo) ListUnmatched(_ context.Context, side models.Side, filter models.CandidateFilter, _ int) ([]*models.Candidate, error) {
	var out []*models.Candidate
	for _, c := range m.candidates {
		if c.Side != side {
			continue
		}
		if len(filter.IDs) > 0 && !containsID(filter.IDs, c.ID) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockCandidateRepo) GetUnmatchedByIDs(_ context.Context, side models.Side, ids []uuid.UUID) ([]*models.Candidate, error) {
	var out []*models.Candidate
	for _, c := range m.candidates {
		if c.Side == side && containsID(ids, c.ID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// mockSuggestionRepo implements repositories.SuggestionRepository.
type mockSuggestionRepo struct {
	mu          sync.Mutex
	suggestions map[uuid.UUID]*models.Suggestion
}

func newMockSuggestionRepo(suggestions ...*models.Suggestion) *mockSuggestionRepo {
	m := &mockSuggestionRepo{suggestions: make(map[uuid.UUID]*models.Suggestion)}
	for _, s := range suggestions {
		m.suggestions[s.ID] = s
	}
	return m
}

func (m *mockSuggestionRepo) CreateBatchTx(_ context.Context, _ pgx.Tx, suggestions []*models.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range suggestions {
		copied := *s
		m.suggestions[s.ID] = &copied
	}
	return nil
}

func (m *mockSuggestionRepo) Get(_ context.Context, id uuid.UUID) (*models.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.suggestions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *mockSuggestionRepo) ListByTask(_ context.Context, taskID uuid.UUID) ([]*models.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Suggestion
	for _, s := range m.suggestions {
		if s.TaskID == taskID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockSuggestionRepo) UpdateStatusGuarded(_ context.Context, id uuid.UUID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(id, from, to)
}

func (m *mockSuggestionRepo) UpdateStatusGuardedTx(_ context.Context, _ pgx.Tx, id uuid.UUID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(id, from, to)
}

func (m *mockSuggestionRepo) updateStatusLocked(id uuid.UUID, from, to string) error {
	s, ok := m.suggestions[id]
	if !ok || s.Status != from {
		return apperrors.ErrConflict
	}
	s.Status = to
	return nil
}

// mockReconciliationRepo implements repositories.ReconciliationRepository.
type mockReconciliationRepo struct {
	mu              sync.Mutex
	reconciliations []*models.Reconciliation
}

func (m *mockReconciliationRepo) CreateTx(_ context.Context, _ pgx.Tx, rec *models.Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	m.reconciliations = append(m.reconciliations, &copied)
	return nil
}

func (m *mockReconciliationRepo) Create(ctx context.Context, rec *models.Reconciliation) error {
	return m.CreateTx(ctx, nil, rec)
}

func (m *mockReconciliationRepo) Get(_ context.Context, id uuid.UUID) (*models.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.reconciliations {
		if rec.ID == id {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockReconciliationRepo) GetBySuggestion(_ context.Context, suggestionID uuid.UUID) (*models.Reconciliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.reconciliations {
		if rec.SuggestionID != nil && *rec.SuggestionID == suggestionID {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockReconciliationRepo) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.reconciliations {
		if rec.ID == id {
			if rec.Status == status {
				return nil
			}
			if !models.ValidReconciliationTransition(rec.Status, status) {
				return fmt.Errorf("%w: cannot move reconciliation from %s to %s",
					apperrors.ErrConflict, rec.Status, status)
			}
			rec.Status = status
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockReconciliationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reconciliations)
}
