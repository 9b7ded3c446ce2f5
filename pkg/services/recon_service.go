package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/database"
	"github.com/ledgerline/recon-engine/pkg/matching"
	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/repositories"
	"github.com/ledgerline/recon-engine/pkg/retry"
	"github.com/ledgerline/recon-engine/pkg/services/workqueue"
)

// EngineSettings tunes task execution. Zero values fall back to the
// defaults below.
type EngineSettings struct {
	// MaxSubsetEvaluations bounds per-stage group enumeration.
	MaxSubsetEvaluations int
	// CandidatePageSize is the keyset page size for pool loads.
	CandidatePageSize int
	// DefaultTimeBudget applies when a config or pipeline carries none.
	DefaultTimeBudget time.Duration
}

func (s EngineSettings) withDefaults() EngineSettings {
	if s.MaxSubsetEvaluations <= 0 {
		s.MaxSubsetEvaluations = 200000
	}
	if s.CandidatePageSize <= 0 {
		s.CandidatePageSize = 500
	}
	return s
}

// TxRunner runs a function inside one database transaction. Satisfied by
// *database.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

var _ TxRunner = (*database.DB)(nil)

// SubmitTaskRequest carries everything a caller can say about a new run.
// Exactly one of ConfigID / PipelineID must be set.
type SubmitTaskRequest struct {
	ConfigID   *uuid.UUID `json:"config_id,omitempty"`
	PipelineID *uuid.UUID `json:"pipeline_id,omitempty"`
	// Optional explicit subsets restricting the candidate pool. When set,
	// the side loads exactly these candidates instead of applying the
	// configuration's filter.
	BankCandidateIDs  []uuid.UUID `json:"bank_candidate_ids,omitempty"`
	BookCandidateIDs  []uuid.UUID `json:"book_candidate_ids,omitempty"`
	AutoApplyOverride *bool       `json:"auto_apply_override,omitempty"`
}

// ReconService is the task lifecycle controller: it accepts run requests,
// dispatches them to the work queue, executes them, and answers status
// queries.
type ReconService interface {
	Submit(ctx context.Context, req SubmitTaskRequest) (*models.ReconTask, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ReconTask, []*models.Suggestion, error)
	List(ctx context.Context, limit int) ([]*models.ReconTask, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	QueueState() ([]workqueue.TaskSnapshot, workqueue.Progress)
}

type reconService struct {
	db              TxRunner
	tasks           repositories.TaskRepository
	candidates      repositories.CandidateRepository
	suggestions     repositories.SuggestionRepository
	reconciliations repositories.ReconciliationRepository
	configs         ConfigService
	queue           *workqueue.Queue
	settings        EngineSettings
	retryConfig     *retry.Config
	logger          *zap.Logger
}

// NewReconService creates the task lifecycle controller.
func NewReconService(
	db TxRunner,
	tasks repositories.TaskRepository,
	candidates repositories.CandidateRepository,
	suggestions repositories.SuggestionRepository,
	reconciliations repositories.ReconciliationRepository,
	configs ConfigService,
	queue *workqueue.Queue,
	settings EngineSettings,
	logger *zap.Logger,
) ReconService {
	return &reconService{
		db:              db,
		tasks:           tasks,
		candidates:      candidates,
		suggestions:     suggestions,
		reconciliations: reconciliations,
		configs:         configs,
		queue:           queue,
		settings:        settings.withDefaults(),
		retryConfig:     retry.DefaultConfig(),
		logger:          logger.Named("recon"),
	}
}

func (s *reconService) Submit(ctx context.Context, req SubmitTaskRequest) (*models.ReconTask, error) {
	if (req.ConfigID == nil) == (req.PipelineID == nil) {
		return nil, fmt.Errorf("%w: exactly one of config_id and pipeline_id must be set", apperrors.ErrInvalidRequest)
	}

	task := &models.ReconTask{
		ID:                uuid.New(),
		Status:            models.TaskQueued,
		ConfigID:          req.ConfigID,
		PipelineID:        req.PipelineID,
		BankCandidateIDs:  req.BankCandidateIDs,
		BookCandidateIDs:  req.BookCandidateIDs,
		AutoApplyOverride: req.AutoApplyOverride,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.queue.Enqueue(newReconRunTask(s, task.ID))
	s.logger.Info("task submitted",
		zap.String("task_id", task.ID.String()),
		zap.Bool("pipeline", task.PipelineID != nil))
	return task, nil
}

func (s *reconService) Get(ctx context.Context, id uuid.UUID) (*models.ReconTask, []*models.Suggestion, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !models.TerminalTaskStatus(task.Status) {
		return task, nil, nil
	}
	suggestions, err := s.suggestions.ListByTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return task, suggestions, nil
}

func (s *reconService) List(ctx context.Context, limit int) ([]*models.ReconTask, error) {
	return s.tasks.List(ctx, limit)
}

// Cancel requests cooperative cancellation. A queued task is cancelled in
// place; a running task has its execution context cancelled and persists its
// partial results itself at the next checkpoint.
func (s *reconService) Cancel(ctx context.Context, id uuid.UUID) error {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	if models.TerminalTaskStatus(task.Status) {
		return fmt.Errorf("task %s is %s: %w", id, task.Status, apperrors.ErrTaskNotCancellable)
	}

	inQueue := s.queue.CancelTask(id.String())
	marked, err := s.tasks.MarkCancelledIfQueued(ctx, id)
	if err != nil {
		return err
	}
	if !inQueue && !marked {
		// The task reached a terminal state between the read and the
		// cancellation attempt.
		return fmt.Errorf("task %s: %w", id, apperrors.ErrTaskNotCancellable)
	}

	s.logger.Info("task cancellation requested",
		zap.String("task_id", id.String()),
		zap.Bool("was_queued", marked))
	return nil
}

func (s *reconService) QueueState() ([]workqueue.TaskSnapshot, workqueue.Progress) {
	return s.queue.GetTasks(), s.queue.Progress()
}

// reconRunTask adapts one task execution to the work queue.
type reconRunTask struct {
	workqueue.BaseTask
	svc    *reconService
	taskID uuid.UUID
}

func newReconRunTask(svc *reconService, taskID uuid.UUID) *reconRunTask {
	return &reconRunTask{
		BaseTask: workqueue.NewBaseTaskWithID(taskID.String(), fmt.Sprintf("Reconcile %s", taskID)),
		svc:      svc,
		taskID:   taskID,
	}
}

// Execute implements workqueue.Task.
func (t *reconRunTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return t.svc.executeTask(ctx, t.taskID)
}

// executeTask is the single-threaded unit of work for one run. The pool is
// exclusively owned by this goroutine for the task's lifetime.
func (s *reconService) executeTask(ctx context.Context, taskID uuid.UUID) error {
	started := time.Now()
	log := s.logger.With(zap.String("task_id", taskID.String()))

	// A cancel arrives by cancelling ctx, and a cancelled context cannot
	// begin a transaction. Terminal state and partial results are written
	// through a context that survives the cancellation.
	persistCtx := context.WithoutCancel(ctx)

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	if err := s.tasks.MarkRunning(ctx, taskID); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Not queued anymore. A retry attempt finds the task running;
			// anything terminal means a cancel won the race.
			current, getErr := s.tasks.Get(ctx, taskID)
			if getErr != nil {
				return getErr
			}
			if models.TerminalTaskStatus(current.Status) {
				log.Info("task already terminal, skipping run", zap.String("status", current.Status))
				return nil
			}
		} else {
			return err
		}
	}

	run, err := s.configs.ResolveRun(ctx, task)
	if err != nil {
		log.Warn("task failed pre-run validation", zap.Error(err))
		task.Status = models.TaskFailed
		task.Errors = append(task.Errors, err.Error())
		if finErr := s.finalize(persistCtx, task, nil, nil); finErr != nil {
			return finErr
		}
		return err
	}

	bank, bankWarnings, err := s.loadSide(ctx, models.SideBank, task.BankCandidateIDs, run.BankFilter)
	if err != nil {
		return fmt.Errorf("load bank candidates: %w", err)
	}
	book, bookWarnings, err := s.loadSide(ctx, models.SideBook, task.BookCandidateIDs, run.BookFilter)
	if err != nil {
		return fmt.Errorf("load book candidates: %w", err)
	}

	pool := matching.NewPool(bank, book, log)
	runner := matching.NewRunner(matching.NewStageExecutor(s.settings.MaxSubsetEvaluations, log), log)

	timeBudget := run.TimeBudget
	if timeBudget == 0 {
		timeBudget = s.settings.DefaultTimeBudget
	}

	result, runErr := runner.Run(ctx, pool, run.Stages, matching.RunOptions{
		TaskID:         taskID,
		MaxSuggestions: run.MaxSuggestions,
		TimeBudget:     timeBudget,
		AutoApplyScore: run.AutoApplyScore,
	})
	if runErr != nil && !result.Cancelled {
		return runErr
	}

	task.Status = models.TaskCompleted
	if result.Cancelled {
		task.Status = models.TaskCancelled
	}
	task.Warnings = append(append(bankWarnings, bookWarnings...), result.Warnings...)
	for _, st := range result.Stages {
		if st.Error != "" {
			task.Errors = append(task.Errors, fmt.Sprintf("stage %d: %s", st.Position, st.Error))
		}
	}
	task.Stats = models.TaskStats{
		BankCandidates:      pool.SideCount(models.SideBank),
		BookCandidates:      pool.SideCount(models.SideBook),
		SuggestionsProduced: len(result.Suggestions),
		AutoApplied:         len(result.AutoApplied),
		DurationMS:          time.Since(started).Milliseconds(),
		Stages:              result.Stages,
	}

	if err := s.finalize(persistCtx, task, result.Suggestions, result.AutoApplied); err != nil {
		return err
	}

	log.Info("task finished",
		zap.String("status", task.Status),
		zap.Int("suggestions", len(result.Suggestions)),
		zap.Int("auto_applied", len(result.AutoApplied)),
		zap.Int64("duration_ms", task.Stats.DurationMS))

	// Propagate cancellation so the queue records the entry as cancelled,
	// after the partial results are already safely persisted.
	return runErr
}

// loadSide loads one side of the pool: an explicit id subset when the task
// carries one, otherwise the configuration's filter. Transient read failures
// are retried.
func (s *reconService) loadSide(ctx context.Context, side models.Side, ids []uuid.UUID, filter models.CandidateFilter) ([]*models.Candidate, []string, error) {
	var out []*models.Candidate
	err := retry.Do(ctx, s.retryConfig, func() error {
		var loadErr error
		if len(ids) > 0 {
			out, loadErr = s.candidates.GetUnmatchedByIDs(ctx, side, ids)
		} else {
			out, loadErr = s.candidates.ListUnmatched(ctx, side, filter, s.settings.CandidatePageSize)
		}
		return loadErr
	})
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if len(ids) > 0 && len(out) < len(ids) {
		warnings = append(warnings, fmt.Sprintf(
			"%d of %d requested %s candidates are unknown or already matched",
			len(ids)-len(out), len(ids), side))
	}
	return out, warnings, nil
}

// finalize commits the terminal task state atomically with its suggestions
// and any auto-applied reconciliations.
func (s *reconService) finalize(ctx context.Context, task *models.ReconTask, suggestions []*models.Suggestion, applied []*models.Reconciliation) error {
	now := time.Now().UTC()
	task.CompletedAt = &now

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.tasks.FinalizeTx(ctx, tx, task); err != nil {
			return err
		}
		if err := s.suggestions.CreateBatchTx(ctx, tx, suggestions); err != nil {
			return err
		}
		for _, rec := range applied {
			if err := s.reconciliations.CreateTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ ReconService = (*reconService)(nil)
var _ workqueue.Task = (*reconRunTask)(nil)
