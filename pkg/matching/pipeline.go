package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// ResolvedStage is a pipeline stage with its configuration reference already
// resolved by the configuration store. A single-config task is run as one
// resolved stage at position 1 with no overrides.
type ResolvedStage struct {
	Position  int
	Enabled   bool
	Config    *models.MatchingConfig
	Overrides *models.StageOverrides
}

// RunOptions carries the run-wide settings the stages share.
type RunOptions struct {
	TaskID uuid.UUID
	// MaxSuggestions caps ranked survivors across all stages. Zero or
	// negative means no overall cap beyond each stage's own.
	MaxSuggestions int
	// TimeBudget is the soft wall-clock limit. Zero means unbounded.
	TimeBudget     time.Duration
	AutoApplyScore *float64
}

// RunResult accumulates the output of every executed stage.
type RunResult struct {
	Suggestions []*models.Suggestion
	AutoApplied []*models.Reconciliation
	Stages      []models.StageStats
	Warnings    []string
	// Cancelled is set when the run stopped at a cooperative checkpoint
	// because the task's context was cancelled. Results gathered before
	// the checkpoint are retained.
	Cancelled bool
}

// Runner executes an ordered list of stages against one shared pool so that
// candidate consumption carries forward from stage to stage.
type Runner struct {
	executor *StageExecutor
	logger   *zap.Logger
}

// NewRunner builds a pipeline runner around a stage executor.
func NewRunner(executor *StageExecutor, logger *zap.Logger) *Runner {
	return &Runner{executor: executor, logger: logger.Named("pipeline")}
}

// Run executes the stages in ascending position order. Disabled stages are
// skipped. A stage-fatal error (bad override, enumeration budget) is
// recorded on the stage's statistics and the run continues; cancellation and
// time-budget exhaustion stop the run with everything gathered so far.
// The returned error is non-nil only for cancellation, so the caller can
// persist partial results under a cancelled task state.
func (r *Runner) Run(ctx context.Context, pool *Pool, stages []ResolvedStage, opts RunOptions) (*RunResult, error) {
	runCtx := ctx
	cancel := func() {}
	if opts.TimeBudget > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.TimeBudget)
	}
	defer cancel()

	result := &RunResult{Warnings: pool.Warnings()}
	remaining := opts.MaxSuggestions
	if remaining <= 0 {
		remaining = -1
	}

	for _, stage := range stages {
		if !stage.Enabled {
			r.logger.Debug("stage disabled, skipping",
				zap.Int("position", stage.Position))
			continue
		}
		if remaining == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"overall suggestion cap reached before stage %d", stage.Position))
			break
		}
		if err := runCtx.Err(); err != nil {
			if stopRun(ctx, result) {
				return result, context.Canceled
			}
			return result, nil
		}

		stageResult, err := r.executor.Run(runCtx, pool, stage.Config,
			stage.Overrides, opts.TaskID, stage.Position, opts.AutoApplyScore, remaining)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if stopRun(ctx, result) {
					return result, context.Canceled
				}
				return result, nil
			}
			r.logger.Warn("stage failed, continuing with remaining stages",
				zap.Int("position", stage.Position),
				zap.String("config_id", stage.Config.ID.String()),
				zap.Error(err))
			result.Stages = append(result.Stages, models.StageStats{
				Position: stage.Position,
				ConfigID: stage.Config.ID,
				Error:    err.Error(),
			})
			continue
		}

		result.Stages = append(result.Stages, stageResult.Stats)
		result.Suggestions = append(result.Suggestions, stageResult.Suggestions...)
		result.AutoApplied = append(result.AutoApplied, stageResult.AutoApplied...)
		if remaining > 0 {
			remaining -= stageResult.Stats.GroupsSurviving
			if remaining < 0 {
				remaining = 0
			}
		}
	}

	return result, nil
}

// stopRun classifies why the run context ended. A cancelled parent means the
// task was cancelled; otherwise the soft time budget expired and the run is
// completed with a warning.
func stopRun(parent context.Context, result *RunResult) bool {
	if parent.Err() != nil {
		result.Cancelled = true
		return true
	}
	result.Warnings = append(result.Warnings, "time budget exhausted, remaining stages skipped")
	return false
}
