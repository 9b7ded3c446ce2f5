package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/database"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// TaskRepository defines data access for reconciliation tasks.
type TaskRepository interface {
	Create(ctx context.Context, task *models.ReconTask) error
	Get(ctx context.Context, id uuid.UUID) (*models.ReconTask, error)
	List(ctx context.Context, limit int) ([]*models.ReconTask, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	// MarkCancelledIfQueued cancels a task that the job runner has not
	// picked up yet. Returns false when the task already left the queued
	// state, in which case cancellation must go through the runner.
	MarkCancelledIfQueued(ctx context.Context, id uuid.UUID) (bool, error)
	// FinalizeTx writes the terminal state, statistics, warnings and errors
	// inside the caller's transaction so the task lands atomically with its
	// suggestions and reconciliations.
	FinalizeTx(ctx context.Context, tx pgx.Tx, task *models.ReconTask) error
}

type taskRepository struct {
	db *database.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *database.DB) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `id, status, config_id, pipeline_id, bank_candidate_ids, book_candidate_ids,
	auto_apply_override, stats, warnings, errors, created_at, started_at, completed_at`

func (r *taskRepository) Create(ctx context.Context, task *models.ReconTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = models.TaskQueued
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	stats, warnings, errs, err := marshalTaskPayload(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO recon_tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.Exec(ctx, query,
		task.ID,
		task.Status,
		task.ConfigID,
		task.PipelineID,
		task.BankCandidateIDs,
		task.BookCandidateIDs,
		task.AutoApplyOverride,
		stats,
		warnings,
		errs,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id uuid.UUID) (*models.ReconTask, error) {
	query := `SELECT ` + taskColumns + ` FROM recon_tasks WHERE id = $1`
	task, err := scanTask(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	return task, err
}

func (r *taskRepository) List(ctx context.Context, limit int) ([]*models.ReconTask, error) {
	if limit < 1 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM recon_tasks ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.ReconTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return out, nil
}

// MarkRunning transitions queued -> running and stamps started_at. The
// status guard makes the transition safe against a racing cancel.
func (r *taskRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recon_tasks SET status = $1, started_at = now()
		WHERE id = $2 AND status = $3`,
		models.TaskRunning, id, models.TaskQueued)
	if err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (r *taskRepository) MarkCancelledIfQueued(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE recon_tasks SET status = $1, completed_at = now()
		WHERE id = $2 AND status = $3`,
		models.TaskCancelled, id, models.TaskQueued)
	if err != nil {
		return false, fmt.Errorf("failed to cancel queued task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *taskRepository) FinalizeTx(ctx context.Context, tx pgx.Tx, task *models.ReconTask) error {
	stats, warnings, errs, err := marshalTaskPayload(task)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE recon_tasks
		SET status = $1, stats = $2, warnings = $3, errors = $4, completed_at = $5
		WHERE id = $6`,
		task.Status, stats, warnings, errs, task.CompletedAt, task.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func marshalTaskPayload(task *models.ReconTask) (stats, warnings, errs []byte, err error) {
	if stats, err = json.Marshal(task.Stats); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal task stats: %w", err)
	}
	if warnings, err = json.Marshal(emptyIfNil(task.Warnings)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal task warnings: %w", err)
	}
	if errs, err = json.Marshal(emptyIfNil(task.Errors)); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal task errors: %w", err)
	}
	return stats, warnings, errs, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanTask(row pgx.Row) (*models.ReconTask, error) {
	var task models.ReconTask
	var stats, warnings, errs []byte

	err := row.Scan(
		&task.ID,
		&task.Status,
		&task.ConfigID,
		&task.PipelineID,
		&task.BankCandidateIDs,
		&task.BookCandidateIDs,
		&task.AutoApplyOverride,
		&stats,
		&warnings,
		&errs,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if err := json.Unmarshal(stats, &task.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task stats: %w", err)
	}
	if err := json.Unmarshal(warnings, &task.Warnings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task warnings: %w", err)
	}
	if err := json.Unmarshal(errs, &task.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task errors: %w", err)
	}
	return &task, nil
}
