package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/database"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// SuggestionRepository defines data access for match suggestions.
type SuggestionRepository interface {
	// CreateBatchTx inserts a task's suggestions inside the caller's
	// transaction, alongside task finalization.
	CreateBatchTx(ctx context.Context, tx pgx.Tx, suggestions []*models.Suggestion) error
	Get(ctx context.Context, id uuid.UUID) (*models.Suggestion, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Suggestion, error)
	// UpdateStatusGuarded transitions a suggestion from one status to
	// another. Returns apperrors.ErrConflict when the suggestion is not in
	// the expected status.
	UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to string) error
	UpdateStatusGuardedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) error
}

type suggestionRepository struct {
	db *database.DB
}

// NewSuggestionRepository creates a new suggestion repository.
func NewSuggestionRepository(db *database.DB) SuggestionRepository {
	return &suggestionRepository{db: db}
}

const suggestionColumns = `id, task_id, match_type, confidence, bank_candidate_ids,
	book_candidate_ids, status, rank, created_at, updated_at`

func (r *suggestionRepository) CreateBatchTx(ctx context.Context, tx pgx.Tx, suggestions []*models.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO suggestions (` + suggestionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, s := range suggestions {
		batch.Queue(query,
			s.ID, s.TaskID, s.MatchType, s.Confidence,
			s.BankCandidateIDs, s.BookCandidateIDs,
			s.Status, s.Rank, s.CreatedAt, s.UpdatedAt)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range suggestions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to insert suggestion: %w", err)
		}
	}
	return nil
}

func (r *suggestionRepository) Get(ctx context.Context, id uuid.UUID) (*models.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE id = $1`
	s, err := scanSuggestion(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	return s, err
}

// ListByTask returns a task's suggestions in presentation order: ranked
// survivors first, then superseded alternates by confidence.
func (r *suggestionRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Suggestion, error) {
	query := `
		SELECT ` + suggestionColumns + `
		FROM suggestions
		WHERE task_id = $1
		ORDER BY (rank = 0), rank, confidence DESC, id`

	rows, err := r.db.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	var out []*models.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suggestions: %w", err)
	}
	return out, nil
}

func (r *suggestionRepository) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.db.Exec(ctx, updateStatusQuery, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update suggestion status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

func (r *suggestionRepository) UpdateStatusGuardedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to string) error {
	tag, err := tx.Exec(ctx, updateStatusQuery, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update suggestion status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}
	return nil
}

const updateStatusQuery = `
	UPDATE suggestions SET status = $1, updated_at = $2
	WHERE id = $3 AND status = $4`

func scanSuggestion(row pgx.Row) (*models.Suggestion, error) {
	var s models.Suggestion
	err := row.Scan(
		&s.ID,
		&s.TaskID,
		&s.MatchType,
		&s.Confidence,
		&s.BankCandidateIDs,
		&s.BookCandidateIDs,
		&s.Status,
		&s.Rank,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan suggestion: %w", err)
	}
	return &s, nil
}
