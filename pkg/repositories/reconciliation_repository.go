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

// ReconciliationRepository defines data access for finalized matches.
// Creating a reconciliation also records one member row per candidate;
// the unique index on members is what makes "already matched" permanent.
type ReconciliationRepository interface {
	CreateTx(ctx context.Context, tx pgx.Tx, rec *models.Reconciliation) error
	Create(ctx context.Context, rec *models.Reconciliation) error
	Get(ctx context.Context, id uuid.UUID) (*models.Reconciliation, error)
	GetBySuggestion(ctx context.Context, suggestionID uuid.UUID) (*models.Reconciliation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type reconciliationRepository struct {
	db *database.DB
}

// NewReconciliationRepository creates a new reconciliation repository.
func NewReconciliationRepository(db *database.DB) ReconciliationRepository {
	return &reconciliationRepository{db: db}
}

const reconciliationColumns = `id, task_id, suggestion_id, status, reference, notes,
	bank_candidate_ids, book_candidate_ids, created_at, updated_at`

func (r *reconciliationRepository) CreateTx(ctx context.Context, tx pgx.Tx, rec *models.Reconciliation) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := tx.Exec(ctx, `
		INSERT INTO reconciliations (`+reconciliationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID,
		rec.TaskID,
		rec.SuggestionID,
		rec.Status,
		rec.Reference,
		rec.Notes,
		rec.BankCandidateIDs,
		rec.BookCandidateIDs,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}

	batch := &pgx.Batch{}
	memberQuery := `INSERT INTO reconciliation_members (reconciliation_id, candidate_id) VALUES ($1, $2)`
	for _, id := range rec.BankCandidateIDs {
		batch.Queue(memberQuery, rec.ID, id)
	}
	for _, id := range rec.BookCandidateIDs {
		batch.Queue(memberQuery, rec.ID, id)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(rec.BankCandidateIDs)+len(rec.BookCandidateIDs); i++ {
		if _, err := results.Exec(); err != nil {
			// Unique index violation: a member is already matched elsewhere.
			return fmt.Errorf("failed to record reconciliation member: %w", err)
		}
	}
	return nil
}

func (r *reconciliationRepository) Create(ctx context.Context, rec *models.Reconciliation) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return r.CreateTx(ctx, tx, rec)
	})
}

func (r *reconciliationRepository) Get(ctx context.Context, id uuid.UUID) (*models.Reconciliation, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations WHERE id = $1`
	return scanReconciliation(r.db.QueryRow(ctx, query, id))
}

func (r *reconciliationRepository) GetBySuggestion(ctx context.Context, suggestionID uuid.UUID) (*models.Reconciliation, error) {
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations WHERE suggestion_id = $1`
	return scanReconciliation(r.db.QueryRow(ctx, query, suggestionID))
}

// UpdateStatus applies a workflow transition after validating it against the
// current status.
func (r *reconciliationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM reconciliations WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err != nil {
			if err == pgx.ErrNoRows {
				return apperrors.ErrNotFound
			}
			return fmt.Errorf("failed to lock reconciliation: %w", err)
		}

		if current == status {
			return nil
		}
		if !models.ValidReconciliationTransition(current, status) {
			return fmt.Errorf("%w: cannot move reconciliation from %s to %s",
				apperrors.ErrConflict, current, status)
		}

		_, err = tx.Exec(ctx, `UPDATE reconciliations SET status = $1, updated_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update reconciliation status: %w", err)
		}
		return nil
	})
}

func scanReconciliation(row pgx.Row) (*models.Reconciliation, error) {
	var rec models.Reconciliation
	err := row.Scan(
		&rec.ID,
		&rec.TaskID,
		&rec.SuggestionID,
		&rec.Status,
		&rec.Reference,
		&rec.Notes,
		&rec.BankCandidateIDs,
		&rec.BookCandidateIDs,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan reconciliation: %w", err)
	}
	return &rec, nil
}
