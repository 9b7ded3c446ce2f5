// Package repositories implements PostgreSQL data access for the
// reconciliation engine.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/recon-engine/pkg/database"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// CandidateRepository defines the candidate data store contract: filtered,
// paginated reads of bank/book candidates with their semantic vectors.
// Candidates that are members of a persisted reconciliation are permanently
// matched and never returned.
type CandidateRepository interface {
	Create(ctx context.Context, candidate *models.Candidate) error
	ListUnmatched(ctx context.Context, side models.Side, filter models.CandidateFilter, pageSize int) ([]*models.Candidate, error)
	GetUnmatchedByIDs(ctx context.Context, side models.Side, ids []uuid.UUID) ([]*models.Candidate, error)
}

type candidateRepository struct {
	db *database.DB
}

// NewCandidateRepository creates a new candidate repository.
func NewCandidateRepository(db *database.DB) CandidateRepository {
	return &candidateRepository{db: db}
}

const candidateColumns = `id, side, amount, currency, txn_date, description, embedding, account_id, external_ref, created_at`

func (r *candidateRepository) Create(ctx context.Context, candidate *models.Candidate) error {
	if candidate.ID == uuid.Nil {
		candidate.ID = uuid.New()
	}
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO candidates (` + candidateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		candidate.ID,
		candidate.Side,
		candidate.Amount,
		candidate.Currency,
		candidate.TxnDate,
		candidate.Description,
		candidate.Embedding,
		candidate.AccountID,
		candidate.ExternalRef,
		candidate.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create candidate: %w", err)
	}
	return nil
}

// ListUnmatched returns unmatched candidates on one side that pass the
// filter. Reads are paginated internally by keyset on id so one run never
// holds a server-side cursor open across stage boundaries.
func (r *candidateRepository) ListUnmatched(ctx context.Context, side models.Side, filter models.CandidateFilter, pageSize int) ([]*models.Candidate, error) {
	if pageSize < 1 {
		pageSize = 500
	}

	var all []*models.Candidate
	var lastID uuid.UUID

	for {
		query := `
			SELECT ` + candidateColumns + `
			FROM candidates c
			WHERE c.side = $1
			  AND c.id > $2
			  AND NOT EXISTS (
				SELECT 1 FROM reconciliation_members rm WHERE rm.candidate_id = c.id
			  )`
		args := []any{side, lastID}

		query, args = applyCandidateFilter(query, args, filter)
		query += fmt.Sprintf(" ORDER BY c.id LIMIT $%d", len(args)+1)
		args = append(args, pageSize)

		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to list candidates: %w", err)
		}

		page, err := scanCandidates(rows)
		if err != nil {
			return nil, err
		}

		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
		lastID = page[len(page)-1].ID
	}
}

// GetUnmatchedByIDs resolves an explicit id subset, silently dropping ids
// that are unknown, on the wrong side, or already permanently matched.
func (r *candidateRepository) GetUnmatchedByIDs(ctx context.Context, side models.Side, ids []uuid.UUID) ([]*models.Candidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + candidateColumns + `
		FROM candidates c
		WHERE c.side = $1
		  AND c.id = ANY($2)
		  AND NOT EXISTS (
			SELECT 1 FROM reconciliation_members rm WHERE rm.candidate_id = c.id
		  )
		ORDER BY c.id`

	rows, err := r.db.Query(ctx, query, side, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get candidates by ids: %w", err)
	}
	return scanCandidates(rows)
}

// applyCandidateFilter appends WHERE conditions for the optional filter
// fields. The ids allow-list is handled by GetUnmatchedByIDs.
func applyCandidateFilter(query string, args []any, f models.CandidateFilter) (string, []any) {
	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		query += fmt.Sprintf(" AND c.txn_date >= $%d", len(args))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		query += fmt.Sprintf(" AND c.txn_date <= $%d", len(args))
	}
	if f.AmountMin != nil {
		args = append(args, *f.AmountMin)
		query += fmt.Sprintf(" AND c.amount >= $%d", len(args))
	}
	if f.AmountMax != nil {
		args = append(args, *f.AmountMax)
		query += fmt.Sprintf(" AND c.amount <= $%d", len(args))
	}
	if f.AccountID != nil {
		args = append(args, *f.AccountID)
		query += fmt.Sprintf(" AND c.account_id = $%d", len(args))
	}
	if len(f.IDs) > 0 {
		args = append(args, f.IDs)
		query += fmt.Sprintf(" AND c.id = ANY($%d)", len(args))
	}
	return query, args
}

func scanCandidates(rows pgx.Rows) ([]*models.Candidate, error) {
	defer rows.Close()

	var out []*models.Candidate
	for rows.Next() {
		var c models.Candidate
		if err := rows.Scan(
			&c.ID,
			&c.Side,
			&c.Amount,
			&c.Currency,
			&c.TxnDate,
			&c.Description,
			&c.Embedding,
			&c.AccountID,
			&c.ExternalRef,
			&c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return out, nil
}
