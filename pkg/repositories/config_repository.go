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

// MatchingConfigRepository defines data access for matching configurations.
type MatchingConfigRepository interface {
	Create(ctx context.Context, cfg *models.MatchingConfig) error
	Get(ctx context.Context, id uuid.UUID) (*models.MatchingConfig, error)
	GetByName(ctx context.Context, scope, name string) (*models.MatchingConfig, error)
	// List returns configs visible to the company/user pair ordered by
	// scope precedence: company+user > user > company > global.
	List(ctx context.Context, companyID, userID *uuid.UUID) ([]*models.MatchingConfig, error)
}

type matchingConfigRepository struct {
	db *database.DB
}

// NewMatchingConfigRepository creates a new matching config repository.
func NewMatchingConfigRepository(db *database.DB) MatchingConfigRepository {
	return &matchingConfigRepository{db: db}
}

const configColumns = `id, scope, company_id, user_id, name, bank_filter, book_filter,
	weights, tolerances, min_confidence, max_suggestions, max_alternatives_per_match,
	time_budget_ms, created_at, updated_at`

func (r *matchingConfigRepository) Create(ctx context.Context, cfg *models.MatchingConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	bankFilter, err := json.Marshal(cfg.BankFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal bank filter: %w", err)
	}
	bookFilter, err := json.Marshal(cfg.BookFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal book filter: %w", err)
	}
	weights, err := json.Marshal(cfg.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	tolerances, err := json.Marshal(cfg.Tolerances)
	if err != nil {
		return fmt.Errorf("failed to marshal tolerances: %w", err)
	}

	query := `
		INSERT INTO matching_configs (` + configColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.Exec(ctx, query,
		cfg.ID,
		cfg.Scope,
		cfg.CompanyID,
		cfg.UserID,
		cfg.Name,
		bankFilter,
		bookFilter,
		weights,
		tolerances,
		cfg.MinConfidence,
		cfg.MaxSuggestions,
		cfg.MaxAlternativesPerMatch,
		durationMS(cfg.TimeBudget),
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create matching config: %w", err)
	}
	return nil
}

func (r *matchingConfigRepository) Get(ctx context.Context, id uuid.UUID) (*models.MatchingConfig, error) {
	query := `SELECT ` + configColumns + ` FROM matching_configs WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *matchingConfigRepository) GetByName(ctx context.Context, scope, name string) (*models.MatchingConfig, error) {
	query := `SELECT ` + configColumns + ` FROM matching_configs WHERE scope = $1 AND name = $2`
	return r.scanOne(r.db.QueryRow(ctx, query, scope, name))
}

func (r *matchingConfigRepository) List(ctx context.Context, companyID, userID *uuid.UUID) ([]*models.MatchingConfig, error) {
	query := `
		SELECT ` + configColumns + `
		FROM matching_configs
		WHERE scope = 'global'
		   OR (scope = 'company' AND company_id = $1)
		   OR (scope = 'user' AND user_id = $2)
		   OR (scope = 'company_user' AND company_id = $1 AND user_id = $2)
		ORDER BY CASE scope
			WHEN 'company_user' THEN 0
			WHEN 'user' THEN 1
			WHEN 'company' THEN 2
			ELSE 3
		END, name`

	rows, err := r.db.Query(ctx, query, companyID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matching configs: %w", err)
	}
	defer rows.Close()

	var out []*models.MatchingConfig
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate matching configs: %w", err)
	}
	return out, nil
}

func (r *matchingConfigRepository) scanOne(row pgx.Row) (*models.MatchingConfig, error) {
	cfg, err := r.scanConfig(row)
	if err == pgx.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	return cfg, err
}

func (r *matchingConfigRepository) scanConfig(row pgx.Row) (*models.MatchingConfig, error) {
	var cfg models.MatchingConfig
	var bankFilter, bookFilter, weights, tolerances []byte
	var budgetMS *int64

	err := row.Scan(
		&cfg.ID,
		&cfg.Scope,
		&cfg.CompanyID,
		&cfg.UserID,
		&cfg.Name,
		&bankFilter,
		&bookFilter,
		&weights,
		&tolerances,
		&cfg.MinConfidence,
		&cfg.MaxSuggestions,
		&cfg.MaxAlternativesPerMatch,
		&budgetMS,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan matching config: %w", err)
	}

	// Filters are decoded strictly: a row written with unknown keys is a
	// defect worth surfacing, not widening.
	if cfg.BankFilter, err = models.DecodeCandidateFilter(bankFilter); err != nil {
		return nil, fmt.Errorf("bank filter for config %s: %w", cfg.ID, err)
	}
	if cfg.BookFilter, err = models.DecodeCandidateFilter(bookFilter); err != nil {
		return nil, fmt.Errorf("book filter for config %s: %w", cfg.ID, err)
	}
	if err := json.Unmarshal(weights, &cfg.Weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	if err := json.Unmarshal(tolerances, &cfg.Tolerances); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tolerances: %w", err)
	}
	cfg.TimeBudget = msDuration(budgetMS)

	return &cfg, nil
}

// PipelineRepository defines data access for pipelines and their stages.
type PipelineRepository interface {
	Create(ctx context.Context, p *models.Pipeline) error
	Get(ctx context.Context, id uuid.UUID) (*models.Pipeline, error)
	List(ctx context.Context) ([]*models.Pipeline, error)
}

type pipelineRepository struct {
	db *database.DB
}

// NewPipelineRepository creates a new pipeline repository.
func NewPipelineRepository(db *database.DB) PipelineRepository {
	return &pipelineRepository{db: db}
}

// Create inserts the pipeline and its stages in one transaction.
func (r *pipelineRepository) Create(ctx context.Context, p *models.Pipeline) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO pipelines (id, name, max_suggestions, time_budget_ms, auto_apply_score, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID,
			p.Name,
			p.MaxSuggestions,
			durationMS(p.TimeBudget),
			p.AutoApplyScore,
			p.CreatedAt,
			p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create pipeline: %w", err)
		}

		for i := range p.Stages {
			st := &p.Stages[i]
			if st.ID == uuid.Nil {
				st.ID = uuid.New()
			}
			st.PipelineID = p.ID

			var overrides []byte
			if st.Overrides != nil {
				if overrides, err = json.Marshal(st.Overrides); err != nil {
					return fmt.Errorf("failed to marshal stage overrides: %w", err)
				}
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO pipeline_stages (id, pipeline_id, position, config_id, enabled, overrides)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				st.ID, st.PipelineID, st.Position, st.ConfigID, st.Enabled, overrides)
			if err != nil {
				return fmt.Errorf("failed to create pipeline stage %d: %w", st.Position, err)
			}
		}
		return nil
	})
}

func (r *pipelineRepository) Get(ctx context.Context, id uuid.UUID) (*models.Pipeline, error) {
	var p models.Pipeline
	var budgetMS *int64

	err := r.db.QueryRow(ctx, `
		SELECT id, name, max_suggestions, time_budget_ms, auto_apply_score, created_at, updated_at
		FROM pipelines WHERE id = $1`, id).Scan(
		&p.ID, &p.Name, &p.MaxSuggestions, &budgetMS, &p.AutoApplyScore, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	p.TimeBudget = msDuration(budgetMS)

	if p.Stages, err = r.loadStages(ctx, p.ID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pipelineRepository) List(ctx context.Context) ([]*models.Pipeline, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, max_suggestions, time_budget_ms, auto_apply_score, created_at, updated_at
		FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*models.Pipeline
	for rows.Next() {
		var p models.Pipeline
		var budgetMS *int64
		if err := rows.Scan(&p.ID, &p.Name, &p.MaxSuggestions, &budgetMS, &p.AutoApplyScore, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline: %w", err)
		}
		p.TimeBudget = msDuration(budgetMS)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pipelines: %w", err)
	}

	for _, p := range out {
		if p.Stages, err = r.loadStages(ctx, p.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *pipelineRepository) loadStages(ctx context.Context, pipelineID uuid.UUID) ([]models.PipelineStage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, pipeline_id, position, config_id, enabled, overrides
		FROM pipeline_stages WHERE pipeline_id = $1 ORDER BY position`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline stages: %w", err)
	}
	defer rows.Close()

	var stages []models.PipelineStage
	for rows.Next() {
		var st models.PipelineStage
		var overrides []byte
		if err := rows.Scan(&st.ID, &st.PipelineID, &st.Position, &st.ConfigID, &st.Enabled, &overrides); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline stage: %w", err)
		}
		if st.Overrides, err = models.DecodeStageOverrides(overrides); err != nil {
			return nil, fmt.Errorf("overrides for stage %d: %w", st.Position, err)
		}
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pipeline stages: %w", err)
	}
	return stages, nil
}

func durationMS(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func msDuration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}
