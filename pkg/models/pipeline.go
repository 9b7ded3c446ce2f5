package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StageOverrides are optional per-stage parameter overrides that take
// precedence over the referenced config. Weights are all-or-nothing: if any
// weight is overridden, all four must be supplied together and must still
// sum to 1.0.
type StageOverrides struct {
	Weights          *ScoringWeights  `json:"weights,omitempty"`
	AmountTolerance  *decimal.Decimal `json:"amount_tolerance,omitempty"`
	GroupSpanDays    *int             `json:"group_span_days,omitempty"`
	AvgDateDeltaDays *float64         `json:"avg_date_delta_days,omitempty"`
	MaxGroupSizeBank *int             `json:"max_group_size_bank,omitempty"`
	MaxGroupSizeBook *int             `json:"max_group_size_book,omitempty"`
	AllowMixedSigns  *bool            `json:"allow_mixed_signs,omitempty"`
	MinConfidence    *float64         `json:"min_confidence,omitempty"`
	MaxSuggestions   *int             `json:"max_suggestions,omitempty"`
}

// Validate checks the override invariants. A weight-override violation is a
// stage-local error: the stage is skipped, the pipeline continues.
func (o *StageOverrides) Validate() error {
	if o == nil {
		return nil
	}
	if o.Weights != nil {
		if err := o.Weights.Validate(); err != nil {
			return fmt.Errorf("stage weight override: %w", err)
		}
	}
	if o.AmountTolerance != nil && o.AmountTolerance.IsNegative() {
		return fmt.Errorf("stage amount_tolerance override must be non-negative, got %s", o.AmountTolerance)
	}
	if o.MinConfidence != nil && (*o.MinConfidence < 0 || *o.MinConfidence > 1) {
		return fmt.Errorf("stage min_confidence override must be in [0,1], got %g", *o.MinConfidence)
	}
	return nil
}

// DecodeStageOverrides parses stored overrides, rejecting unknown keys.
func DecodeStageOverrides(raw []byte) (*StageOverrides, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var o StageOverrides
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("decode stage overrides: %w", err)
	}
	return &o, nil
}

// PipelineStage is one configuration's matching pass within a pipeline.
type PipelineStage struct {
	ID         uuid.UUID       `json:"id"`
	PipelineID uuid.UUID       `json:"pipeline_id"`
	Position   int             `json:"position"`
	ConfigID   uuid.UUID       `json:"config_id"`
	Enabled    bool            `json:"enabled"`
	Overrides  *StageOverrides `json:"overrides,omitempty"`
}

// Pipeline is an ordered list of stages sharing one candidate pool.
type Pipeline struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	// MaxSuggestions caps the total emitted across all stages.
	MaxSuggestions int `json:"max_suggestions"`
	// TimeBudget is the overall soft execution budget.
	TimeBudget *time.Duration `json:"time_budget,omitempty"`
	// AutoApplyScore: suggestions at or above this confidence are finalized
	// as reconciliations in the same run. Nil disables auto-apply.
	AutoApplyScore *float64        `json:"auto_apply_score,omitempty"`
	Stages         []PipelineStage `json:"stages"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Validate enforces pipeline-level invariants. Stage override validity is
// deliberately not checked here: a bad override is a stage-local error at
// execution time, not a reason to reject the whole pipeline.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if p.MaxSuggestions < 1 {
		return fmt.Errorf("max_suggestions must be at least 1, got %d", p.MaxSuggestions)
	}
	if p.AutoApplyScore != nil && (*p.AutoApplyScore < 0 || *p.AutoApplyScore > 1) {
		return fmt.Errorf("auto_apply_score must be in [0,1], got %g", *p.AutoApplyScore)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline must have at least one stage")
	}
	seen := make(map[int]bool, len(p.Stages))
	for _, st := range p.Stages {
		if seen[st.Position] {
			return fmt.Errorf("duplicate stage position %d", st.Position)
		}
		seen[st.Position] = true
	}
	return nil
}
