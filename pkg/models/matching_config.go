package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config scope values, from most to least specific. Resolution precedence is
// company+user > user > company > global.
const (
	ScopeGlobal      = "global"
	ScopeCompany     = "company"
	ScopeUser        = "user"
	ScopeCompanyUser = "company_user"
)

// WeightSumTolerance is the permitted deviation of the four scoring weights
// from an exact sum of 1.0.
const WeightSumTolerance = 1e-6

// ScoringWeights are the four factor weights combined into one confidence
// value. They must be non-negative and sum to 1.0 within WeightSumTolerance.
// The invariant is enforced at configuration validation time, never at
// scoring time.
type ScoringWeights struct {
	Description float64 `json:"description" yaml:"description"`
	Amount      float64 `json:"amount" yaml:"amount"`
	Currency    float64 `json:"currency" yaml:"currency"`
	Date        float64 `json:"date" yaml:"date"`
}

// Validate checks non-negativity and the sum-to-one invariant.
func (w ScoringWeights) Validate() error {
	for name, v := range map[string]float64{
		"description": w.Description,
		"amount":      w.Amount,
		"currency":    w.Currency,
		"date":        w.Date,
	} {
		if v < 0 {
			return fmt.Errorf("weight %q must be non-negative, got %g", name, v)
		}
	}
	sum := w.Description + w.Amount + w.Currency + w.Date
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("weights must sum to 1.0 (got %g)", sum)
	}
	return nil
}

// Tolerances bound which candidate groups are admissible.
type Tolerances struct {
	// AmountTolerance is the maximum absolute difference between the two
	// sides' aggregate sums. Zero means exact match only.
	AmountTolerance decimal.Decimal `json:"amount_tolerance" yaml:"amount_tolerance"`
	// GroupSpanDays is the maximum span (max date - min date) within a
	// multi-member subset on either side.
	GroupSpanDays int `json:"group_span_days" yaml:"group_span_days"`
	// AvgDateDeltaDays is the maximum difference, in days, between the two
	// sides' amount-weighted average dates.
	AvgDateDeltaDays float64 `json:"avg_date_delta_days" yaml:"avg_date_delta_days"`
	// MaxGroupSizeBank and MaxGroupSizeBook bound subset enumeration per
	// side. Both default to 1 (one-to-one matching).
	MaxGroupSizeBank int `json:"max_group_size_bank" yaml:"max_group_size_bank"`
	MaxGroupSizeBook int `json:"max_group_size_book" yaml:"max_group_size_book"`
	// AllowMixedSigns permits subsets whose member amounts differ in sign.
	AllowMixedSigns bool `json:"allow_mixed_signs" yaml:"allow_mixed_signs"`
	// RequireSameCurrency rejects pairings whose sides settle in different
	// currencies outright instead of merely zeroing the currency factor.
	RequireSameCurrency bool `json:"require_same_currency" yaml:"require_same_currency"`
}

// Validate rejects degenerate tolerance settings.
func (t Tolerances) Validate() error {
	if t.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount_tolerance must be non-negative, got %s", t.AmountTolerance)
	}
	if t.GroupSpanDays < 0 {
		return fmt.Errorf("group_span_days must be non-negative, got %d", t.GroupSpanDays)
	}
	if t.AvgDateDeltaDays < 0 {
		return fmt.Errorf("avg_date_delta_days must be non-negative, got %g", t.AvgDateDeltaDays)
	}
	if t.MaxGroupSizeBank < 1 {
		return fmt.Errorf("max_group_size_bank must be at least 1, got %d", t.MaxGroupSizeBank)
	}
	if t.MaxGroupSizeBook < 1 {
		return fmt.Errorf("max_group_size_book must be at least 1, got %d", t.MaxGroupSizeBook)
	}
	return nil
}

// DefaultTolerances returns the conservative defaults: exact amounts,
// one-to-one shapes, same-sign members, same-day averages.
func DefaultTolerances() Tolerances {
	return Tolerances{
		AmountTolerance:     decimal.Zero,
		GroupSpanDays:       0,
		AvgDateDeltaDays:    0,
		MaxGroupSizeBank:    1,
		MaxGroupSizeBook:    1,
		AllowMixedSigns:     false,
		RequireSameCurrency: true,
	}
}

// CandidateFilter restricts which candidates a side of the pool loads.
// Filters are stored as jsonb; unknown keys are rejected at decode time so a
// typo in a filter never silently widens a run.
type CandidateFilter struct {
	DateFrom  *time.Time       `json:"date_from,omitempty" yaml:"date_from,omitempty"`
	DateTo    *time.Time       `json:"date_to,omitempty" yaml:"date_to,omitempty"`
	AmountMin *decimal.Decimal `json:"amount_min,omitempty" yaml:"amount_min,omitempty"`
	AmountMax *decimal.Decimal `json:"amount_max,omitempty" yaml:"amount_max,omitempty"`
	AccountID *uuid.UUID       `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	// IDs is an explicit allow-list. Empty means no restriction.
	IDs []uuid.UUID `json:"ids,omitempty" yaml:"ids,omitempty"`
}

// Validate rejects inverted ranges.
func (f CandidateFilter) Validate() error {
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return fmt.Errorf("date_from %s is after date_to %s", f.DateFrom.Format(time.DateOnly), f.DateTo.Format(time.DateOnly))
	}
	if f.AmountMin != nil && f.AmountMax != nil && f.AmountMin.GreaterThan(*f.AmountMax) {
		return fmt.Errorf("amount_min %s is greater than amount_max %s", f.AmountMin, f.AmountMax)
	}
	return nil
}

// DecodeCandidateFilter parses a stored filter, rejecting unknown keys.
func DecodeCandidateFilter(raw []byte) (CandidateFilter, error) {
	var f CandidateFilter
	if len(raw) == 0 {
		return f, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return CandidateFilter{}, fmt.Errorf("decode candidate filter: %w", err)
	}
	if err := f.Validate(); err != nil {
		return CandidateFilter{}, err
	}
	return f, nil
}

// MatchingConfig is one reusable scoring/tolerance preset. Created by
// configuration administrators; read-only to the engine.
type MatchingConfig struct {
	ID         uuid.UUID  `json:"id"`
	Scope      string     `json:"scope"`
	CompanyID  *uuid.UUID `json:"company_id,omitempty"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Name       string     `json:"name"`
	BankFilter CandidateFilter `json:"bank_filter"`
	BookFilter CandidateFilter `json:"book_filter"`
	Weights    ScoringWeights  `json:"weights"`
	Tolerances Tolerances      `json:"tolerances"`
	// MinConfidence drops scored groups below this threshold.
	MinConfidence float64 `json:"min_confidence"`
	// MaxSuggestions caps suggestions emitted by one stage execution.
	MaxSuggestions int `json:"max_suggestions"`
	// MaxAlternativesPerMatch caps alternate suggestions per anchor candidate.
	MaxAlternativesPerMatch int `json:"max_alternatives_per_match"`
	// TimeBudget is the optional soft execution budget for a single-config run.
	TimeBudget *time.Duration `json:"time_budget,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Validate enforces every invariant checked before a run may start.
func (c *MatchingConfig) Validate() error {
	switch c.Scope {
	case ScopeGlobal, ScopeCompany, ScopeUser, ScopeCompanyUser:
	default:
		return fmt.Errorf("unknown scope %q", c.Scope)
	}
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Tolerances.Validate(); err != nil {
		return err
	}
	if err := c.BankFilter.Validate(); err != nil {
		return fmt.Errorf("bank filter: %w", err)
	}
	if err := c.BookFilter.Validate(); err != nil {
		return fmt.Errorf("book filter: %w", err)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1], got %g", c.MinConfidence)
	}
	if c.MaxSuggestions < 1 {
		return fmt.Errorf("max_suggestions must be at least 1, got %d", c.MaxSuggestions)
	}
	if c.MaxAlternativesPerMatch < 1 {
		return fmt.Errorf("max_alternatives_per_match must be at least 1, got %d", c.MaxAlternativesPerMatch)
	}
	return nil
}
