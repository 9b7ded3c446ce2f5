package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// Preset is one scoring/tolerance preset from the presets file. Presets are
// seeded as global matching configs on startup when no config of the same
// name exists yet.
type Preset struct {
	Name                    string         `yaml:"name"`
	Weights                 PresetWeights  `yaml:"weights"`
	Tolerances              PresetBounds   `yaml:"tolerances"`
	MinConfidence           float64        `yaml:"min_confidence"`
	MaxSuggestions          int            `yaml:"max_suggestions"`
	MaxAlternativesPerMatch int            `yaml:"max_alternatives_per_match"`
	TimeBudget              BudgetDuration `yaml:"time_budget"`
}

// PresetWeights mirrors models.ScoringWeights in YAML form.
type PresetWeights struct {
	Description float64 `yaml:"description"`
	Amount      float64 `yaml:"amount"`
	Currency    float64 `yaml:"currency"`
	Date        float64 `yaml:"date"`
}

// PresetBounds mirrors models.Tolerances. The amount tolerance is a string
// so it round-trips through YAML without floating point loss.
type PresetBounds struct {
	AmountTolerance     string  `yaml:"amount_tolerance"`
	GroupSpanDays       int     `yaml:"group_span_days"`
	AvgDateDeltaDays    float64 `yaml:"avg_date_delta_days"`
	MaxGroupSizeBank    int     `yaml:"max_group_size_bank"`
	MaxGroupSizeBook    int     `yaml:"max_group_size_book"`
	AllowMixedSigns     bool    `yaml:"allow_mixed_signs"`
	RequireSameCurrency bool    `yaml:"require_same_currency"`
}

// BudgetDuration is a time.Duration that parses from YAML strings like "90s".
type BudgetDuration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *BudgetDuration) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", value.Value, err)
	}
	*d = BudgetDuration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d BudgetDuration) Duration() time.Duration {
	return time.Duration(d)
}

type presetsFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets reads the presets file. Unknown keys are rejected so a typo in
// a preset never silently changes matching behavior.
func LoadPresets(path string) ([]Preset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var file presetsFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse presets file: %w", err)
	}

	for i, p := range file.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("preset %d has no name", i+1)
		}
	}
	return file.Presets, nil
}

// ToConfig converts the preset into a global-scope matching configuration
// and validates it.
func (p Preset) ToConfig() (*models.MatchingConfig, error) {
	amountTolerance := decimal.Zero
	if p.Tolerances.AmountTolerance != "" {
		var err error
		amountTolerance, err = decimal.NewFromString(p.Tolerances.AmountTolerance)
		if err != nil {
			return nil, fmt.Errorf("preset %q: bad amount_tolerance: %w", p.Name, err)
		}
	}

	tolerances := models.Tolerances{
		AmountTolerance:     amountTolerance,
		GroupSpanDays:       p.Tolerances.GroupSpanDays,
		AvgDateDeltaDays:    p.Tolerances.AvgDateDeltaDays,
		MaxGroupSizeBank:    p.Tolerances.MaxGroupSizeBank,
		MaxGroupSizeBook:    p.Tolerances.MaxGroupSizeBook,
		AllowMixedSigns:     p.Tolerances.AllowMixedSigns,
		RequireSameCurrency: p.Tolerances.RequireSameCurrency,
	}
	if tolerances.MaxGroupSizeBank == 0 {
		tolerances.MaxGroupSizeBank = 1
	}
	if tolerances.MaxGroupSizeBook == 0 {
		tolerances.MaxGroupSizeBook = 1
	}

	cfg := &models.MatchingConfig{
		Scope: models.ScopeGlobal,
		Name:  p.Name,
		Weights: models.ScoringWeights{
			Description: p.Weights.Description,
			Amount:      p.Weights.Amount,
			Currency:    p.Weights.Currency,
			Date:        p.Weights.Date,
		},
		Tolerances:              tolerances,
		MinConfidence:           p.MinConfidence,
		MaxSuggestions:          p.MaxSuggestions,
		MaxAlternativesPerMatch: p.MaxAlternativesPerMatch,
	}
	if d := p.TimeBudget.Duration(); d > 0 {
		cfg.TimeBudget = &d
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return cfg, nil
}
