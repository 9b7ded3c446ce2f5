//go:build integration

package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/testhelpers"
)

// configTestContext holds test dependencies for config and pipeline
// repository tests.
type configTestContext struct {
	t         *testing.T
	tdb       *testhelpers.TestDB
	configs   MatchingConfigRepository
	pipelines PipelineRepository
}

func setupConfigTest(t *testing.T) *configTestContext {
	tdb := testhelpers.GetTestDB(t)
	tdb.TruncateAll(t)
	return &configTestContext{
		t:         t,
		tdb:       tdb,
		configs:   NewMatchingConfigRepository(tdb.DB),
		pipelines: NewPipelineRepository(tdb.DB),
	}
}

func (tc *configTestContext) seedConfig(scope, name string, companyID, userID *uuid.UUID) *models.MatchingConfig {
	tc.t.Helper()
	cfg := &models.MatchingConfig{
		Scope:     scope,
		CompanyID: companyID,
		UserID:    userID,
		Name:      name,
		Weights: models.ScoringWeights{
			Description: 0.25, Amount: 0.35, Currency: 0.10, Date: 0.30,
		},
		Tolerances:              models.DefaultTolerances(),
		MinConfidence:           0.6,
		MaxSuggestions:          25,
		MaxAlternativesPerMatch: 2,
	}
	if err := tc.configs.Create(context.Background(), cfg); err != nil {
		tc.t.Fatalf("failed to seed config %q: %v", name, err)
	}
	return cfg
}

func TestMatchingConfigRepository_Roundtrip(t *testing.T) {
	tc := setupConfigTest(t)
	ctx := context.Background()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	min := decimal.RequireFromString("-1000.00")
	account := uuid.New()
	company := uuid.New()
	budget := 90 * time.Second

	cfg := &models.MatchingConfig{
		Scope:     models.ScopeCompany,
		CompanyID: &company,
		Name:      "january-close",
		BankFilter: models.CandidateFilter{
			DateFrom:  &from,
			DateTo:    &to,
			AmountMin: &min,
			AccountID: &account,
		},
		BookFilter: models.CandidateFilter{DateFrom: &from},
		Weights: models.ScoringWeights{
			Description: 0.20, Amount: 0.40, Currency: 0.10, Date: 0.30,
		},
		Tolerances: models.Tolerances{
			AmountTolerance:     decimal.RequireFromString("0.05"),
			GroupSpanDays:       3,
			AvgDateDeltaDays:    5,
			MaxGroupSizeBank:    1,
			MaxGroupSizeBook:    4,
			AllowMixedSigns:     true,
			RequireSameCurrency: true,
		},
		MinConfidence:           0.7,
		MaxSuggestions:          50,
		MaxAlternativesPerMatch: 3,
		TimeBudget:              &budget,
	}
	if err := tc.configs.Create(ctx, cfg); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := tc.configs.Get(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Scope != models.ScopeCompany || got.CompanyID == nil || *got.CompanyID != company {
		t.Errorf("scope ownership did not round-trip: scope=%q company=%v", got.Scope, got.CompanyID)
	}
	if got.BankFilter.DateFrom == nil || !got.BankFilter.DateFrom.Equal(from) {
		t.Errorf("bank filter date_from did not round-trip: %v", got.BankFilter.DateFrom)
	}
	if got.BankFilter.AmountMin == nil || !got.BankFilter.AmountMin.Equal(min) {
		t.Errorf("bank filter amount_min did not round-trip: %v", got.BankFilter.AmountMin)
	}
	if got.BankFilter.AccountID == nil || *got.BankFilter.AccountID != account {
		t.Errorf("bank filter account_id did not round-trip: %v", got.BankFilter.AccountID)
	}
	if !got.Tolerances.AmountTolerance.Equal(cfg.Tolerances.AmountTolerance) {
		t.Errorf("amount_tolerance = %s, want 0.05", got.Tolerances.AmountTolerance)
	}
	if got.Tolerances.MaxGroupSizeBook != 4 || !got.Tolerances.AllowMixedSigns {
		t.Errorf("tolerances did not round-trip: %+v", got.Tolerances)
	}
	if got.Weights != cfg.Weights {
		t.Errorf("weights = %+v, want %+v", got.Weights, cfg.Weights)
	}
	if got.TimeBudget == nil || *got.TimeBudget != budget {
		t.Errorf("time_budget = %v, want %v", got.TimeBudget, budget)
	}
	if got.MinConfidence != 0.7 || got.MaxSuggestions != 50 || got.MaxAlternativesPerMatch != 3 {
		t.Errorf("limits did not round-trip: %+v", got)
	}
}

func TestMatchingConfigRepository_GetByName(t *testing.T) {
	tc := setupConfigTest(t)
	ctx := context.Background()

	seeded := tc.seedConfig(models.ScopeGlobal, "exact-match", nil, nil)

	got, err := tc.configs.GetByName(ctx, models.ScopeGlobal, "exact-match")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if got.ID != seeded.ID {
		t.Errorf("GetByName returned %s, want %s", got.ID, seeded.ID)
	}

	_, err = tc.configs.GetByName(ctx, models.ScopeGlobal, "missing")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown name, got %v", err)
	}
}

func TestMatchingConfigRepository_List_PrecedenceOrder(t *testing.T) {
	tc := setupConfigTest(t)
	ctx := context.Background()

	company := uuid.New()
	user := uuid.New()
	otherCompany := uuid.New()

	tc.seedConfig(models.ScopeGlobal, "defaults", nil, nil)
	tc.seedConfig(models.ScopeCompany, "company-tuning", &company, nil)
	tc.seedConfig(models.ScopeUser, "my-settings", nil, &user)
	tc.seedConfig(models.ScopeCompanyUser, "my-company-settings", &company, &user)
	tc.seedConfig(models.ScopeCompany, "other-company", &otherCompany, nil)

	got, err := tc.configs.List(ctx, &company, &user)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 visible configs, got %d", len(got))
	}

	wantScopes := []string{
		models.ScopeCompanyUser, models.ScopeUser, models.ScopeCompany, models.ScopeGlobal,
	}
	for i, want := range wantScopes {
		if got[i].Scope != want {
			t.Errorf("position %d: scope = %q, want %q", i, got[i].Scope, want)
		}
	}
}

func TestPipelineRepository_Roundtrip(t *testing.T) {
	tc := setupConfigTest(t)
	ctx := context.Background()

	first := tc.seedConfig(models.ScopeGlobal, "strict", nil, nil)
	second := tc.seedConfig(models.ScopeGlobal, "loose", nil, nil)

	budget := 2 * time.Minute
	score := 0.95
	minConf := 0.85
	tol := decimal.RequireFromString("0.10")

	p := &models.Pipeline{
		Name:           "month-end",
		MaxSuggestions: 80,
		TimeBudget:     &budget,
		AutoApplyScore: &score,
		Stages: []models.PipelineStage{
			{Position: 1, ConfigID: first.ID, Enabled: true},
			{Position: 2, ConfigID: second.ID, Enabled: false, Overrides: &models.StageOverrides{
				AmountTolerance: &tol,
				MinConfidence:   &minConf,
			}},
		},
	}
	if err := tc.pipelines.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := tc.pipelines.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "month-end" || got.MaxSuggestions != 80 {
		t.Errorf("pipeline fields did not round-trip: %+v", got)
	}
	if got.TimeBudget == nil || *got.TimeBudget != budget {
		t.Errorf("time_budget = %v, want %v", got.TimeBudget, budget)
	}
	if got.AutoApplyScore == nil || *got.AutoApplyScore != score {
		t.Errorf("auto_apply_score = %v, want %g", got.AutoApplyScore, score)
	}
	if len(got.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(got.Stages))
	}
	if got.Stages[0].Position != 1 || got.Stages[0].ConfigID != first.ID || !got.Stages[0].Enabled {
		t.Errorf("stage 1 did not round-trip: %+v", got.Stages[0])
	}
	s2 := got.Stages[1]
	if s2.Position != 2 || s2.Enabled {
		t.Errorf("stage 2 did not round-trip: %+v", s2)
	}
	if s2.Overrides == nil || s2.Overrides.AmountTolerance == nil || !s2.Overrides.AmountTolerance.Equal(tol) {
		t.Errorf("stage 2 overrides did not round-trip: %+v", s2.Overrides)
	}
	if s2.Overrides.MinConfidence == nil || *s2.Overrides.MinConfidence != minConf {
		t.Errorf("stage 2 min_confidence override = %v, want %g", s2.Overrides.MinConfidence, minConf)
	}
}

func TestPipelineRepository_List(t *testing.T) {
	tc := setupConfigTest(t)
	ctx := context.Background()

	cfg := tc.seedConfig(models.ScopeGlobal, "shared", nil, nil)
	for _, name := range []string{"alpha", "beta"} {
		p := &models.Pipeline{
			Name:           name,
			MaxSuggestions: 10,
			Stages:         []models.PipelineStage{{Position: 1, ConfigID: cfg.ID, Enabled: true}},
		}
		if err := tc.pipelines.Create(ctx, p); err != nil {
			t.Fatalf("Create %q failed: %v", name, err)
		}
	}

	got, err := tc.pipelines.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 pipelines, got %d", len(got))
	}
	for _, p := range got {
		if len(p.Stages) != 1 {
			t.Errorf("pipeline %q: stages not loaded", p.Name)
		}
	}

	_, err = tc.pipelines.Get(ctx, uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown pipeline, got %v", err)
	}
}
