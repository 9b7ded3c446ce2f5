package matching

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/models"
)

func testConfig() *models.MatchingConfig {
	return &models.MatchingConfig{
		ID:    uuid.New(),
		Scope: models.ScopeGlobal,
		Name:  "test",
		Weights: models.ScoringWeights{
			Description: 0.25, Amount: 0.25, Currency: 0.25, Date: 0.25,
		},
		Tolerances: models.Tolerances{
			AmountTolerance:     decimal.Zero,
			GroupSpanDays:       2,
			AvgDateDeltaDays:    1,
			MaxGroupSizeBank:    1,
			MaxGroupSizeBook:    1,
			RequireSameCurrency: true,
		},
		MinConfidence:           0.5,
		MaxSuggestions:          10,
		MaxAlternativesPerMatch: 2,
	}
}

func newTestExecutor() *StageExecutor {
	return NewStageExecutor(200000, zap.NewNop())
}

func runStage(t *testing.T, pool *Pool, cfg *models.MatchingConfig, overrides *models.StageOverrides, autoApply *float64) *StageResult {
	t.Helper()
	result, err := newTestExecutor().Run(context.Background(), pool, cfg, overrides, uuid.New(), 1, autoApply, -1)
	require.NoError(t, err)
	return result
}

func TestResolveEffective(t *testing.T) {
	cfg := testConfig()

	t.Run("nil overrides keep config values", func(t *testing.T) {
		eff, err := ResolveEffective(cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, cfg.Weights, eff.Weights)
		assert.Equal(t, cfg.MinConfidence, eff.MinConfidence)
	})

	t.Run("overrides win over config", func(t *testing.T) {
		minConf := 0.9
		maxBank := 3
		eff, err := ResolveEffective(cfg, &models.StageOverrides{
			MinConfidence:    &minConf,
			MaxGroupSizeBank: &maxBank,
		})
		require.NoError(t, err)
		assert.Equal(t, 0.9, eff.MinConfidence)
		assert.Equal(t, 3, eff.Tolerances.MaxGroupSizeBank)
		assert.Equal(t, cfg.Weights, eff.Weights)
	})

	t.Run("invalid weight override is rejected", func(t *testing.T) {
		_, err := ResolveEffective(cfg, &models.StageOverrides{
			Weights: &models.ScoringWeights{Description: 0.5, Amount: 0.5, Currency: 0.5},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sum to 1.0")
	})
}

// Exact one-to-one match: identical amounts, dates and vectors must score a
// confidence of exactly 1.0.
func TestStageExactMatch(t *testing.T) {
	bank := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	book := testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0})
	pool := NewPool([]*models.Candidate{bank}, []*models.Candidate{book}, zap.NewNop())

	result := runStage(t, pool, testConfig(), nil, nil)

	require.Len(t, result.Suggestions, 1)
	sug := result.Suggestions[0]
	assert.Equal(t, models.MatchOneToOne, sug.MatchType)
	assert.InDelta(t, 1.0, sug.Confidence, 1e-9)
	assert.Equal(t, models.SuggestionPending, sug.Status)
	assert.Equal(t, 1, sug.Rank)
	assert.Equal(t, []uuid.UUID{bank.ID}, sug.BankCandidateIDs)
	assert.Equal(t, []uuid.UUID{book.ID}, sug.BookCandidateIDs)

	assert.Equal(t, 2, result.Stats.CandidatesConsidered)
	assert.Equal(t, 1, result.Stats.GroupsGenerated)
	assert.Equal(t, 1, result.Stats.GroupsSurviving)
	assert.Equal(t, 0, pool.UnconsumedCount(models.SideBank))
	assert.Equal(t, 0, pool.UnconsumedCount(models.SideBook))
}

// Out-of-tolerance amounts never reach scoring.
func TestStageOutOfTolerance(t *testing.T) {
	bank := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	book := testCandidate(models.SideBook, "105.00", testDate, []float32{1, 0})
	pool := NewPool([]*models.Candidate{bank}, []*models.Candidate{book}, zap.NewNop())

	cfg := testConfig()
	cfg.Tolerances.AmountTolerance = decimal.RequireFromString("1.00")

	result := runStage(t, pool, cfg, nil, nil)

	assert.Empty(t, result.Suggestions)
	assert.Equal(t, 0, result.Stats.GroupsGenerated)
	assert.Equal(t, 1, pool.UnconsumedCount(models.SideBank))
}

func TestStageManyToOne(t *testing.T) {
	b1 := testCandidate(models.SideBank, "40.00", testDate, []float32{1, 0})
	b2 := testCandidate(models.SideBank, "60.00", testDate.AddDate(0, 0, 1), []float32{1, 0})
	book := testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0})
	pool := NewPool([]*models.Candidate{b1, b2}, []*models.Candidate{book}, zap.NewNop())

	cfg := testConfig()
	cfg.Tolerances.MaxGroupSizeBank = 2

	result := runStage(t, pool, cfg, nil, nil)

	require.Len(t, result.Suggestions, 1)
	sug := result.Suggestions[0]
	assert.Equal(t, models.MatchManyToOne, sug.MatchType)
	assert.Len(t, sug.BankCandidateIDs, 2)
	assert.Equal(t, []uuid.UUID{book.ID}, sug.BookCandidateIDs)
}

// When surviving groups share a candidate, only the best is kept; the others
// are retained as superseded and consume nothing.
func TestStageDedupSupersession(t *testing.T) {
	near := testDate.AddDate(0, 0, 1)
	b1 := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	b2 := testCandidate(models.SideBank, "100.00", near, []float32{1, 0})
	book := testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0})
	pool := NewPool([]*models.Candidate{b1, b2}, []*models.Candidate{book}, zap.NewNop())

	result := runStage(t, pool, testConfig(), nil, nil)

	require.Len(t, result.Suggestions, 2)
	kept, alt := result.Suggestions[0], result.Suggestions[1]

	assert.Equal(t, models.SuggestionPending, kept.Status)
	assert.Equal(t, []uuid.UUID{b1.ID}, kept.BankCandidateIDs, "same-day match scores higher")
	assert.Equal(t, models.SuggestionSuperseded, alt.Status)
	assert.Equal(t, 0, alt.Rank)

	// Only the kept suggestion consumed candidates.
	assert.Equal(t, 1, pool.UnconsumedCount(models.SideBank))
	assert.Equal(t, 0, pool.UnconsumedCount(models.SideBook))
}

// No two non-superseded suggestions may share a candidate id.
func TestStageConsumptionExclusivity(t *testing.T) {
	var bank, book []*models.Candidate
	for i := 0; i < 4; i++ {
		bank = append(bank, testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0}))
		book = append(book, testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0}))
	}
	pool := NewPool(bank, book, zap.NewNop())

	result := runStage(t, pool, testConfig(), nil, nil)

	seen := make(map[uuid.UUID]bool)
	for _, sug := range result.Suggestions {
		if sug.Status == models.SuggestionSuperseded {
			continue
		}
		for _, id := range append(sug.BankCandidateIDs, sug.BookCandidateIDs...) {
			assert.False(t, seen[id], "candidate %s appears in two surviving suggestions", id)
			seen[id] = true
		}
	}
}

func TestStageDeterministicOrdering(t *testing.T) {
	// Two equal-confidence one-to-one matches: tie broken by lowest bank id.
	b1 := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	b2 := testCandidate(models.SideBank, "200.00", testDate, []float32{1, 0})
	x1 := testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0})
	x2 := testCandidate(models.SideBook, "200.00", testDate, []float32{1, 0})

	lowID, highID := b1.ID, b2.ID
	if highID.String() < lowID.String() {
		b1.ID, b2.ID = b2.ID, b1.ID
		lowID, highID = b1.ID, b2.ID
	}

	pool := NewPool([]*models.Candidate{b2, b1}, []*models.Candidate{x2, x1}, zap.NewNop())
	result := runStage(t, pool, testConfig(), nil, nil)

	require.Len(t, result.Suggestions, 2)
	assert.Equal(t, []uuid.UUID{lowID}, result.Suggestions[0].BankCandidateIDs)
	assert.Equal(t, 1, result.Suggestions[0].Rank)
	assert.Equal(t, []uuid.UUID{highID}, result.Suggestions[1].BankCandidateIDs)
	assert.Equal(t, 2, result.Suggestions[1].Rank)
}

func TestStageMinConfidenceFilter(t *testing.T) {
	// Orthogonal description vectors and a one-day date gap drop the score
	// below the configured minimum.
	bank := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	book := testCandidate(models.SideBook, "100.00", testDate.AddDate(0, 0, 1), []float32{0, 1})
	pool := NewPool([]*models.Candidate{bank}, []*models.Candidate{book}, zap.NewNop())

	cfg := testConfig()
	cfg.MinConfidence = 0.75

	result := runStage(t, pool, cfg, nil, nil)

	assert.Equal(t, 1, result.Stats.GroupsGenerated)
	assert.Empty(t, result.Suggestions)
	assert.Equal(t, 1, pool.UnconsumedCount(models.SideBank))
}

func TestStageMaxSuggestionsCap(t *testing.T) {
	var bank, book []*models.Candidate
	for i := 0; i < 5; i++ {
		bank = append(bank, testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0}))
		book = append(book, testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0}))
	}
	pool := NewPool(bank, book, zap.NewNop())

	cfg := testConfig()
	cfg.MaxSuggestions = 2
	cfg.MaxAlternativesPerMatch = 1

	result := runStage(t, pool, cfg, nil, nil)

	var survivors int
	for _, sug := range result.Suggestions {
		if sug.Status != models.SuggestionSuperseded {
			survivors++
		}
	}
	assert.Equal(t, 2, survivors)
	assert.Equal(t, 2, result.Stats.GroupsSurviving)
}

func TestStageAutoApply(t *testing.T) {
	bank := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	book := testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0})
	pool := NewPool([]*models.Candidate{bank}, []*models.Candidate{book}, zap.NewNop())

	threshold := 0.95
	result := runStage(t, pool, testConfig(), nil, &threshold)

	require.Len(t, result.Suggestions, 1)
	sug := result.Suggestions[0]
	assert.Equal(t, models.SuggestionAccepted, sug.Status)

	require.Len(t, result.AutoApplied, 1)
	rec := result.AutoApplied[0]
	assert.Equal(t, models.ReconciliationMatched, rec.Status)
	require.NotNil(t, rec.SuggestionID)
	assert.Equal(t, sug.ID, *rec.SuggestionID)
	assert.Equal(t, sug.BankCandidateIDs, rec.BankCandidateIDs)
	assert.Equal(t, 1, result.Stats.AutoApplied)
}

func TestStageBelowAutoApplyStaysPending(t *testing.T) {
	bank := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	book := testCandidate(models.SideBook, "100.00", testDate.AddDate(0, 0, 1), []float32{1, 0})
	pool := NewPool([]*models.Candidate{bank}, []*models.Candidate{book}, zap.NewNop())

	threshold := 0.99
	result := runStage(t, pool, testConfig(), nil, &threshold)

	require.Len(t, result.Suggestions, 1)
	assert.Equal(t, models.SuggestionPending, result.Suggestions[0].Status)
	assert.Empty(t, result.AutoApplied)
}

func TestStageInvalidOverrideIsFatal(t *testing.T) {
	bank := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	book := testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0})
	pool := NewPool([]*models.Candidate{bank}, []*models.Candidate{book}, zap.NewNop())

	overrides := &models.StageOverrides{
		Weights: &models.ScoringWeights{Description: 1, Amount: 1},
	}
	_, err := newTestExecutor().Run(context.Background(), pool, testConfig(), overrides, uuid.New(), 1, nil, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage 1")
	assert.Equal(t, 1, pool.UnconsumedCount(models.SideBank), "a failed stage must not consume")
}
