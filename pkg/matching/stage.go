package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// EffectiveConfig is a matching config with stage overrides merged in.
// Stage override values win over config defaults.
type EffectiveConfig struct {
	Weights                 models.ScoringWeights
	Tolerances              models.Tolerances
	MinConfidence           float64
	MaxSuggestions          int
	MaxAlternativesPerMatch int
}

// ResolveEffective merges overrides into the config and re-validates the
// result. Any violation here is fatal for the stage only: the stage is
// skipped with a recorded error and the pipeline continues.
func ResolveEffective(cfg *models.MatchingConfig, o *models.StageOverrides) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		Weights:                 cfg.Weights,
		Tolerances:              cfg.Tolerances,
		MinConfidence:           cfg.MinConfidence,
		MaxSuggestions:          cfg.MaxSuggestions,
		MaxAlternativesPerMatch: cfg.MaxAlternativesPerMatch,
	}
	if o != nil {
		if err := o.Validate(); err != nil {
			return EffectiveConfig{}, err
		}
		if o.Weights != nil {
			eff.Weights = *o.Weights
		}
		if o.AmountTolerance != nil {
			eff.Tolerances.AmountTolerance = *o.AmountTolerance
		}
		if o.GroupSpanDays != nil {
			eff.Tolerances.GroupSpanDays = *o.GroupSpanDays
		}
		if o.AvgDateDeltaDays != nil {
			eff.Tolerances.AvgDateDeltaDays = *o.AvgDateDeltaDays
		}
		if o.MaxGroupSizeBank != nil {
			eff.Tolerances.MaxGroupSizeBank = *o.MaxGroupSizeBank
		}
		if o.MaxGroupSizeBook != nil {
			eff.Tolerances.MaxGroupSizeBook = *o.MaxGroupSizeBook
		}
		if o.AllowMixedSigns != nil {
			eff.Tolerances.AllowMixedSigns = *o.AllowMixedSigns
		}
		if o.MinConfidence != nil {
			eff.MinConfidence = *o.MinConfidence
		}
		if o.MaxSuggestions != nil {
			eff.MaxSuggestions = *o.MaxSuggestions
		}
	}
	if err := eff.Weights.Validate(); err != nil {
		return EffectiveConfig{}, err
	}
	if err := eff.Tolerances.Validate(); err != nil {
		return EffectiveConfig{}, err
	}
	return eff, nil
}

// scoredGroup pairs a generated group with its confidence.
type scoredGroup struct {
	group      *Group
	confidence float64
}

// StageResult is the outcome of executing one configuration against the pool.
type StageResult struct {
	// Suggestions is the deterministic ordering: ranked survivors first,
	// then retained superseded alternates (rank 0).
	Suggestions []*models.Suggestion
	// AutoApplied holds reconciliations finalized in the same run, parallel
	// to the accepted suggestions that produced them.
	AutoApplied []*models.Reconciliation
	Stats       models.StageStats
}

// StageExecutor runs one matching stage: generate groups, score, filter,
// dedup, rank, cap, consume, optionally auto-apply.
type StageExecutor struct {
	maxSubsetEvaluations int
	logger               *zap.Logger
}

// NewStageExecutor builds an executor with the engine's combinatorial budget.
func NewStageExecutor(maxSubsetEvaluations int, logger *zap.Logger) *StageExecutor {
	return &StageExecutor{
		maxSubsetEvaluations: maxSubsetEvaluations,
		logger:               logger.Named("stage"),
	}
}

// Run executes one stage. A returned error is either stage-fatal
// (configuration or enumeration budget; the caller records it and continues
// with later stages) or the context error (cancellation or time budget; the
// caller stops the run).
func (e *StageExecutor) Run(
	ctx context.Context,
	pool *Pool,
	cfg *models.MatchingConfig,
	overrides *models.StageOverrides,
	taskID uuid.UUID,
	position int,
	autoApplyScore *float64,
	overallRemaining int,
) (*StageResult, error) {
	stats := models.StageStats{Position: position, ConfigID: cfg.ID}

	eff, err := ResolveEffective(cfg, overrides)
	if err != nil {
		return nil, fmt.Errorf("stage %d config %s: %w", position, cfg.ID, err)
	}

	bank := pool.Unconsumed(models.SideBank)
	book := pool.Unconsumed(models.SideBook)
	stats.CandidatesConsidered = len(bank) + len(book)

	gen := NewGenerator(eff.Tolerances, e.maxSubsetEvaluations)
	groups, err := gen.Generate(ctx, bank, book)
	if err != nil {
		return nil, err
	}
	stats.GroupsGenerated = len(groups)

	maxSurvivors := eff.MaxSuggestions
	if overallRemaining >= 0 && overallRemaining < maxSurvivors {
		maxSurvivors = overallRemaining
	}

	scored := e.score(groups, eff)
	kept, superseded := dedupe(scored)
	kept = capSurvivors(kept, maxSurvivors)
	superseded = capAlternates(superseded, eff.MaxAlternativesPerMatch)
	stats.GroupsSurviving = len(kept)

	result := &StageResult{Stats: stats}
	now := time.Now().UTC()

	for rank, sg := range kept {
		sug := newSuggestion(taskID, sg, now)
		sug.Rank = rank + 1

		pool.MarkConsumed(candidateIDs(sg.group.Bank.Candidates)...)
		pool.MarkConsumed(candidateIDs(sg.group.Book.Candidates)...)

		if autoApplyScore != nil && sg.confidence >= *autoApplyScore {
			sug.Status = models.SuggestionAccepted
			rec := &models.Reconciliation{
				ID:               uuid.New(),
				TaskID:           &taskID,
				SuggestionID:     &sug.ID,
				Status:           models.ReconciliationMatched,
				BankCandidateIDs: sug.BankCandidateIDs,
				BookCandidateIDs: sug.BookCandidateIDs,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			result.AutoApplied = append(result.AutoApplied, rec)
			result.Stats.AutoApplied++
		}
		result.Suggestions = append(result.Suggestions, sug)
	}

	for _, sg := range superseded {
		sug := newSuggestion(taskID, sg, now)
		sug.Status = models.SuggestionSuperseded
		result.Suggestions = append(result.Suggestions, sug)
	}

	e.logger.Debug("stage executed",
		zap.Int("position", position),
		zap.String("config_id", cfg.ID.String()),
		zap.Int("candidates", stats.CandidatesConsidered),
		zap.Int("groups_generated", stats.GroupsGenerated),
		zap.Int("groups_surviving", stats.GroupsSurviving),
		zap.Int("auto_applied", stats.AutoApplied))

	return result, nil
}

// score computes confidence for every group and drops those below the
// stage's minimum.
func (e *StageExecutor) score(groups []*Group, eff EffectiveConfig) []scoredGroup {
	scored := make([]scoredGroup, 0, len(groups))
	for _, g := range groups {
		f := Factors{
			Description: DescriptionScore(g.Bank.Centroid, g.Book.Centroid),
			Amount:      AmountScore(g.AmountDiff, eff.Tolerances.AmountTolerance),
			Currency:    CurrencyScore(g.Bank.Currency, g.Book.Currency),
			Date:        DateScore(g.DateDeltaDays, eff.Tolerances.AvgDateDeltaDays),
		}
		conf := Confidence(eff.Weights, f)
		if conf < eff.MinConfidence {
			continue
		}
		scored = append(scored, scoredGroup{group: g, confidence: conf})
	}
	sortGroups(scored)
	return scored
}

// sortGroups orders by confidence descending, tie-broken by smaller total
// group size then lowest bank candidate id, for deterministic output.
func sortGroups(scored []scoredGroup) {
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.group.Size() != b.group.Size() {
			return a.group.Size() < b.group.Size()
		}
		return minBankID(a.group).String() < minBankID(b.group).String()
	})
}

// dedupe keeps the highest-confidence group among any that share a candidate
// id; losers are retained as superseded rather than silently discarded so
// they stay inspectable.
func dedupe(scored []scoredGroup) (kept, superseded []scoredGroup) {
	used := make(map[uuid.UUID]bool)
	for _, sg := range scored {
		conflict := false
		for _, c := range append(sg.group.Bank.Candidates, sg.group.Book.Candidates...) {
			if used[c.ID] {
				conflict = true
				break
			}
		}
		if conflict {
			superseded = append(superseded, sg)
			continue
		}
		for _, c := range sg.group.Bank.Candidates {
			used[c.ID] = true
		}
		for _, c := range sg.group.Book.Candidates {
			used[c.ID] = true
		}
		kept = append(kept, sg)
	}
	return kept, superseded
}

func capSurvivors(kept []scoredGroup, maxSuggestions int) []scoredGroup {
	if len(kept) > maxSuggestions {
		return kept[:maxSuggestions]
	}
	return kept
}

// capAlternates bounds how many superseded alternates are retained per
// anchor candidate. The anchor is the book candidate for many-to-one groups
// and the lowest bank candidate id otherwise.
func capAlternates(superseded []scoredGroup, maxPerAnchor int) []scoredGroup {
	counts := make(map[uuid.UUID]int)
	retained := make([]scoredGroup, 0, len(superseded))
	for _, sg := range superseded {
		a := anchorID(sg.group)
		if counts[a] >= maxPerAnchor {
			continue
		}
		counts[a]++
		retained = append(retained, sg)
	}
	return retained
}

func anchorID(g *Group) uuid.UUID {
	if len(g.Bank.Candidates) > 1 && len(g.Book.Candidates) == 1 {
		return g.Book.Candidates[0].ID
	}
	return minBankID(g)
}

func minBankID(g *Group) uuid.UUID {
	min := g.Bank.Candidates[0].ID
	for _, c := range g.Bank.Candidates[1:] {
		if c.ID.String() < min.String() {
			min = c.ID
		}
	}
	return min
}

func newSuggestion(taskID uuid.UUID, sg scoredGroup, now time.Time) *models.Suggestion {
	bankIDs := candidateIDs(sg.group.Bank.Candidates)
	bookIDs := candidateIDs(sg.group.Book.Candidates)
	return &models.Suggestion{
		ID:               uuid.New(),
		TaskID:           taskID,
		MatchType:        models.MatchTypeFor(len(bankIDs), len(bookIDs)),
		Confidence:       sg.confidence,
		BankCandidateIDs: bankIDs,
		BookCandidateIDs: bookIDs,
		Status:           models.SuggestionPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func candidateIDs(candidates []*models.Candidate) []uuid.UUID {
	ids := make([]uuid.UUID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return ids
}
