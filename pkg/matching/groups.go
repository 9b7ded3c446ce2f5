package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// cancelCheckInterval is how many generated subsets pass between cooperative
// cancellation checks. Enumeration is CPU-bound; the interval keeps the
// latency of honoring a cancel or a time budget short without paying a
// channel read per subset.
const cancelCheckInterval = 1024

// GroupSide aggregates one side of a tentative match group. It carries
// everything scoring needs so raw candidates are not re-touched.
type GroupSide struct {
	Candidates []*models.Candidate
	// Sum is the signed aggregate of member amounts.
	Sum decimal.Decimal
	// AvgDate is the amount-weighted average transaction date. When the
	// absolute amounts sum to zero the plain (count-weighted) mean is used.
	AvgDate time.Time
	// Centroid is the mean of the members' description vectors.
	Centroid []float32
	// Currency is the members' shared code; subsets mixing currencies are
	// never emitted.
	Currency string
}

// Group is a tentative pairing of bank and book subsets under evaluation.
type Group struct {
	Bank GroupSide
	Book GroupSide
	// AmountDiff is |Bank.Sum - Book.Sum|.
	AmountDiff decimal.Decimal
	// DateDeltaDays is |Bank.AvgDate - Book.AvgDate| in fractional days.
	DateDeltaDays float64
}

// Size is the total number of member candidates across both sides.
func (g *Group) Size() int {
	return len(g.Bank.Candidates) + len(g.Book.Candidates)
}

// Generator enumerates admissible match groups for one stage.
type Generator struct {
	tol models.Tolerances
	// maxEvaluations is the combinatorial safety bound: the estimated number
	// of subset evaluations a stage may perform before it is skipped with a
	// recoverable warning.
	maxEvaluations int

	generated int // subsets produced since the last cancellation check
}

// NewGenerator builds a generator for one stage's effective tolerances.
func NewGenerator(tol models.Tolerances, maxEvaluations int) *Generator {
	return &Generator{tol: tol, maxEvaluations: maxEvaluations}
}

// Generate enumerates all admissible pairings of bank and book subsets.
// It returns apperrors.ErrEnumerationBudget when the configured size limits
// would exceed the evaluation budget, and the context error when cancelled
// mid-enumeration.
func (g *Generator) Generate(ctx context.Context, bank, book []*models.Candidate) ([]*Group, error) {
	bankSubsets := subsetCount(len(bank), g.tol.MaxGroupSizeBank)
	bookSubsets := subsetCount(len(book), g.tol.MaxGroupSizeBook)
	if exceedsBudget(bankSubsets, bookSubsets, g.maxEvaluations) {
		return nil, fmt.Errorf("%w: %d bank x %d book subsets against budget %d",
			apperrors.ErrEnumerationBudget, bankSubsets, bookSubsets, g.maxEvaluations)
	}

	bankSides, err := g.admissibleSides(ctx, bank, g.tol.MaxGroupSizeBank)
	if err != nil {
		return nil, err
	}
	bookSides, err := g.admissibleSides(ctx, book, g.tol.MaxGroupSizeBook)
	if err != nil {
		return nil, err
	}

	var groups []*Group
	for _, bs := range bankSides {
		for _, ks := range bookSides {
			if err := g.maybeCheckCancel(ctx); err != nil {
				return nil, err
			}
			grp, ok := g.pair(bs, ks)
			if !ok {
				continue
			}
			groups = append(groups, grp)
		}
	}
	return groups, nil
}

// admissibleSides enumerates subsets of size 1..max and keeps those passing
// the per-side structural checks: date span, sign policy, uniform currency.
func (g *Generator) admissibleSides(ctx context.Context, candidates []*models.Candidate, maxSize int) ([]GroupSide, error) {
	var sides []GroupSide
	subset := make([]*models.Candidate, 0, maxSize)

	var walk func(start int) error
	walk = func(start int) error {
		if len(subset) > 0 {
			if err := g.maybeCheckCancel(ctx); err != nil {
				return err
			}
			if side, ok := g.admitSide(subset); ok {
				sides = append(sides, side)
			}
		}
		if len(subset) == maxSize {
			return nil
		}
		for i := start; i < len(candidates); i++ {
			subset = append(subset, candidates[i])
			if err := walk(i + 1); err != nil {
				return err
			}
			subset = subset[:len(subset)-1]
		}
		return nil
	}

	if err := walk(0); err != nil {
		return nil, err
	}
	return sides, nil
}

// admitSide validates one subset and computes its aggregates.
func (g *Generator) admitSide(subset []*models.Candidate) (GroupSide, bool) {
	minDate, maxDate := subset[0].TxnDate, subset[0].TxnDate
	currency := subset[0].Currency
	positive, negative := false, false

	for _, c := range subset {
		if c.TxnDate.Before(minDate) {
			minDate = c.TxnDate
		}
		if c.TxnDate.After(maxDate) {
			maxDate = c.TxnDate
		}
		if c.Currency != currency {
			return GroupSide{}, false
		}
		switch c.Amount.Sign() {
		case 1:
			positive = true
		case -1:
			negative = true
		}
	}

	if spanDays(minDate, maxDate) > g.tol.GroupSpanDays {
		return GroupSide{}, false
	}
	if !g.tol.AllowMixedSigns && positive && negative {
		return GroupSide{}, false
	}

	members := make([]*models.Candidate, len(subset))
	copy(members, subset)

	return GroupSide{
		Candidates: members,
		Sum:        sumAmounts(members),
		AvgDate:    weightedAvgDate(members),
		Centroid:   centroid(members),
		Currency:   currency,
	}, true
}

// pair applies the cross-side checks and builds the group.
func (g *Generator) pair(bank, book GroupSide) (*Group, bool) {
	diff := bank.Sum.Sub(book.Sum).Abs()
	if diff.GreaterThan(g.tol.AmountTolerance) {
		return nil, false
	}
	if g.tol.RequireSameCurrency && bank.Currency != book.Currency {
		return nil, false
	}
	deltaDays := absDays(bank.AvgDate.Sub(book.AvgDate))
	if deltaDays > g.tol.AvgDateDeltaDays {
		return nil, false
	}
	return &Group{
		Bank:          bank,
		Book:          book,
		AmountDiff:    diff,
		DateDeltaDays: deltaDays,
	}, true
}

// maybeCheckCancel polls the context every cancelCheckInterval subsets.
func (g *Generator) maybeCheckCancel(ctx context.Context) error {
	g.generated++
	if g.generated%cancelCheckInterval != 0 {
		return nil
	}
	return ctx.Err()
}

// subsetCount computes sum over k=1..maxSize of C(n, k), saturating well
// above any sane budget to avoid overflow.
func subsetCount(n, maxSize int) int {
	const saturate = 1 << 40
	if maxSize > n {
		maxSize = n
	}
	total := 0
	for k := 1; k <= maxSize; k++ {
		c := 1
		for i := 0; i < k; i++ {
			c = c * (n - i) / (i + 1)
			if c > saturate {
				return saturate
			}
		}
		total += c
		if total > saturate {
			return saturate
		}
	}
	return total
}

// exceedsBudget estimates total subset evaluations for a stage: enumerating
// each side plus evaluating every cross pairing.
func exceedsBudget(bankSubsets, bookSubsets, budget int) bool {
	if bankSubsets > budget || bookSubsets > budget {
		return true
	}
	if bookSubsets > 0 && bankSubsets > budget/bookSubsets {
		return true
	}
	return bankSubsets+bookSubsets+bankSubsets*bookSubsets > budget
}

func sumAmounts(members []*models.Candidate) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range members {
		sum = sum.Add(c.Amount)
	}
	return sum
}

// weightedAvgDate averages member dates weighted by absolute amount, falling
// back to the plain mean when the weights sum to zero.
func weightedAvgDate(members []*models.Candidate) time.Time {
	totalWeight := decimal.Zero
	for _, c := range members {
		totalWeight = totalWeight.Add(c.Amount.Abs())
	}

	var acc float64
	if totalWeight.IsZero() {
		for _, c := range members {
			acc += float64(c.TxnDate.Unix())
		}
		return time.Unix(int64(acc/float64(len(members))), 0).UTC()
	}

	tw := totalWeight.InexactFloat64()
	for _, c := range members {
		w := c.Amount.Abs().InexactFloat64() / tw
		acc += w * float64(c.TxnDate.Unix())
	}
	return time.Unix(int64(acc), 0).UTC()
}

// centroid is the element-wise mean of the member description vectors.
func centroid(members []*models.Candidate) []float32 {
	if len(members) == 1 {
		return members[0].Embedding
	}
	dims := len(members[0].Embedding)
	out := make([]float32, dims)
	for _, c := range members {
		if len(c.Embedding) != dims {
			return nil
		}
		for i, v := range c.Embedding {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float32(len(members))
	}
	return out
}

// spanDays counts calendar days between two transaction dates. Dates are
// day-granular; a time-of-day component never shortens the counted span.
func spanDays(min, max time.Time) int {
	minDay := time.Date(min.Year(), min.Month(), min.Day(), 0, 0, 0, 0, time.UTC)
	maxDay := time.Date(max.Year(), max.Month(), max.Day(), 0, 0, 0, 0, time.UTC)
	return int(maxDay.Sub(minDay).Hours() / 24)
}

func absDays(d time.Duration) float64 {
	if d < 0 {
		d = -d
	}
	return d.Hours() / 24
}
