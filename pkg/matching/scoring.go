// Package matching implements the reconciliation matching core: scoring
// primitives, the run-scoped candidate pool, admissible group enumeration,
// single-stage execution and multi-stage pipelines.
package matching

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// Factors holds the four per-factor similarity scores, each in [0,1].
type Factors struct {
	Description float64
	Amount      float64
	Currency    float64
	Date        float64
}

// AmountScore scores the absolute difference between two aggregate sums
// against a tolerance. A zero tolerance demands an exact match: 1.0 for a
// zero difference, 0 otherwise. Within a non-zero tolerance the score decays
// linearly.
func AmountScore(diff, tolerance decimal.Decimal) float64 {
	diff = diff.Abs()
	if tolerance.IsZero() {
		if diff.IsZero() {
			return 1.0
		}
		return 0.0
	}
	ratio := diff.Div(tolerance).InexactFloat64()
	return math.Max(0, 1.0-ratio)
}

// CurrencyScore is 1.0 for identical currency codes, else 0.
func CurrencyScore(a, b string) float64 {
	if a == b {
		return 1.0
	}
	return 0.0
}

// DateScore scores the difference between two dates, in days, against a
// maximum. Semantics mirror AmountScore: zero max demands equal dates.
func DateScore(deltaDays, maxDeltaDays float64) float64 {
	deltaDays = math.Abs(deltaDays)
	if maxDeltaDays == 0 {
		if deltaDays == 0 {
			return 1.0
		}
		return 0.0
	}
	return math.Max(0, 1.0-deltaDays/maxDeltaDays)
}

// DescriptionScore is the cosine similarity of two semantic vectors, clamped
// to [0,1]. Negative similarity is treated as no similarity. Missing or
// mismatched vectors score 0; the pool excludes vectorless candidates before
// grouping, so that case only arises defensively.
func DescriptionScore(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if cos < 0 {
		return 0.0
	}
	if cos > 1 {
		// Guard against floating point drift on identical vectors.
		return 1.0
	}
	return cos
}

// Confidence combines the four factor scores with the validated weights.
// Pure function with no side effects: for weights summing to 1.0 and factors
// in [0,1] the result is always in [0,1].
func Confidence(w models.ScoringWeights, f Factors) float64 {
	return w.Description*f.Description + w.Amount*f.Amount + w.Currency*f.Currency + w.Date*f.Date
}
