package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/models"
)

// testCandidate builds a candidate with a unit description vector.
func testCandidate(side models.Side, amount string, date time.Time, vec []float32) *models.Candidate {
	return &models.Candidate{
		ID:          uuid.New(),
		Side:        side,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		TxnDate:     date,
		Description: "test payment",
		Embedding:   vec,
	}
}

var testDate = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func TestPoolExcludesVectorlessCandidates(t *testing.T) {
	good := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	bad := testCandidate(models.SideBank, "50.00", testDate, nil)
	book := testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0})

	pool := NewPool([]*models.Candidate{good, bad}, []*models.Candidate{book}, zap.NewNop())

	assert.Equal(t, 1, pool.SideCount(models.SideBank))
	assert.Equal(t, 1, pool.SideCount(models.SideBook))
	require.Len(t, pool.Warnings(), 1)
	assert.Contains(t, pool.Warnings()[0], bad.ID.String())
	assert.Contains(t, pool.Warnings()[0], "missing description vector")
}

func TestPoolConsumption(t *testing.T) {
	a := testCandidate(models.SideBank, "100.00", testDate, []float32{1, 0})
	b := testCandidate(models.SideBank, "200.00", testDate, []float32{1, 0})
	x := testCandidate(models.SideBook, "100.00", testDate, []float32{1, 0})

	pool := NewPool([]*models.Candidate{a, b}, []*models.Candidate{x}, zap.NewNop())
	assert.Equal(t, 2, pool.UnconsumedCount(models.SideBank))

	pool.MarkConsumed(a.ID, x.ID)

	assert.Equal(t, 1, pool.UnconsumedCount(models.SideBank))
	assert.Equal(t, 0, pool.UnconsumedCount(models.SideBook))

	remaining := pool.Unconsumed(models.SideBank)
	require.Len(t, remaining, 1)
	assert.Equal(t, b.ID, remaining[0].ID)

	// Consumption is idempotent.
	pool.MarkConsumed(a.ID)
	assert.Equal(t, 1, pool.UnconsumedCount(models.SideBank))
}
