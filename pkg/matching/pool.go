package matching

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/logging"
	"github.com/ledgerline/recon-engine/pkg/models"
)

// Pool is the run-scoped, mutable view over loaded bank and book candidates.
// It is exclusively owned by one task's execution goroutine for its lifetime,
// so no locking is needed. Consumption never touches the underlying store;
// permanent exclusion only happens when a reconciliation is persisted.
type Pool struct {
	bank     []*models.Candidate
	book     []*models.Candidate
	consumed map[uuid.UUID]bool
	warnings []string
}

// NewPool builds a pool from loaded candidates. Candidates without a usable
// semantic vector cannot be scored on description and are excluded up front
// with a warning; an empty side is not an error.
func NewPool(bank, book []*models.Candidate, logger *zap.Logger) *Pool {
	p := &Pool{
		consumed: make(map[uuid.UUID]bool),
	}
	p.bank = p.admit(bank, logger)
	p.book = p.admit(book, logger)
	return p
}

func (p *Pool) admit(candidates []*models.Candidate, logger *zap.Logger) []*models.Candidate {
	admitted := make([]*models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.HasEmbedding() {
			p.warnings = append(p.warnings,
				fmt.Sprintf("candidate %s (%s) excluded: missing description vector", c.ID, c.Side))
			if logger != nil {
				logger.Warn("candidate excluded from pool",
					zap.String("candidate_id", c.ID.String()),
					zap.String("side", string(c.Side)),
					zap.String("description", logging.SanitizeDescription(c.Description)))
			}
			continue
		}
		admitted = append(admitted, c)
	}
	return admitted
}

// Unconsumed returns the candidates on one side not yet consumed by an
// earlier stage of this task.
func (p *Pool) Unconsumed(side models.Side) []*models.Candidate {
	var src []*models.Candidate
	if side == models.SideBank {
		src = p.bank
	} else {
		src = p.book
	}
	out := make([]*models.Candidate, 0, len(src))
	for _, c := range src {
		if !p.consumed[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// UnconsumedCount returns the number of unconsumed candidates on one side.
func (p *Pool) UnconsumedCount(side models.Side) int {
	return len(p.Unconsumed(side))
}

// SideCount returns the total admitted candidates on one side.
func (p *Pool) SideCount(side models.Side) int {
	if side == models.SideBank {
		return len(p.bank)
	}
	return len(p.book)
}

// MarkConsumed removes candidates from consideration for the remainder of
// the task. Consumption is cumulative across stages and strictly run-scoped.
func (p *Pool) MarkConsumed(ids ...uuid.UUID) {
	for _, id := range ids {
		p.consumed[id] = true
	}
}

// Warnings returns per-candidate load warnings accumulated while building
// the pool.
func (p *Pool) Warnings() []string {
	return p.warnings
}
