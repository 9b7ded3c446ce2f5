package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side tags a candidate as externally sourced (bank) or internally recorded (book).
type Side string

const (
	SideBank Side = "bank"
	SideBook Side = "book"
)

// Candidate is a cash-movement record (bank side) or ledger entry (book side)
// eligible for matching. Stored in the candidates table. The engine borrows
// candidates for the duration of a run and never writes back to them; the
// run-scoped consumed flag lives in the matching pool, not here.
type Candidate struct {
	ID          uuid.UUID       `json:"id"`
	Side        Side            `json:"side"`
	Amount      decimal.Decimal `json:"amount"` // signed; negative for outflows
	Currency    string          `json:"currency"`
	TxnDate     time.Time       `json:"txn_date"`
	Description string          `json:"description"`
	// Embedding is the precomputed semantic vector for the description.
	// Produced upstream at import time; nil when the vectorizer failed,
	// in which case the candidate is excluded from grouping with a warning.
	Embedding   []float32  `json:"-"`
	AccountID   *uuid.UUID `json:"account_id,omitempty"`
	ExternalRef string     `json:"external_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HasEmbedding reports whether the candidate carries a usable semantic vector.
func (c *Candidate) HasEmbedding() bool {
	return len(c.Embedding) > 0
}
