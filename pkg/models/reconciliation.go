package models

import (
	"time"

	"github.com/google/uuid"
)

// Reconciliation status values. Once a reconciliation exists, its member
// candidates are permanently excluded from future matching runs.
const (
	ReconciliationPending  = "pending"
	ReconciliationMatched  = "matched"
	ReconciliationReview   = "review"
	ReconciliationApproved = "approved"
)

// reconciliationTransitions lists the permitted status moves.
var reconciliationTransitions = map[string][]string{
	ReconciliationPending: {ReconciliationMatched, ReconciliationReview},
	ReconciliationMatched: {ReconciliationReview, ReconciliationApproved},
	ReconciliationReview:  {ReconciliationApproved, ReconciliationMatched},
}

// ValidReconciliationTransition reports whether from -> to is allowed.
func ValidReconciliationTransition(from, to string) bool {
	for _, allowed := range reconciliationTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Reconciliation is the finalized, persisted association between matched
// bank and book candidates. Created either by explicit acceptance of a
// suggestion or by pipeline auto-apply.
type Reconciliation struct {
	ID               uuid.UUID   `json:"id"`
	TaskID           *uuid.UUID  `json:"task_id,omitempty"`
	SuggestionID     *uuid.UUID  `json:"suggestion_id,omitempty"`
	Status           string      `json:"status"`
	Reference        string      `json:"reference,omitempty"`
	Notes            string      `json:"notes,omitempty"`
	BankCandidateIDs []uuid.UUID `json:"bank_candidate_ids"`
	BookCandidateIDs []uuid.UUID `json:"book_candidate_ids"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}
