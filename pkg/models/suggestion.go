package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchType describes the shape of a suggested match.
type MatchType string

const (
	MatchOneToOne   MatchType = "one_to_one"
	MatchOneToMany  MatchType = "one_to_many"
	MatchManyToOne  MatchType = "many_to_one"
	MatchManyToMany MatchType = "many_to_many"
)

// MatchTypeFor derives the match type from the group shape.
func MatchTypeFor(bankCount, bookCount int) MatchType {
	switch {
	case bankCount == 1 && bookCount == 1:
		return MatchOneToOne
	case bankCount == 1:
		return MatchOneToMany
	case bookCount == 1:
		return MatchManyToOne
	default:
		return MatchManyToMany
	}
}

// Suggestion status values.
const (
	SuggestionPending    = "pending"
	SuggestionAccepted   = "accepted"
	SuggestionRejected   = "rejected"
	SuggestionSuperseded = "superseded"
)

// Suggestion is a scored, ranked proposal for finalizing a match group.
// Created by a stage execution; mutated only by acceptance, rejection or
// supersession; never mutated by a later stage once emitted.
type Suggestion struct {
	ID               uuid.UUID   `json:"id"`
	TaskID           uuid.UUID   `json:"task_id"`
	MatchType        MatchType   `json:"match_type"`
	Confidence       float64     `json:"confidence"`
	BankCandidateIDs []uuid.UUID `json:"bank_candidate_ids"`
	BookCandidateIDs []uuid.UUID `json:"book_candidate_ids"`
	Status           string      `json:"status"`
	// Rank is the position within the stage's deterministic ordering.
	// Superseded suggestions keep rank 0; they are retained for inspection
	// but never presented as alternatives.
	Rank      int       `json:"rank"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
