package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status values. queued is set at submission; running when the job
// runner picks the task up; completed/failed/cancelled are terminal.
// failed is reached only for pre-run validation failures.
const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// TerminalTaskStatus reports whether a status permits no further transitions.
func TerminalTaskStatus(status string) bool {
	return status == TaskCompleted || status == TaskFailed || status == TaskCancelled
}

// StageStats captures per-stage execution statistics, persisted with the task.
type StageStats struct {
	Position             int       `json:"position"`
	ConfigID             uuid.UUID `json:"config_id"`
	CandidatesConsidered int       `json:"candidates_considered"`
	GroupsGenerated      int       `json:"groups_generated"`
	GroupsSurviving      int       `json:"groups_surviving"`
	AutoApplied          int       `json:"auto_applied"`
	// Error records a stage-local fatal error (bad weight override,
	// enumeration budget exceeded). The pipeline continued past it.
	Error string `json:"error,omitempty"`
}

// TaskStats aggregates one execution's statistics.
type TaskStats struct {
	BankCandidates      int          `json:"bank_candidates"`
	BookCandidates      int          `json:"book_candidates"`
	SuggestionsProduced int          `json:"suggestions_produced"`
	AutoApplied         int          `json:"auto_applied"`
	DurationMS          int64        `json:"duration_ms"`
	Stages              []StageStats `json:"stages,omitempty"`
}

// ReconTask is one reconciliation execution instance. Exactly one of
// ConfigID / PipelineID is set.
type ReconTask struct {
	ID         uuid.UUID  `json:"id"`
	Status     string     `json:"status"`
	ConfigID   *uuid.UUID `json:"config_id,omitempty"`
	PipelineID *uuid.UUID `json:"pipeline_id,omitempty"`
	// Explicit candidate subsets restricting the pool. Empty means the
	// config filters alone decide.
	BankCandidateIDs []uuid.UUID `json:"bank_candidate_ids,omitempty"`
	BookCandidateIDs []uuid.UUID `json:"book_candidate_ids,omitempty"`
	// AutoApplyOverride forces auto-apply on or off regardless of the
	// pipeline's auto_apply_score being set.
	AutoApplyOverride *bool     `json:"auto_apply_override,omitempty"`
	Stats             TaskStats `json:"stats"`
	// Warnings are recoverable conditions (skipped candidates, capped
	// enumerations); Errors are stage-local fatal errors. Both are surfaced
	// on query so partial success is never indistinguishable from full success.
	Warnings    []string   `json:"warnings,omitempty"`
	Errors      []string   `json:"errors,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
