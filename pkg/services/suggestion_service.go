package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/repositories"
)

// SuggestionService handles human review of emitted suggestions. Accepting
// one finalizes the match as a Reconciliation; the suggestion update and the
// reconciliation insert commit together. Both operations are idempotent: a
// repeated accept or reject of an already-settled suggestion succeeds
// without side effects.
type SuggestionService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Suggestion, error)
	Accept(ctx context.Context, id uuid.UUID, reference, notes string) (*models.Reconciliation, error)
	Reject(ctx context.Context, id uuid.UUID) error
}

type suggestionService struct {
	db              TxRunner
	suggestions     repositories.SuggestionRepository
	reconciliations repositories.ReconciliationRepository
	logger          *zap.Logger
}

// NewSuggestionService creates a new suggestion review service.
func NewSuggestionService(
	db TxRunner,
	suggestions repositories.SuggestionRepository,
	reconciliations repositories.ReconciliationRepository,
	logger *zap.Logger,
) SuggestionService {
	return &suggestionService{
		db:              db,
		suggestions:     suggestions,
		reconciliations: reconciliations,
		logger:          logger.Named("suggestions"),
	}
}

func (s *suggestionService) Get(ctx context.Context, id uuid.UUID) (*models.Suggestion, error) {
	return s.suggestions.Get(ctx, id)
}

func (s *suggestionService) Accept(ctx context.Context, id uuid.UUID, reference, notes string) (*models.Reconciliation, error) {
	sug, err := s.suggestions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch sug.Status {
	case models.SuggestionAccepted:
		// Repeat of an earlier accept. Return the existing reconciliation.
		return s.reconciliations.GetBySuggestion(ctx, id)
	case models.SuggestionPending:
	default:
		return nil, fmt.Errorf("suggestion %s is %s: %w", id, sug.Status, apperrors.ErrConflict)
	}

	rec := &models.Reconciliation{
		ID:               uuid.New(),
		TaskID:           &sug.TaskID,
		SuggestionID:     &sug.ID,
		Status:           models.ReconciliationMatched,
		Reference:        reference,
		Notes:            notes,
		BankCandidateIDs: sug.BankCandidateIDs,
		BookCandidateIDs: sug.BookCandidateIDs,
	}

	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.suggestions.UpdateStatusGuardedTx(ctx, tx, id, models.SuggestionPending, models.SuggestionAccepted); err != nil {
			return err
		}
		return s.reconciliations.CreateTx(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("suggestion accepted",
		zap.String("suggestion_id", id.String()),
		zap.String("reconciliation_id", rec.ID.String()))
	return rec, nil
}

func (s *suggestionService) Reject(ctx context.Context, id uuid.UUID) error {
	sug, err := s.suggestions.Get(ctx, id)
	if err != nil {
		return err
	}

	switch sug.Status {
	case models.SuggestionRejected:
		return nil
	case models.SuggestionPending:
	default:
		return fmt.Errorf("suggestion %s is %s: %w", id, sug.Status, apperrors.ErrConflict)
	}

	if err := s.suggestions.UpdateStatusGuarded(ctx, id, models.SuggestionPending, models.SuggestionRejected); err != nil {
		return err
	}
	s.logger.Info("suggestion rejected", zap.String("suggestion_id", id.String()))
	return nil
}

var _ SuggestionService = (*suggestionService)(nil)
