package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerline/recon-engine/pkg/apperrors"
	"github.com/ledgerline/recon-engine/pkg/models"
	"github.com/ledgerline/recon-engine/pkg/repositories"
)

// ReconciliationService manages finalized matches through their review
// workflow: matched -> review -> approved, with review allowed to fall back
// to matched. The transition table lives on the model; the repository
// enforces it under a row lock.
type ReconciliationService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Reconciliation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Reconciliation, error)
}

type reconciliationService struct {
	reconciliations repositories.ReconciliationRepository
	logger          *zap.Logger
}

// NewReconciliationService creates a new reconciliation workflow service.
func NewReconciliationService(
	reconciliations repositories.ReconciliationRepository,
	logger *zap.Logger,
) ReconciliationService {
	return &reconciliationService{
		reconciliations: reconciliations,
		logger:          logger.Named("reconciliations"),
	}
}

func (s *reconciliationService) Get(ctx context.Context, id uuid.UUID) (*models.Reconciliation, error) {
	return s.reconciliations.Get(ctx, id)
}

func (s *reconciliationService) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Reconciliation, error) {
	switch status {
	case models.ReconciliationPending, models.ReconciliationMatched,
		models.ReconciliationReview, models.ReconciliationApproved:
	default:
		return nil, fmt.Errorf("%w: unknown reconciliation status %q", apperrors.ErrInvalidRequest, status)
	}

	if err := s.reconciliations.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}

	s.logger.Info("reconciliation status updated",
		zap.String("reconciliation_id", id.String()),
		zap.String("status", status))

	return s.reconciliations.Get(ctx, id)
}

var _ ReconciliationService = (*reconciliationService)(nil)
