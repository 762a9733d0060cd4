package transaction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the business logic for transaction operations
type Service struct {
	repo Repository
}

// NewService creates a new transaction service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Reconcile upserts one transaction by external id and reports whether it
// was created, updated, or left unchanged.
func (s *Service) Reconcile(ctx context.Context, params UpsertParams) (Outcome, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	existing, err := s.repo.GetByExternalID(ctx, params.ExternalID)
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		if params.ID == "" {
			params.ID = uuid.NewString()
		}
		if _, err := s.repo.Create(ctx, params); err != nil {
			return "", fmt.Errorf("failed to create transaction %s: %w", params.ExternalID, err)
		}
		return OutcomeCreated, nil
	case err != nil:
		return "", err
	}

	if existing.AccountID != params.AccountID || existing.UserID != params.UserID {
		return "", fmt.Errorf("%w: %s", ErrOwnershipConflict, params.ExternalID)
	}

	if !Differs(existing, params) {
		return OutcomeSkipped, nil
	}

	if _, err := s.repo.Update(ctx, existing.ID, params); err != nil {
		return "", fmt.Errorf("failed to update transaction %s: %w", params.ExternalID, err)
	}
	return OutcomeUpdated, nil
}

// ListByAccount returns a page of an account's transactions
func (s *Service) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByAccountID(ctx, accountID, limit, offset)
}
