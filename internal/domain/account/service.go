package account

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/google/uuid"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// UpsertFromSync creates or updates an account from upstream data.
func (s *Service) UpsertFromSync(ctx context.Context, params UpsertParams) (*Account, bool, error) {
	if params.Currency == "" {
		params.Currency = "USD"
	}
	if err := params.Validate(); err != nil {
		return nil, false, err
	}
	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	return s.repo.Upsert(ctx, params)
}

// GetAccount retrieves an account by ID and verifies user ownership
func (s *Service) GetAccount(ctx context.Context, accountID string, userID int64) (*Account, error) {
	acc, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	if acc.UserID != userID {
		return nil, ErrForbidden
	}

	return acc, nil
}

// ListAccounts retrieves all accounts for a specific user
func (s *Service) ListAccounts(ctx context.Context, userID int64) ([]*Account, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}
	return s.repo.ListByUserID(ctx, userID)
}

// ListByEnrollment retrieves the accounts linked through one enrollment
func (s *Service) ListByEnrollment(ctx context.Context, enrollmentID string) ([]*Account, error) {
	return s.repo.ListByEnrollment(ctx, enrollmentID)
}

// ListByExternalIDs resolves upstream account ids
func (s *Service) ListByExternalIDs(ctx context.Context, externalIDs []string) ([]*Account, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	return s.repo.ListByExternalIDs(ctx, externalIDs)
}

// SetSyncState records the outcome of a sync step
func (s *Service) SetSyncState(ctx context.Context, accountID string, state SyncState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	return s.repo.UpdateSyncState(ctx, accountID, state)
}

// SetBalances overwrites the balance fields only
func (s *Service) SetBalances(ctx context.Context, accountID string, balances Balances) error {
	return s.repo.UpdateBalances(ctx, accountID, balances)
}

// SetVerificationStatus records an upstream verification result
func (s *Service) SetVerificationStatus(ctx context.Context, accountID, status string) error {
	if status == "" {
		return errors.New("verification status is required")
	}
	return s.repo.UpdateVerificationStatus(ctx, accountID, status)
}

// DisconnectEnrollment marks every account of an enrollment inactive
func (s *Service) DisconnectEnrollment(ctx context.Context, enrollmentID, note string) (int64, error) {
	return s.repo.DeactivateByEnrollment(ctx, enrollmentID, SyncDisconnected, note)
}

// EnsurePrimary makes the earliest-created active account primary when the
// user has none. Returns the primary account, or nil if the user has no
// active accounts.
func (s *Service) EnsurePrimary(ctx context.Context, userID int64) (*Account, error) {
	accounts, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var candidates []*Account
	for _, acc := range accounts {
		if acc.IsPrimary && acc.IsActive {
			return acc, nil
		}
		if acc.IsActive {
			candidates = append(candidates, acc)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	primary := candidates[0]
	if err := s.repo.SetPrimary(ctx, userID, primary.ID); err != nil {
		return nil, err
	}
	primary.IsPrimary = true
	log.Printf("User %d: account %s is now primary", userID, primary.ID)
	return primary, nil
}

// RemoveAccount deletes an account after verifying ownership and, if it was
// the primary account, promotes another one. Returns the deleted account.
func (s *Service) RemoveAccount(ctx context.Context, accountID string, userID int64) (*Account, error) {
	acc, err := s.GetAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Delete(ctx, accountID); err != nil {
		return nil, err
	}

	if acc.IsPrimary {
		if _, err := s.EnsurePrimary(ctx, userID); err != nil {
			log.Printf("User %d: failed to reassign primary account: %v", userID, err)
		}
	}

	return acc, nil
}
