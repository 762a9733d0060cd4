package banksync

import (
	"context"
	"errors"
	"fmt"
	"log"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/domain/notification"
	"bankfeed/internal/shared/apperr"
)

// Summary is the aggregate reported to manual and scheduled triggers.
type Summary struct {
	AccountsSynced     int      `json:"accounts_synced"`
	TransactionsSynced int      `json:"transactions_synced"`
	Errors             []string `json:"errors"`
}

func (s *Summary) add(other *Summary) {
	s.AccountsSynced += other.AccountsSynced
	s.TransactionsSynced += other.TransactionsSynced
	s.Errors = append(s.Errors, other.Errors...)
}

// Service is the entry point for sync triggers: manual requests, the
// scheduler, enrollment linking and account management.
type Service struct {
	orch        *Orchestrator
	accounts    AccountStore
	enrollments EnrollmentStore

	// background runs work that may outlive the triggering request
	background func(fn func())
}

// NewService creates the sync service around orch.
func NewService(orch *Orchestrator) *Service {
	return &Service{
		orch:        orch,
		accounts:    orch.accounts,
		enrollments: orch.enrollments,
		background:  func(fn func()) { go fn() },
	}
}

// SyncUser syncs every active enrollment of userID.
func (s *Service) SyncUser(ctx context.Context, userID int64) (*Summary, error) {
	enrollments, err := s.enrollments.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}

	summary := &Summary{Errors: []string{}}
	for _, enr := range enrollments {
		if !enr.IsActive() {
			continue
		}
		res, err := s.SyncEnrollment(ctx, enr)
		if res != nil {
			summary.add(res)
		}
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("enrollment %s: %v", enr.ID, err))
		}
	}

	log.Printf("User %d: sync complete: accounts=%d transactions=%d errors=%d",
		userID, summary.AccountsSynced, summary.TransactionsSynced, len(summary.Errors))
	return summary, nil
}

// SyncEnrollment syncs the account list of enr, then the transactions of
// every active account in batches.
func (s *Service) SyncEnrollment(ctx context.Context, enr *enrollment.Enrollment) (*Summary, error) {
	if !enr.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", enrollment.ErrNotActive, enr.ID, enr.Status)
	}

	token, err := s.enrollments.AccessToken(enr)
	if err != nil {
		return nil, err
	}

	accRes, err := s.orch.SyncAccountsForUser(ctx, enr, token)
	if err != nil {
		return nil, err
	}

	active := make([]*account.Account, 0, len(accRes.Accounts))
	for _, acc := range accRes.Accounts {
		if acc.IsActive {
			active = append(active, acc)
		}
	}

	batch := s.orch.SyncMany(ctx, active, token)

	summary := &Summary{
		AccountsSynced:     len(active) - len(batch.Errors),
		TransactionsSynced: batch.Synced(),
		Errors:             make([]string, 0, len(batch.Errors)),
	}
	for _, e := range batch.Errors {
		summary.Errors = append(summary.Errors, e.String())
	}
	return summary, nil
}

// SyncEnrollmentByID loads and syncs one enrollment.
func (s *Service) SyncEnrollmentByID(ctx context.Context, id string) (*Summary, error) {
	enr, err := s.enrollments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SyncEnrollment(ctx, enr)
}

// ListActiveEnrollments returns the enrollments the scheduler should visit.
func (s *Service) ListActiveEnrollments(ctx context.Context) ([]*enrollment.Enrollment, error) {
	return s.enrollments.ListActive(ctx)
}

// Link stores a freshly linked enrollment and starts its initial sync in the
// background, detached from the request.
func (s *Service) Link(ctx context.Context, params enrollment.LinkParams) (*enrollment.Enrollment, error) {
	enr, err := s.enrollments.Link(ctx, params)
	if err != nil {
		return nil, err
	}

	s.orch.gateway.InvalidateUser(enr.UserID)

	detached := context.WithoutCancel(ctx)
	s.background(func() {
		summary, err := s.SyncEnrollment(detached, enr)
		if err != nil {
			log.Printf("Enrollment %s: initial sync failed: %v", enr.ID, err)
			return
		}
		log.Printf("Enrollment %s: initial sync done: accounts=%d transactions=%d",
			enr.ID, summary.AccountsSynced, summary.TransactionsSynced)

		title, body := s.orch.messages.InitialSyncComplete.Render(enr.InstitutionName, enr.Status)
		s.orch.notify(detached, enr.UserID, notification.CategorySync, title, body, map[string]string{"enrollment_id": enr.ID})
	})

	return enr, nil
}

// RefreshBalance fetches a fresh balance for one account, bypassing the
// cache, and overwrites only its balance fields.
func (s *Service) RefreshBalance(ctx context.Context, accountID string, userID int64) (*account.Account, error) {
	acc, err := s.accounts.GetAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	enr, err := s.enrollments.Get(ctx, acc.EnrollmentID)
	if err != nil {
		return nil, err
	}
	if !enr.IsActive() {
		return nil, fmt.Errorf("%w: %s is %s", enrollment.ErrNotActive, enr.ID, enr.Status)
	}

	token, err := s.enrollments.AccessToken(enr)
	if err != nil {
		return nil, err
	}

	s.orch.gateway.InvalidateBalance(userID, acc.ExternalID)
	if err := s.orch.syncBalance(ctx, acc, token); err != nil {
		s.orch.handleCredentialFailure(ctx, enr.ID, err)
		return nil, err
	}
	return acc, nil
}

// DisconnectAccount deletes an account and its transactions. The enrollment
// is deleted with its last account, and the user's cached responses are
// purged.
func (s *Service) DisconnectAccount(ctx context.Context, accountID string, userID int64) error {
	removed, err := s.accounts.RemoveAccount(ctx, accountID, userID)
	if err != nil {
		return err
	}
	defer s.orch.gateway.InvalidateUser(userID)

	remaining, err := s.accounts.ListByEnrollment(ctx, removed.EnrollmentID)
	if err != nil {
		return fmt.Errorf("failed to list remaining accounts: %w", err)
	}
	if len(remaining) == 0 {
		if err := s.enrollments.Delete(ctx, removed.EnrollmentID); err != nil && !errors.Is(err, enrollment.ErrEnrollmentNotFound) {
			return fmt.Errorf("failed to delete enrollment: %w", err)
		}
		log.Printf("User %d: enrollment %s deleted with its last account", userID, removed.EnrollmentID)
	}
	return nil
}

// IsUserError reports whether err should be shown to the caller as a
// client-side problem rather than a server failure.
func IsUserError(err error) bool {
	return errors.Is(err, account.ErrAccountNotFound) ||
		errors.Is(err, account.ErrForbidden) ||
		errors.Is(err, enrollment.ErrEnrollmentNotFound) ||
		errors.Is(err, enrollment.ErrForbidden) ||
		errors.Is(err, enrollment.ErrNotActive) ||
		apperr.IsKind(err, apperr.KindBadRequest)
}
