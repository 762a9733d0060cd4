package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// TokenCipher encrypts access tokens before they are persisted.
type TokenCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Service contains the business logic for enrollment operations
type Service struct {
	repo   Repository
	cipher TokenCipher
}

// NewService creates a new enrollment service
func NewService(repo Repository, cipher TokenCipher) *Service {
	return &Service{repo: repo, cipher: cipher}
}

// Link stores a newly linked enrollment as active with its token encrypted.
// Relinking an existing enrollment replaces its token and reactivates it.
func (s *Service) Link(ctx context.Context, params LinkParams) (*Enrollment, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByID(ctx, params.ID)
	if err != nil && !errors.Is(err, ErrEnrollmentNotFound) {
		return nil, err
	}
	if existing != nil && existing.UserID != params.UserID {
		return nil, ErrForbidden
	}

	sealed, err := s.cipher.Encrypt(params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	return s.repo.Upsert(ctx, UpsertParams{
		ID:              params.ID,
		UserID:          params.UserID,
		InstitutionID:   params.InstitutionID,
		InstitutionName: params.InstitutionName,
		AccessToken:     sealed,
		Status:          StatusActive,
	})
}

// GetEnrollment retrieves an enrollment and verifies user ownership
func (s *Service) GetEnrollment(ctx context.Context, id string, userID int64) (*Enrollment, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.UserID != userID {
		return nil, ErrForbidden
	}
	return e, nil
}

// Get retrieves an enrollment without an ownership check, for internal
// triggers (webhooks, scheduler) that carry no user identity.
func (s *Service) Get(ctx context.Context, id string) (*Enrollment, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByUser returns the enrollments of a user.
func (s *Service) ListByUser(ctx context.Context, userID int64) ([]*Enrollment, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}
	return s.repo.ListByUserID(ctx, userID)
}

// ListActive returns every active enrollment.
func (s *Service) ListActive(ctx context.Context) ([]*Enrollment, error) {
	return s.repo.ListActive(ctx)
}

// AccessToken decrypts the credential of e.
func (s *Service) AccessToken(e *Enrollment) (string, error) {
	token, err := s.cipher.Decrypt(e.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt access token for enrollment %s: %w", e.ID, err)
	}
	if token == "" {
		return "", fmt.Errorf("enrollment %s has no access token", e.ID)
	}
	return token, nil
}

// MarkExpired records a credential failure. Expired enrollments are skipped
// until the user relinks.
func (s *Service) MarkExpired(ctx context.Context, id, reason string) error {
	log.Printf("Enrollment %s: marking expired (%s)", id, reason)
	return s.repo.UpdateStatus(ctx, id, StatusExpired, reason)
}

// MarkDisconnected records an institution-initiated disconnection.
func (s *Service) MarkDisconnected(ctx context.Context, id, reason string) error {
	log.Printf("Enrollment %s: marking disconnected (%s)", id, reason)
	return s.repo.UpdateStatus(ctx, id, StatusDisconnected, reason)
}

// TouchLastSync stamps a completed sync pass.
func (s *Service) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	return s.repo.TouchLastSync(ctx, id, at)
}

// Delete removes an enrollment.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
