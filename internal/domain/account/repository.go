package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Upsert creates or updates an account keyed by (user, external id).
	// created reports whether a new row was inserted.
	Upsert(ctx context.Context, params UpsertParams) (acc *Account, created bool, err error)

	GetByID(ctx context.Context, id string) (*Account, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Account, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]*Account, error)

	// ListByExternalIDs resolves upstream account ids across users
	ListByExternalIDs(ctx context.Context, externalIDs []string) ([]*Account, error)

	UpdateSyncState(ctx context.Context, id string, state SyncState) error
	UpdateBalances(ctx context.Context, id string, balances Balances) error
	UpdateVerificationStatus(ctx context.Context, id, status string) error

	// DeactivateByEnrollment marks every account of an enrollment inactive
	// with the given status and note, returning how many rows changed
	DeactivateByEnrollment(ctx context.Context, enrollmentID, status, note string) (int64, error)

	// SetPrimary makes accountID the only primary account of userID
	SetPrimary(ctx context.Context, userID int64, accountID string) error

	// Delete removes an account; its transactions cascade
	Delete(ctx context.Context, id string) error
}
