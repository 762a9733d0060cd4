package banksync

import (
	"context"
	"time"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/domain/transaction"
)

// AccountStore is the account persistence the sync engine needs.
// Implemented by account.Service.
type AccountStore interface {
	UpsertFromSync(ctx context.Context, params account.UpsertParams) (*account.Account, bool, error)
	GetAccount(ctx context.Context, accountID string, userID int64) (*account.Account, error)
	ListAccounts(ctx context.Context, userID int64) ([]*account.Account, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]*account.Account, error)
	ListByExternalIDs(ctx context.Context, externalIDs []string) ([]*account.Account, error)
	SetSyncState(ctx context.Context, accountID string, state account.SyncState) error
	SetBalances(ctx context.Context, accountID string, balances account.Balances) error
	SetVerificationStatus(ctx context.Context, accountID, status string) error
	DisconnectEnrollment(ctx context.Context, enrollmentID, note string) (int64, error)
	EnsurePrimary(ctx context.Context, userID int64) (*account.Account, error)
	RemoveAccount(ctx context.Context, accountID string, userID int64) (*account.Account, error)
}

// TransactionStore reconciles upstream transactions. Implemented by
// transaction.Service.
type TransactionStore interface {
	Reconcile(ctx context.Context, params transaction.UpsertParams) (transaction.Outcome, error)
}

// EnrollmentStore is the enrollment persistence the sync engine needs.
// Implemented by enrollment.Service.
type EnrollmentStore interface {
	Link(ctx context.Context, params enrollment.LinkParams) (*enrollment.Enrollment, error)
	Get(ctx context.Context, id string) (*enrollment.Enrollment, error)
	ListByUser(ctx context.Context, userID int64) ([]*enrollment.Enrollment, error)
	ListActive(ctx context.Context) ([]*enrollment.Enrollment, error)
	AccessToken(e *enrollment.Enrollment) (string, error)
	MarkExpired(ctx context.Context, id, reason string) error
	MarkDisconnected(ctx context.Context, id, reason string) error
	TouchLastSync(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// Notifier delivers user notifications. Implemented by notification.Service.
type Notifier interface {
	SendToUser(ctx context.Context, userID int64, title, body, category string, data map[string]string) error
}
