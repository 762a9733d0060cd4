package transaction

import "context"

// Repository defines the interface for transaction data access
type Repository interface {
	// GetByExternalID returns ErrTransactionNotFound when absent
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)

	// Create inserts a transaction. A concurrent insert of the same external
	// id for the same account turns into an update.
	Create(ctx context.Context, params UpsertParams) (*Transaction, error)

	// Update overwrites the compared fields of an existing row
	Update(ctx context.Context, id string, params UpsertParams) (*Transaction, error)

	ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*Transaction, error)
	CountByAccountID(ctx context.Context, accountID string) (int64, error)
}
