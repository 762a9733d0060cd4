package teller

import "context"

// ClientInterface defines the raw calls the Gateway needs from the upstream client.
type ClientInterface interface {
	GetAccounts(ctx context.Context, token string) ([]Account, error)
	GetTransactions(ctx context.Context, token, accountID string, q TransactionQuery) ([]Transaction, error)
	GetBalance(ctx context.Context, token, accountID string) (*Balance, error)
	GetAccountDetails(ctx context.Context, token, accountID string) (*AccountDetails, error)
}

// GatewayInterface is the cached, deduplicated and rate-limited upstream
// surface used by the sync orchestrator.
type GatewayInterface interface {
	FetchAccounts(ctx context.Context, userID int64, token string) ([]Account, error)
	FetchTransactions(ctx context.Context, userID int64, token, accountID string, q TransactionQuery) ([]Transaction, error)
	FetchBalance(ctx context.Context, userID int64, token, accountID string) (*Balance, error)
	FetchAccountDetails(ctx context.Context, userID int64, token, accountID string) (*AccountDetails, error)

	InvalidateUser(userID int64) int
	InvalidateBalance(userID int64, accountID string) int
	InvalidateTransactions(userID int64, accountID string) int
}
