package banksync

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/shared/apperr"
)

// AccountError is one account's failure within a batch.
type AccountError struct {
	AccountID string `json:"account_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

func (e AccountError) String() string {
	return fmt.Sprintf("account %s: %s: %s", e.AccountID, e.Kind, e.Message)
}

// BatchResult aggregates a SyncMany run.
type BatchResult struct {
	Accounts int
	Created  int
	Updated  int
	Skipped  int
	Errors   []AccountError
}

// Synced is the number of created plus updated transactions.
func (r *BatchResult) Synced() int {
	return r.Created + r.Updated
}

// SyncMany syncs transactions for accounts in groups of Options.BatchSize.
// Accounts within a group run concurrently and fail independently; groups
// are separated by Options.BatchPause. Every group runs whatever earlier
// groups returned; a Forbidden grant can be specific to one account.
func (o *Orchestrator) SyncMany(ctx context.Context, accounts []*account.Account, token string) *BatchResult {
	result := &BatchResult{Accounts: len(accounts)}
	var mu sync.Mutex

	for start := 0; start < len(accounts); start += o.opts.BatchSize {
		end := min(start+o.opts.BatchSize, len(accounts))
		group := accounts[start:end]

		if start > 0 {
			o.sleep(ctx, o.opts.BatchPause)
		}

		var g errgroup.Group
		for _, acc := range group {
			g.Go(func() error {
				res, err := o.syncOne(ctx, acc, token)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors = append(result.Errors, AccountError{
						AccountID: acc.ID,
						Kind:      string(apperr.KindOf(err)),
						Message:   err.Error(),
					})
					return nil
				}
				result.Created += res.Created
				result.Updated += res.Updated
				result.Skipped += res.Skipped
				return nil
			})
		}
		_ = g.Wait()
	}

	log.Printf("Batch sync of %d accounts: created=%d updated=%d skipped=%d errors=%d",
		result.Accounts, result.Created, result.Updated, result.Skipped, len(result.Errors))
	return result
}

// syncOne shields the batch from a panicking account sync.
func (o *Orchestrator) syncOne(ctx context.Context, acc *account.Account, token string) (res *TransactionSyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindInternal, "banksync.syncOne", fmt.Sprintf("panic: %v", r))
			log.Printf("User %d: account %s sync panicked: %v", acc.UserID, acc.ID, r)
			o.setState(ctx, acc, account.SyncState{Status: account.SyncFailed, Notes: failureNote("Transaction sync", err)})
		}
	}()
	return o.SyncTransactionsForAccount(ctx, acc, token)
}
