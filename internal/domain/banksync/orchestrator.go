// Package banksync reconciles upstream bank data into local storage: account
// and transaction sync per enrollment, bounded fan-out across accounts, and
// webhook-driven resyncs.
package banksync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/domain/notification"
	"bankfeed/internal/domain/transaction"
	"bankfeed/internal/infrastructure/teller"
	"bankfeed/internal/shared/apperr"
	"bankfeed/internal/shared/clock"
	"bankfeed/internal/shared/messages"
)

var (
	syncTracer             = otel.Tracer("bankfeed/banksync")
	syncMeter              = otel.Meter("bankfeed/banksync")
	transactionsCounter, _ = syncMeter.Int64Counter("sync.transactions.total",
		metric.WithDescription("Reconciled transactions by result"),
	)
	accountSyncCounter, _ = syncMeter.Int64Counter("sync.account.total",
		metric.WithDescription("Account transaction syncs by final status"),
	)
)

// Options tunes the orchestrator.
type Options struct {
	Window           WindowPolicy
	TransactionCount int
	BatchSize        int
	BatchPause       time.Duration
}

// DefaultOptions returns a 30 day lookback, 1 day buffer, 500 transactions
// per page and groups of 3 accounts one second apart.
func DefaultOptions() Options {
	return Options{
		Window:           DefaultWindowPolicy(),
		TransactionCount: 500,
		BatchSize:        3,
		BatchPause:       time.Second,
	}
}

// Orchestrator drives account and transaction reconciliation.
type Orchestrator struct {
	gateway      teller.GatewayInterface
	accounts     AccountStore
	transactions TransactionStore
	enrollments  EnrollmentStore
	notifier     Notifier
	messages     *messages.Messages
	clock        clock.Clock
	opts         Options

	// sleep waits between batch groups; replaced in tests
	sleep func(ctx context.Context, d time.Duration)

	// credMu serializes enrollment expiry so concurrent failures notify once
	credMu sync.Mutex
}

// NewOrchestrator creates an orchestrator. notifier may be nil.
func NewOrchestrator(
	gateway teller.GatewayInterface,
	accounts AccountStore,
	transactions TransactionStore,
	enrollments EnrollmentStore,
	notifier Notifier,
	msgs *messages.Messages,
	c clock.Clock,
	opts Options,
) *Orchestrator {
	if c == nil {
		c = clock.System{}
	}
	if msgs == nil {
		msgs = messages.Defaults()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Window.LookbackDays <= 0 {
		opts.Window = DefaultWindowPolicy()
	}
	return &Orchestrator{
		gateway:      gateway,
		accounts:     accounts,
		transactions: transactions,
		enrollments:  enrollments,
		notifier:     notifier,
		messages:     msgs,
		clock:        c,
		opts:         opts,
		sleep:        sleepContext,
	}
}

// AccountSyncResult reports one account list sync.
type AccountSyncResult struct {
	Accounts        []*account.Account
	Created         int
	Updated         int
	Skipped         int
	BalanceFailures int
}

// SyncAccountsForUser fetches the enrollment's account list and upserts each
// entry with its details and balance. Entries without an upstream id are
// skipped. A balance failure degrades that account to balance_failed with
// zeroed balances; only credential failures abort the pass.
func (o *Orchestrator) SyncAccountsForUser(ctx context.Context, enr *enrollment.Enrollment, token string) (*AccountSyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "sync.accounts")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", enr.UserID),
		attribute.String("enrollment.id", enr.ID),
	)

	remote, err := o.gateway.FetchAccounts(ctx, enr.UserID, token)
	if err != nil {
		o.handleCredentialFailure(ctx, enr.ID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	result := &AccountSyncResult{}
	for _, ra := range remote {
		if ra.ID == "" {
			result.Skipped++
			log.Printf("User %d: skipping upstream account without id (name=%q)", enr.UserID, ra.Name)
			continue
		}

		acc, created, err := o.upsertAccount(ctx, enr, token, ra)
		if err != nil {
			if apperr.IsCredentialFailure(err) {
				o.handleCredentialFailure(ctx, enr.ID, err)
				return result, err
			}
			result.Skipped++
			log.Printf("User %d: failed to upsert account %s: %v", enr.UserID, ra.ID, err)
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}

		if err := o.syncBalance(ctx, acc, token); err != nil {
			if apperr.IsCredentialFailure(err) {
				o.handleCredentialFailure(ctx, enr.ID, err)
				return result, err
			}
			result.BalanceFailures++
		}
		result.Accounts = append(result.Accounts, acc)
	}

	if _, err := o.accounts.EnsurePrimary(ctx, enr.UserID); err != nil {
		log.Printf("User %d: failed to ensure primary account: %v", enr.UserID, err)
	}
	if err := o.enrollments.TouchLastSync(ctx, enr.ID, o.clock.Now()); err != nil {
		log.Printf("Enrollment %s: failed to stamp last sync: %v", enr.ID, err)
	}

	log.Printf("User %d: account sync for enrollment %s: found=%d created=%d updated=%d skipped=%d balance_failures=%d",
		enr.UserID, enr.ID, len(remote), result.Created, result.Updated, result.Skipped, result.BalanceFailures)
	return result, nil
}

func (o *Orchestrator) upsertAccount(ctx context.Context, enr *enrollment.Enrollment, token string, ra teller.Account) (*account.Account, bool, error) {
	params := account.UpsertParams{
		UserID:          enr.UserID,
		EnrollmentID:    enr.ID,
		ExternalID:      ra.ID,
		Name:            ra.Name,
		Type:            ra.Type,
		Subtype:         ra.Subtype,
		InstitutionName: ra.Institution.Name,
		Currency:        ra.Currency,
	}
	if params.InstitutionName == "" {
		params.InstitutionName = enr.InstitutionName
	}
	if params.Name == "" {
		params.Name = fmt.Sprintf("%s %s", params.InstitutionName, ra.Subtype)
	}
	if ra.LastFour != "" {
		params.MaskedNumber = "****" + ra.LastFour
	}

	details, err := o.gateway.FetchAccountDetails(ctx, enr.UserID, token, ra.ID)
	switch {
	case err == nil:
		if masked := details.MaskedNumber(); masked != "" {
			params.MaskedNumber = masked
		}
		params.RoutingNumber = details.RoutingNumbers.ACH
	case apperr.IsCredentialFailure(err):
		return nil, false, err
	default:
		// details are optional for some account types
		log.Printf("User %d: no details for account %s: %v", enr.UserID, ra.ID, err)
	}

	return o.accounts.UpsertFromSync(ctx, params)
}

// syncBalance stores a fresh balance, or zeroes the balances and marks the
// account balance_failed when the upstream figure cannot be trusted.
func (o *Orchestrator) syncBalance(ctx context.Context, acc *account.Account, token string) error {
	balance, err := o.gateway.FetchBalance(ctx, acc.UserID, token, acc.ExternalID)
	if err != nil {
		note := failureNote("Balance refresh", err)
		if setErr := o.accounts.SetBalances(ctx, acc.ID, account.ZeroBalances()); setErr != nil {
			log.Printf("User %d: failed to zero balances of account %s: %v", acc.UserID, acc.ID, setErr)
		}
		o.setState(ctx, acc, account.SyncState{Status: account.SyncBalanceFailed, Notes: note})
		zero := account.ZeroBalances()
		acc.CurrentBalance, acc.AvailableBalance = zero.Current, zero.Available
		return err
	}

	balances := account.Balances{Current: balance.Ledger, Available: balance.Available}
	if err := o.accounts.SetBalances(ctx, acc.ID, balances); err != nil {
		return fmt.Errorf("failed to store balance: %w", err)
	}
	acc.CurrentBalance, acc.AvailableBalance = balances.Current, balances.Available

	if acc.SyncStatus == account.SyncBalanceFailed {
		o.setState(ctx, acc, account.SyncState{Status: account.SyncPending, Notes: "Balance refreshed"})
	}
	return nil
}

// TransactionSyncResult reports one account's transaction sync.
type TransactionSyncResult struct {
	AccountID string
	From      time.Time
	To        time.Time
	Fetched   int
	Created   int
	Updated   int
	Skipped   int
	Invalid   []string
}

// SyncTransactionsForAccount fetches the incremental window for acc and
// reconciles each transaction in upstream order. On failure the account is
// marked failed with a diagnostic note and the error is returned.
func (o *Orchestrator) SyncTransactionsForAccount(ctx context.Context, acc *account.Account, token string) (*TransactionSyncResult, error) {
	ctx, span := syncTracer.Start(ctx, "sync.transactions")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("user.id", acc.UserID),
		attribute.String("account.id", acc.ID),
	)

	degradedNote := ""
	if acc.SyncStatus == account.SyncBalanceFailed {
		degradedNote = acc.Notes
	}

	o.setState(ctx, acc, account.SyncState{Status: account.SyncSyncing, Notes: "Sync in progress"})

	now := o.clock.Now()
	from, to := o.opts.Window.Compute(now, acc.LastSyncAt)
	result := &TransactionSyncResult{AccountID: acc.ID, From: from, To: to}

	txs, err := o.gateway.FetchTransactions(ctx, acc.UserID, token, acc.ExternalID, teller.TransactionQuery{
		FromDate: from,
		ToDate:   to,
		Count:    o.opts.TransactionCount,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, o.failAccount(ctx, acc, token, err)
	}
	result.Fetched = len(txs)

	for _, tx := range txs {
		params, err := toUpsertParams(acc, tx)
		if err != nil {
			result.Invalid = append(result.Invalid, fmt.Sprintf("%s: %v", tx.ID, err))
			transactionsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "invalid")))
			continue
		}

		outcome, err := o.transactions.Reconcile(ctx, params)
		if errors.Is(err, transaction.ErrOwnershipConflict) {
			result.Invalid = append(result.Invalid, err.Error())
			transactionsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "conflict")))
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, o.failAccount(ctx, acc, token, err)
		}

		switch outcome {
		case transaction.OutcomeCreated:
			result.Created++
		case transaction.OutcomeUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
		transactionsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", string(outcome))))
	}

	finished := o.clock.Now()
	state := account.SyncState{
		Status: account.SyncSuccess,
		Notes: fmt.Sprintf("Synced %d transactions (%d new, %d updated, %d unchanged)",
			result.Fetched, result.Created, result.Updated, result.Skipped),
		LastSyncAt: &finished,
	}
	if len(result.Invalid) > 0 {
		state.Notes += fmt.Sprintf("; %d rejected", len(result.Invalid))
	}
	if degradedNote != "" {
		state.Status = account.SyncBalanceFailed
		state.Notes = degradedNote + "; " + state.Notes
	}
	o.setState(ctx, acc, state)
	acc.LastSyncAt = &finished
	accountSyncCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", state.Status)))

	log.Printf("User %d: account %s synced %s..%s: fetched=%d created=%d updated=%d skipped=%d invalid=%d",
		acc.UserID, acc.ID, from.Format("2006-01-02"), to.Format("2006-01-02"),
		result.Fetched, result.Created, result.Updated, result.Skipped, len(result.Invalid))
	return result, nil
}

// failAccount records a failed transaction sync and runs the compensating
// step for the error kind. The original error is always returned.
func (o *Orchestrator) failAccount(ctx context.Context, acc *account.Account, token string, cause error) error {
	log.Printf("User %d: transaction sync failed for account %s: %v", acc.UserID, acc.ID, cause)

	switch {
	case apperr.IsCredentialFailure(cause):
		o.setState(ctx, acc, account.SyncState{Status: account.SyncFailed, Notes: failureNote("Transaction sync", cause)})
		o.handleCredentialFailure(ctx, acc.EnrollmentID, cause)

	case apperr.IsKind(cause, apperr.KindNotFound):
		if o.stillUpstream(ctx, acc, token) {
			o.setState(ctx, acc, account.SyncState{Status: account.SyncFailed, Notes: failureNote("Transaction sync", cause)})
			break
		}
		o.setState(ctx, acc, account.SyncState{
			Status: account.SyncDisconnected,
			Notes:  "Account is no longer available at the bank",
		})

	default:
		o.setState(ctx, acc, account.SyncState{Status: account.SyncFailed, Notes: failureNote("Transaction sync", cause)})
	}

	accountSyncCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", acc.SyncStatus)))
	return cause
}

// stillUpstream purges the user's cached state and refetches the account
// list once. Any failure of the refetch is treated as "still present" so a
// transient outage never disconnects an account.
func (o *Orchestrator) stillUpstream(ctx context.Context, acc *account.Account, token string) bool {
	o.gateway.InvalidateUser(acc.UserID)

	remote, err := o.gateway.FetchAccounts(ctx, acc.UserID, token)
	if err != nil {
		log.Printf("User %d: account list refetch after not-found failed: %v", acc.UserID, err)
		return true
	}
	return slices.ContainsFunc(remote, func(ra teller.Account) bool {
		return ra.ID == acc.ExternalID
	})
}

// handleCredentialFailure marks the enrollment expired and notifies its
// owner, once per transition.
func (o *Orchestrator) handleCredentialFailure(ctx context.Context, enrollmentID string, cause error) {
	if !apperr.IsCredentialFailure(cause) || enrollmentID == "" {
		return
	}

	o.credMu.Lock()
	defer o.credMu.Unlock()

	enr, err := o.enrollments.Get(ctx, enrollmentID)
	if err != nil {
		log.Printf("Enrollment %s: failed to load after credential failure: %v", enrollmentID, err)
		return
	}
	if !enr.IsActive() {
		return
	}

	if err := o.enrollments.MarkExpired(ctx, enrollmentID, string(apperr.KindOf(cause))); err != nil {
		log.Printf("Enrollment %s: failed to mark expired: %v", enrollmentID, err)
		return
	}
	enr.Status = enrollment.StatusExpired
	o.gateway.InvalidateUser(enr.UserID)

	title, body := o.messages.EnrollmentExpired.Render(enr.InstitutionName, enr.Status)
	o.notify(ctx, enr.UserID, notification.CategoryEnrollment, title, body, map[string]string{"enrollment_id": enr.ID})
}

func (o *Orchestrator) notify(ctx context.Context, userID int64, category, title, body string, data map[string]string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.SendToUser(ctx, userID, title, body, category, data); err != nil {
		log.Printf("User %d: failed to send notification: %v", userID, err)
	}
}

func (o *Orchestrator) setState(ctx context.Context, acc *account.Account, state account.SyncState) {
	if err := o.accounts.SetSyncState(ctx, acc.ID, state); err != nil {
		log.Printf("User %d: failed to set account %s status %s: %v", acc.UserID, acc.ID, state.Status, err)
		return
	}
	acc.SyncStatus = state.Status
	acc.Notes = state.Notes
	if state.Status == account.SyncDisconnected {
		acc.IsActive = false
	}
}

func toUpsertParams(acc *account.Account, tx teller.Transaction) (transaction.UpsertParams, error) {
	if tx.ID == "" {
		return transaction.UpsertParams{}, errors.New("missing transaction id")
	}
	if !tx.Amount.Valid {
		return transaction.UpsertParams{}, transaction.ErrMissingAmount
	}
	date, err := tx.ParseDate()
	if err != nil {
		return transaction.UpsertParams{}, fmt.Errorf("invalid date %q: %w", tx.Date, err)
	}
	if date == nil {
		return transaction.UpsertParams{}, errors.New("missing transaction date")
	}

	amount, typ := transaction.NormalizeAmount(tx.Amount.Decimal)
	status := transaction.NormalizeStatus(tx.Status)

	params := transaction.UpsertParams{
		ExternalID:      tx.ID,
		AccountID:       acc.ID,
		UserID:          acc.UserID,
		Amount:          amount,
		Type:            typ,
		Description:     tx.Description,
		TransactionDate: *date,
		Category:        tx.Details.Category,
		MerchantName:    tx.Details.Counterparty.Name,
		Status:          status,
	}
	if status == transaction.StatusPosted {
		posted := *date
		params.PostedDate = &posted
	}
	return params, nil
}

// failureNote is the human-readable diagnostic stored on the account.
func failureNote(stage string, err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized, apperr.KindForbidden:
		return stage + " failed: bank credential rejected, reconnect required"
	case apperr.KindNotFound:
		return stage + " failed: account not found at the bank"
	case apperr.KindServiceUnavailable:
		return stage + " failed: bank temporarily unavailable, will retry on next pass"
	case apperr.KindMalformedResponse:
		return stage + " failed: unexpected response from the bank"
	case apperr.KindRateLimited:
		return stage + " deferred: request rate limit reached, will retry on next pass"
	default:
		return stage + " failed: internal error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
