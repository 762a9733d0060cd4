package banksync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/domain/transaction"
	"bankfeed/internal/domain/webhook"
	"bankfeed/internal/infrastructure/teller"
	"bankfeed/internal/shared/apperr"
	"bankfeed/internal/shared/clock"
	"bankfeed/internal/shared/messages"
)

// MockGateway implements teller.GatewayInterface
type MockGateway struct {
	FetchAccountsFunc       func(ctx context.Context, userID int64, token string) ([]teller.Account, error)
	FetchTransactionsFunc   func(ctx context.Context, userID int64, token, accountID string, q teller.TransactionQuery) ([]teller.Transaction, error)
	FetchBalanceFunc        func(ctx context.Context, userID int64, token, accountID string) (*teller.Balance, error)
	FetchAccountDetailsFunc func(ctx context.Context, userID int64, token, accountID string) (*teller.AccountDetails, error)

	mu                     sync.Mutex
	invalidatedUsers       []int64
	invalidatedBalances    []string
	invalidatedTransaction []string
}

var _ teller.GatewayInterface = (*MockGateway)(nil)

func (m *MockGateway) FetchAccounts(ctx context.Context, userID int64, token string) ([]teller.Account, error) {
	if m.FetchAccountsFunc != nil {
		return m.FetchAccountsFunc(ctx, userID, token)
	}
	return nil, nil
}

func (m *MockGateway) FetchTransactions(ctx context.Context, userID int64, token, accountID string, q teller.TransactionQuery) ([]teller.Transaction, error) {
	if m.FetchTransactionsFunc != nil {
		return m.FetchTransactionsFunc(ctx, userID, token, accountID, q)
	}
	return nil, nil
}

func (m *MockGateway) FetchBalance(ctx context.Context, userID int64, token, accountID string) (*teller.Balance, error) {
	if m.FetchBalanceFunc != nil {
		return m.FetchBalanceFunc(ctx, userID, token, accountID)
	}
	return &teller.Balance{AccountID: accountID, Ledger: decimal.NewFromInt(100)}, nil
}

func (m *MockGateway) FetchAccountDetails(ctx context.Context, userID int64, token, accountID string) (*teller.AccountDetails, error) {
	if m.FetchAccountDetailsFunc != nil {
		return m.FetchAccountDetailsFunc(ctx, userID, token, accountID)
	}
	return nil, apperr.New(apperr.KindNotFound, "test", "no details")
}

func (m *MockGateway) InvalidateUser(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidatedUsers = append(m.invalidatedUsers, userID)
	return 0
}

func (m *MockGateway) InvalidateBalance(userID int64, accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidatedBalances = append(m.invalidatedBalances, accountID)
	return 0
}

func (m *MockGateway) InvalidateTransactions(userID int64, accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidatedTransaction = append(m.invalidatedTransaction, accountID)
	return 0
}

// memAccounts is an in-memory AccountStore
type memAccounts struct {
	mu       sync.Mutex
	byID     map[string]*account.Account
	seq      int
	balances map[string]account.Balances
	// SetBalancesErr fails every SetBalances call when set
	SetBalancesErr error
}

var _ AccountStore = (*memAccounts)(nil)

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[string]*account.Account), balances: make(map[string]account.Balances)}
}

func (m *memAccounts) add(acc *account.Account) *account.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	}
	m.byID[acc.ID] = acc
	return acc
}

func (m *memAccounts) get(id string) *account.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		cp := *a
		return &cp
	}
	return nil
}

func (m *memAccounts) UpsertFromSync(_ context.Context, p account.UpsertParams) (*account.Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.UserID == p.UserID && a.ExternalID == p.ExternalID {
			a.Name, a.EnrollmentID, a.InstitutionName = p.Name, p.EnrollmentID, p.InstitutionName
			if p.MaskedNumber != "" {
				a.MaskedNumber = p.MaskedNumber
			}
			// mirrors the postgres upsert: listed upstream means active
			a.IsActive = true
			if a.SyncStatus == account.SyncDisconnected {
				a.SyncStatus, a.Notes = account.SyncPending, ""
			}
			cp := *a
			return &cp, false, nil
		}
	}
	m.seq++
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}
	a := &account.Account{
		ID:              fmt.Sprintf("acc-%d", m.seq),
		UserID:          p.UserID,
		EnrollmentID:    p.EnrollmentID,
		ExternalID:      p.ExternalID,
		Name:            p.Name,
		Type:            p.Type,
		InstitutionName: p.InstitutionName,
		MaskedNumber:    p.MaskedNumber,
		Currency:        currency,
		SyncStatus:      account.SyncPending,
		IsActive:        true,
		CreatedAt:       time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC),
	}
	m.byID[a.ID] = a
	cp := *a
	return &cp, true, nil
}

func (m *memAccounts) GetAccount(_ context.Context, accountID string, userID int64) (*account.Account, error) {
	a := m.get(accountID)
	if a == nil {
		return nil, account.ErrAccountNotFound
	}
	if a.UserID != userID {
		return nil, account.ErrForbidden
	}
	return a, nil
}

func (m *memAccounts) list(keep func(*account.Account) bool) []*account.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*account.Account
	for _, a := range m.byID {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memAccounts) ListAccounts(_ context.Context, userID int64) ([]*account.Account, error) {
	return m.list(func(a *account.Account) bool { return a.UserID == userID }), nil
}

func (m *memAccounts) ListByEnrollment(_ context.Context, enrollmentID string) ([]*account.Account, error) {
	return m.list(func(a *account.Account) bool { return a.EnrollmentID == enrollmentID }), nil
}

func (m *memAccounts) ListByExternalIDs(_ context.Context, externalIDs []string) ([]*account.Account, error) {
	want := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		want[id] = true
	}
	return m.list(func(a *account.Account) bool { return want[a.ExternalID] }), nil
}

func (m *memAccounts) SetSyncState(_ context.Context, accountID string, state account.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[accountID]
	if !ok {
		return account.ErrAccountNotFound
	}
	a.SyncStatus, a.Notes = state.Status, state.Notes
	if state.LastSyncAt != nil {
		a.LastSyncAt = state.LastSyncAt
	}
	if state.Status == account.SyncDisconnected {
		a.IsActive = false
	}
	return nil
}

func (m *memAccounts) SetBalances(_ context.Context, accountID string, b account.Balances) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetBalancesErr != nil {
		return m.SetBalancesErr
	}
	a, ok := m.byID[accountID]
	if !ok {
		return account.ErrAccountNotFound
	}
	a.CurrentBalance, a.AvailableBalance = b.Current, b.Available
	m.balances[accountID] = b
	return nil
}

func (m *memAccounts) SetVerificationStatus(_ context.Context, accountID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[accountID]
	if !ok {
		return account.ErrAccountNotFound
	}
	a.VerificationStatus = status
	return nil
}

func (m *memAccounts) DisconnectEnrollment(_ context.Context, enrollmentID, note string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.byID {
		if a.EnrollmentID == enrollmentID && a.IsActive {
			a.IsActive = false
			a.SyncStatus = account.SyncDisconnected
			a.Notes = note
			n++
		}
	}
	return n, nil
}

func (m *memAccounts) EnsurePrimary(_ context.Context, userID int64) (*account.Account, error) {
	return nil, nil
}

func (m *memAccounts) RemoveAccount(ctx context.Context, accountID string, userID int64) (*account.Account, error) {
	a, err := m.GetAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	delete(m.byID, accountID)
	m.mu.Unlock()
	return a, nil
}

// memTransactions is an in-memory TransactionStore keyed by external id
type memTransactions struct {
	mu   sync.Mutex
	rows map[string]transaction.UpsertParams
	// ReconcileFunc overrides Reconcile when set
	ReconcileFunc func(ctx context.Context, p transaction.UpsertParams) (transaction.Outcome, error)
}

var _ TransactionStore = (*memTransactions)(nil)

func newMemTransactions() *memTransactions {
	return &memTransactions{rows: make(map[string]transaction.UpsertParams)}
}

func (m *memTransactions) Reconcile(ctx context.Context, p transaction.UpsertParams) (transaction.Outcome, error) {
	if m.ReconcileFunc != nil {
		return m.ReconcileFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[p.ExternalID]
	if !ok {
		m.rows[p.ExternalID] = p
		return transaction.OutcomeCreated, nil
	}
	if existing.AccountID != p.AccountID {
		return "", transaction.ErrOwnershipConflict
	}
	if existing.Amount.Equal(p.Amount) && existing.Status == p.Status && existing.Description == p.Description {
		return transaction.OutcomeSkipped, nil
	}
	m.rows[p.ExternalID] = p
	return transaction.OutcomeUpdated, nil
}

func (m *memTransactions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memEnrollments is an in-memory EnrollmentStore; tokens are stored as-is
type memEnrollments struct {
	mu   sync.Mutex
	byID map[string]*enrollment.Enrollment
	// expirations counts MarkExpired calls
	expirations int
	deleted     []string
}

var _ EnrollmentStore = (*memEnrollments)(nil)

func newMemEnrollments(enrs ...*enrollment.Enrollment) *memEnrollments {
	m := &memEnrollments{byID: make(map[string]*enrollment.Enrollment)}
	for _, e := range enrs {
		m.byID[e.ID] = e
	}
	return m
}

func (m *memEnrollments) Link(_ context.Context, p enrollment.LinkParams) (*enrollment.Enrollment, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &enrollment.Enrollment{
		ID:              p.ID,
		UserID:          p.UserID,
		InstitutionID:   p.InstitutionID,
		InstitutionName: p.InstitutionName,
		AccessToken:     p.AccessToken,
		Status:          enrollment.StatusActive,
	}
	m.byID[e.ID] = e
	cp := *e
	return &cp, nil
}

func (m *memEnrollments) Get(_ context.Context, id string) (*enrollment.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memEnrollments) ListByUser(_ context.Context, userID int64) ([]*enrollment.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*enrollment.Enrollment
	for _, e := range m.byID {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memEnrollments) ListActive(_ context.Context) ([]*enrollment.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*enrollment.Enrollment
	for _, e := range m.byID {
		if e.IsActive() {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memEnrollments) AccessToken(e *enrollment.Enrollment) (string, error) {
	return e.AccessToken, nil
}

func (m *memEnrollments) setStatus(id, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return enrollment.ErrEnrollmentNotFound
	}
	e.Status, e.StatusReason = status, reason
	return nil
}

func (m *memEnrollments) MarkExpired(_ context.Context, id, reason string) error {
	m.mu.Lock()
	m.expirations++
	m.mu.Unlock()
	return m.setStatus(id, enrollment.StatusExpired, reason)
}

func (m *memEnrollments) MarkDisconnected(_ context.Context, id, reason string) error {
	return m.setStatus(id, enrollment.StatusDisconnected, reason)
}

func (m *memEnrollments) TouchLastSync(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byID[id]; ok {
		e.LastSyncAt = &at
	}
	return nil
}

func (m *memEnrollments) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return enrollment.ErrEnrollmentNotFound
	}
	delete(m.byID, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type sentNotification struct {
	UserID   int64
	Title    string
	Category string
	Data     map[string]string
}

// recordingNotifier records every notification
type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) SendToUser(_ context.Context, userID int64, title, _, category string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Title: title, Category: category, Data: data})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// memEvents is an in-memory webhook.Repository
type memEvents struct {
	mu   sync.Mutex
	rows map[string]*webhook.Record
	now  func() time.Time
}

var _ webhook.Repository = (*memEvents)(nil)

func newMemEvents(c clock.Clock) *memEvents {
	return &memEvents{rows: make(map[string]*webhook.Record), now: c.Now}
}

func (m *memEvents) Log(_ context.Context, e *webhook.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.rows[e.ID]; ok {
		rec.Attempts++
		return false, nil
	}
	m.rows[e.ID] = &webhook.Record{Event: *e, ReceivedAt: m.now(), Attempts: 1}
	return true, nil
}

func (m *memEvents) Get(_ context.Context, id string) (*webhook.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, webhook.ErrEventNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memEvents) MarkProcessed(_ context.Context, id, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return webhook.ErrEventNotFound
	}
	now := m.now()
	rec.ProcessedAt, rec.Note, rec.Error = &now, note, ""
	return nil
}

func (m *memEvents) MarkFailed(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return webhook.ErrEventNotFound
	}
	now := m.now()
	rec.ProcessedAt, rec.Error = &now, errMsg
	return nil
}

// harness wires an orchestrator over in-memory stores
type harness struct {
	gateway      *MockGateway
	accounts     *memAccounts
	transactions *memTransactions
	enrollments  *memEnrollments
	notifier     *recordingNotifier
	clock        *clock.Fake
	orch         *Orchestrator
	svc          *Service
}

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newHarness(enrs ...*enrollment.Enrollment) *harness {
	h := &harness{
		gateway:      &MockGateway{},
		accounts:     newMemAccounts(),
		transactions: newMemTransactions(),
		enrollments:  newMemEnrollments(enrs...),
		notifier:     &recordingNotifier{},
		clock:        clock.NewFake(testNow),
	}
	h.orch = NewOrchestrator(h.gateway, h.accounts, h.transactions, h.enrollments, h.notifier,
		messages.Defaults(), h.clock, DefaultOptions())
	h.orch.sleep = func(context.Context, time.Duration) {}
	h.svc = NewService(h.orch)
	h.svc.background = func(fn func()) { fn() }
	return h
}

func activeEnrollment(id string, userID int64) *enrollment.Enrollment {
	return &enrollment.Enrollment{
		ID:              id,
		UserID:          userID,
		InstitutionName: "First Bank",
		AccessToken:     "token-" + id,
		Status:          enrollment.StatusActive,
	}
}

func tellerTx(id, accountID, amount, date, status string) teller.Transaction {
	return teller.Transaction{
		ID:          id,
		AccountID:   accountID,
		Amount:      decimal.NewNullDecimal(decimal.RequireFromString(amount)),
		Description: "Purchase " + id,
		Date:        date,
		Status:      status,
	}
}
