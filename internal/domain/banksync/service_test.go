package banksync

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/domain/notification"
	"bankfeed/internal/infrastructure/teller"
	"bankfeed/internal/shared/apperr"
)

func TestService_SyncUser(t *testing.T) {
	expired := activeEnrollment("enr_2", 7)
	expired.Status = enrollment.StatusExpired
	h := newHarness(activeEnrollment("enr_1", 7), expired, activeEnrollment("enr_3", 8))

	fetched := map[string]int{}
	h.gateway.FetchAccountsFunc = func(ctx context.Context, userID int64, token string) ([]teller.Account, error) {
		fetched[token]++
		return remoteAccounts("ext_a", "ext_b"), nil
	}
	h.gateway.FetchTransactionsFunc = func(ctx context.Context, userID int64, token, accountID string, q teller.TransactionQuery) ([]teller.Transaction, error) {
		if accountID == "ext_b" {
			return nil, apperr.New(apperr.KindServiceUnavailable, "test", "503")
		}
		return []teller.Transaction{
			tellerTx("tx_1", accountID, "-5", "2024-06-10", "posted"),
			tellerTx("tx_2", accountID, "-6", "2024-06-11", "posted"),
		}, nil
	}

	summary, err := h.svc.SyncUser(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"token-enr_1": 1}, fetched)
	assert.Equal(t, 1, summary.AccountsSynced)
	assert.Equal(t, 2, summary.TransactionsSynced)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], string(apperr.KindServiceUnavailable))
}

func TestService_SyncUser_NoEnrollments(t *testing.T) {
	h := newHarness()
	summary, err := h.svc.SyncUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.AccountsSynced)
	assert.NotNil(t, summary.Errors)
}

func TestService_SyncEnrollment_NotActive(t *testing.T) {
	enr := activeEnrollment("enr_1", 7)
	enr.Status = enrollment.StatusDisconnected
	h := newHarness(enr)

	_, err := h.svc.SyncEnrollment(context.Background(), enr)
	assert.True(t, errors.Is(err, enrollment.ErrNotActive))
	assert.True(t, IsUserError(err))
}

func TestService_Link(t *testing.T) {
	h := newHarness()
	h.gateway.FetchAccountsFunc = func(ctx context.Context, userID int64, token string) ([]teller.Account, error) {
		assert.Equal(t, "tok_new", token)
		return remoteAccounts("ext_a"), nil
	}

	enr, err := h.svc.Link(context.Background(), enrollment.LinkParams{
		ID:              "enr_new",
		UserID:          7,
		AccessToken:     "tok_new",
		InstitutionName: "First Bank",
	})
	require.NoError(t, err)
	assert.Equal(t, "enr_new", enr.ID)

	accs, _ := h.accounts.ListAccounts(context.Background(), 7)
	assert.Len(t, accs, 1)
	require.Equal(t, 1, h.notifier.count())
	assert.Equal(t, "enr_new", h.notifier.sent[0].Data["enrollment_id"])
	assert.Equal(t, notification.CategorySync, h.notifier.sent[0].Category)
	assert.Contains(t, h.gateway.invalidatedUsers, int64(7))
}

func TestService_RelinkReactivatesDisconnectedAccounts(t *testing.T) {
	h := newHarness(activeEnrollment("enr_1", 7))
	h.gateway.FetchAccountsFunc = func(ctx context.Context, userID int64, token string) ([]teller.Account, error) {
		return remoteAccounts("ext_a"), nil
	}
	var fetched []string
	h.gateway.FetchTransactionsFunc = func(ctx context.Context, userID int64, token, accountID string, q teller.TransactionQuery) ([]teller.Transaction, error) {
		fetched = append(fetched, token+"/"+accountID)
		return []teller.Transaction{tellerTx("tx_"+token, accountID, "-3", "2024-06-12", "posted")}, nil
	}

	_, err := h.svc.SyncEnrollmentByID(context.Background(), "enr_1")
	require.NoError(t, err)
	accs, _ := h.accounts.ListAccounts(context.Background(), 7)
	require.Len(t, accs, 1)
	accID := accs[0].ID

	_, err = h.accounts.DisconnectEnrollment(context.Background(), "enr_1", "Disconnected by the bank")
	require.NoError(t, err)
	require.NoError(t, h.enrollments.MarkDisconnected(context.Background(), "enr_1", "disconnected"))
	require.False(t, h.accounts.get(accID).IsActive)

	_, err = h.svc.Link(context.Background(), enrollment.LinkParams{
		ID:              "enr_1",
		UserID:          7,
		AccessToken:     "tok_relinked",
		InstitutionName: "First Bank",
	})
	require.NoError(t, err)

	acc := h.accounts.get(accID)
	assert.True(t, acc.IsActive)
	assert.Equal(t, account.SyncSuccess, acc.SyncStatus)
	assert.NotContains(t, acc.Notes, "Disconnected")
	assert.Equal(t, []string{"token-enr_1/ext_a", "tok_relinked/ext_a"}, fetched)
}

func TestService_Link_Invalid(t *testing.T) {
	h := newHarness()
	_, err := h.svc.Link(context.Background(), enrollment.LinkParams{ID: "enr_new", UserID: 7})
	assert.Error(t, err)
	assert.Equal(t, 0, h.notifier.count())
}

func TestService_RefreshBalance(t *testing.T) {
	h := newHarness(activeEnrollment("enr_1", 7))
	h.accounts.add(&account.Account{ID: "acc-1", UserID: 7, EnrollmentID: "enr_1", ExternalID: "ext_a", IsActive: true})
	h.gateway.FetchBalanceFunc = func(ctx context.Context, userID int64, token, accountID string) (*teller.Balance, error) {
		return &teller.Balance{AccountID: accountID, Ledger: decimal.RequireFromString("42.00")}, nil
	}

	acc, err := h.svc.RefreshBalance(context.Background(), "acc-1", 7)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("42").Equal(acc.CurrentBalance))
	assert.Equal(t, []string{"ext_a"}, h.gateway.invalidatedBalances)

	_, err = h.svc.RefreshBalance(context.Background(), "acc-1", 8)
	assert.True(t, errors.Is(err, account.ErrForbidden))
}

func TestService_RefreshBalance_CredentialFailure(t *testing.T) {
	h := newHarness(activeEnrollment("enr_1", 7))
	h.accounts.add(&account.Account{ID: "acc-1", UserID: 7, EnrollmentID: "enr_1", ExternalID: "ext_a", IsActive: true})
	h.gateway.FetchBalanceFunc = func(ctx context.Context, userID int64, token, accountID string) (*teller.Balance, error) {
		return nil, apperr.New(apperr.KindUnauthorized, "test", "revoked")
	}

	_, err := h.svc.RefreshBalance(context.Background(), "acc-1", 7)
	require.Error(t, err)

	enr, _ := h.enrollments.Get(context.Background(), "enr_1")
	assert.Equal(t, enrollment.StatusExpired, enr.Status)
	assert.Equal(t, account.SyncBalanceFailed, h.accounts.get("acc-1").SyncStatus)
}

func TestService_DisconnectAccount(t *testing.T) {
	h := newHarness(activeEnrollment("enr_1", 7))
	h.accounts.add(&account.Account{ID: "acc-1", UserID: 7, EnrollmentID: "enr_1", ExternalID: "ext_a", IsActive: true})
	h.accounts.add(&account.Account{ID: "acc-2", UserID: 7, EnrollmentID: "enr_1", ExternalID: "ext_b", IsActive: true})

	require.NoError(t, h.svc.DisconnectAccount(context.Background(), "acc-1", 7))
	assert.Empty(t, h.enrollments.deleted)

	require.NoError(t, h.svc.DisconnectAccount(context.Background(), "acc-2", 7))
	assert.Equal(t, []string{"enr_1"}, h.enrollments.deleted)
	assert.Len(t, h.gateway.invalidatedUsers, 2)

	err := h.svc.DisconnectAccount(context.Background(), "acc-2", 7)
	assert.True(t, errors.Is(err, account.ErrAccountNotFound))
	assert.True(t, IsUserError(err))
}
