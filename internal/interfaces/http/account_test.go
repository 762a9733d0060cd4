package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/shared/apperr"
)

func TestHandleListAccounts(t *testing.T) {
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name           string
		method         string
		withUser       bool
		lister         *MockAccountLister
		expectedStatus int
		expectedCount  int
	}{
		{
			name:     "Success",
			method:   http.MethodGet,
			withUser: true,
			lister: &MockAccountLister{
				ListAccountsFunc: func(ctx context.Context, userID int64) ([]*account.Account, error) {
					return []*account.Account{
						{ID: "acc-1", UserID: userID, Name: "Checking", CurrentBalance: decimal.RequireFromString("10.5"), CreatedAt: created},
						{ID: "acc-2", UserID: userID, Name: "Savings", CreatedAt: created},
					}, nil
				},
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "Empty List",
			method:         http.MethodGet,
			withUser:       true,
			lister:         &MockAccountLister{},
			expectedStatus: http.StatusOK,
		},
		{
			name:     "Service Error",
			method:   http.MethodGet,
			withUser: true,
			lister: &MockAccountLister{
				ListAccountsFunc: func(ctx context.Context, userID int64) ([]*account.Account, error) {
					return nil, errors.New("db error")
				},
			},
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "Unauthenticated",
			method:         http.MethodGet,
			lister:         &MockAccountLister{},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong Method",
			method:         http.MethodPost,
			withUser:       true,
			lister:         &MockAccountLister{},
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAccountHandler(tt.lister, &MockAccountSyncer{})

			req := httptest.NewRequest(tt.method, "/api/accounts", nil)
			if tt.withUser {
				req = withUser(req, 1)
			}
			rr := httptest.NewRecorder()
			handler.HandleListAccounts(rr, req)

			require.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var got []AccountResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Len(t, got, tt.expectedCount)
			if tt.expectedCount > 0 {
				assert.Equal(t, "10.50", got[0].CurrentBalance)
				assert.Nil(t, got[0].AvailableBalance)
				assert.Equal(t, "2024-06-01T00:00:00Z", got[0].CreatedAt)
			}
		})
	}
}

func TestHandleAccountByID_Delete(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"Success", nil, http.StatusNoContent},
		{"Not Found", account.ErrAccountNotFound, http.StatusNotFound},
		{"Forbidden", account.ErrForbidden, http.StatusForbidden},
		{"Store Failure", errors.New("db error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID string
			var gotUser int64
			syncer := &MockAccountSyncer{
				DisconnectAccountFunc: func(ctx context.Context, accountID string, userID int64) error {
					gotID, gotUser = accountID, userID
					return tt.err
				},
			}
			mux := http.NewServeMux()
			mux.HandleFunc("/api/accounts/{id}", NewAccountHandler(&MockAccountLister{}, syncer).HandleAccountByID)

			req := withUser(httptest.NewRequest(http.MethodDelete, "/api/accounts/acc-7", nil), 3)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "acc-7", gotID)
			assert.Equal(t, int64(3), gotUser)
		})
	}
}

func TestHandleAccountByID_MethodNotAllowed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/accounts/{id}", NewAccountHandler(&MockAccountLister{}, &MockAccountSyncer{}).HandleAccountByID)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPut, "/api/accounts/acc-1", nil), 1))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleRefreshBalance(t *testing.T) {
	tests := []struct {
		name           string
		result         *account.Account
		err            error
		expectedStatus int
	}{
		{
			name: "Success",
			result: &account.Account{
				ID:               "acc-1",
				CurrentBalance:   decimal.RequireFromString("42"),
				AvailableBalance: decimal.NewNullDecimal(decimal.RequireFromString("40.1")),
			},
			expectedStatus: http.StatusOK,
		},
		{name: "Not Found", err: account.ErrAccountNotFound, expectedStatus: http.StatusNotFound},
		{name: "Enrollment Inactive", err: enrollment.ErrNotActive, expectedStatus: http.StatusConflict},
		{name: "Credential Rejected", err: apperr.New(apperr.KindUnauthorized, "teller.balance", "revoked"), expectedStatus: http.StatusUnauthorized},
		{name: "Upstream Down", err: apperr.New(apperr.KindServiceUnavailable, "teller.balance", "503"), expectedStatus: http.StatusServiceUnavailable},
		{name: "Rate Limited", err: apperr.New(apperr.KindRateLimited, "ratelimit", "user ceiling"), expectedStatus: http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &MockAccountSyncer{
				RefreshBalanceFunc: func(ctx context.Context, accountID string, userID int64) (*account.Account, error) {
					return tt.result, tt.err
				},
			}
			mux := http.NewServeMux()
			mux.HandleFunc("/api/accounts/{id}/balance", NewAccountHandler(&MockAccountLister{}, syncer).HandleRefreshBalance)

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/api/accounts/acc-1/balance", nil), 1))

			require.Equal(t, tt.expectedStatus, rr.Code)
			if tt.result != nil {
				var got AccountResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, "42.00", got.CurrentBalance)
				require.NotNil(t, got.AvailableBalance)
				assert.Equal(t, "40.10", *got.AvailableBalance)
			}
		})
	}
}

func TestStatusFor_HidesInternalDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, "test", errors.New("pq: connection refused to 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")
}
