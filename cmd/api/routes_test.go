package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/webhook"
	httphandlers "bankfeed/internal/interfaces/http"
	"bankfeed/internal/shared/auth"
	"bankfeed/internal/shared/config"
)

type stubAccounts struct {
	listed int64
}

func (s *stubAccounts) ListAccounts(ctx context.Context, userID int64) ([]*account.Account, error) {
	s.listed = userID
	return []*account.Account{}, nil
}

type stubReceiver struct {
	calls int
}

func (s *stubReceiver) Receive(ctx context.Context, signature string, body []byte) (*webhook.Event, error) {
	s.calls++
	return &webhook.Event{ID: "wh_1"}, nil
}

func testDeps(accounts *stubAccounts, receiver *stubReceiver) *Dependencies {
	return &Dependencies{
		AccountHandler:      httphandlers.NewAccountHandler(accounts, nil),
		SyncHandler:         httphandlers.NewSyncHandler(nil),
		WebhookHandler:      httphandlers.NewWebhookHandler(receiver),
		NotificationHandler: httphandlers.NewNotificationHandler(nil),
		JWT:                 auth.NewJWT("test-secret"),
	}
}

func TestSetupRoutes(t *testing.T) {
	accounts := &stubAccounts{}
	receiver := &stubReceiver{}
	deps := testDeps(accounts, receiver)
	handler := SetupRoutes(deps, &config.Config{})

	token, err := deps.JWT.Generate(42, "user@example.com")
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		path       string
		token      string
		wantStatus int
	}{
		{name: "health is public", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "accounts need a token", method: http.MethodGet, path: "/api/accounts", wantStatus: http.StatusUnauthorized},
		{name: "sync needs a token", method: http.MethodPost, path: "/api/sync", wantStatus: http.StatusUnauthorized},
		{name: "balance refresh needs a token", method: http.MethodPost, path: "/api/accounts/acc_1/balance", wantStatus: http.StatusUnauthorized},
		{name: "accounts with token", method: http.MethodGet, path: "/api/accounts", token: token, wantStatus: http.StatusOK},
		{name: "webhook is public", method: http.MethodPost, path: "/api/webhooks/teller", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	assert.Equal(t, int64(42), accounts.listed)
	assert.Equal(t, 1, receiver.calls)
}

func TestSetupRoutes_HSTSWhenTLSEnabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.TLS.Enabled = true
	handler := SetupRoutes(testDeps(&stubAccounts{}, &stubReceiver{}), cfg)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestRedirectServer(t *testing.T) {
	tests := []struct {
		name         string
		host         string
		allowed      []string
		wantStatus   int
		wantLocation string
	}{
		{name: "strips port", host: "bank.example.com:80", wantStatus: http.StatusMovedPermanently, wantLocation: "https://bank.example.com/api/accounts?x=1"},
		{name: "keeps ipv6 brackets", host: "[::1]:80", wantStatus: http.StatusMovedPermanently, wantLocation: "https://[::1]/api/accounts?x=1"},
		{name: "rejects unknown host", host: "evil.example.com", allowed: []string{"bank.example.com"}, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := createRedirectServer(tt.allowed)
			req := httptest.NewRequest(http.MethodGet, "/api/accounts?x=1", nil)
			req.Host = tt.host
			w := httptest.NewRecorder()

			srv.Handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			}
		})
	}
}

func TestCanonicalHost(t *testing.T) {
	assert.Equal(t, "bank.example.com", canonicalHost("bank.example.com"))
	assert.Equal(t, "bank.example.com", canonicalHost("bank.example.com:8080"))
	assert.Equal(t, "[2001:db8::1]", canonicalHost("[2001:db8::1]:80"))
}

func TestNewServerConfigFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = "8443"
	cfg.TLS.Enabled = true
	cfg.TLS.RedirectHTTP = true

	scfg := NewServerConfigFromConfig(http.NotFoundHandler(), cfg)

	assert.Equal(t, "0.0.0.0:8443", scfg.Addr)
	assert.True(t, scfg.TLSEnabled)
	assert.True(t, scfg.RedirectHTTP)
}
