package http

import (
	"context"
	"net/http"

	"bankfeed/internal/domain/account"
	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/domain/enrollment"
	"bankfeed/internal/domain/notification"
	"bankfeed/internal/domain/webhook"
	"bankfeed/internal/shared/middleware"
)

type MockAccountLister struct {
	ListAccountsFunc func(ctx context.Context, userID int64) ([]*account.Account, error)
}

func (m *MockAccountLister) ListAccounts(ctx context.Context, userID int64) ([]*account.Account, error) {
	if m.ListAccountsFunc != nil {
		return m.ListAccountsFunc(ctx, userID)
	}
	return nil, nil
}

type MockAccountSyncer struct {
	RefreshBalanceFunc    func(ctx context.Context, accountID string, userID int64) (*account.Account, error)
	DisconnectAccountFunc func(ctx context.Context, accountID string, userID int64) error
}

func (m *MockAccountSyncer) RefreshBalance(ctx context.Context, accountID string, userID int64) (*account.Account, error) {
	if m.RefreshBalanceFunc != nil {
		return m.RefreshBalanceFunc(ctx, accountID, userID)
	}
	return &account.Account{ID: accountID, UserID: userID}, nil
}

func (m *MockAccountSyncer) DisconnectAccount(ctx context.Context, accountID string, userID int64) error {
	if m.DisconnectAccountFunc != nil {
		return m.DisconnectAccountFunc(ctx, accountID, userID)
	}
	return nil
}

type MockSyncer struct {
	SyncUserFunc func(ctx context.Context, userID int64) (*banksync.Summary, error)
	LinkFunc     func(ctx context.Context, params enrollment.LinkParams) (*enrollment.Enrollment, error)
}

func (m *MockSyncer) SyncUser(ctx context.Context, userID int64) (*banksync.Summary, error) {
	if m.SyncUserFunc != nil {
		return m.SyncUserFunc(ctx, userID)
	}
	return &banksync.Summary{Errors: []string{}}, nil
}

func (m *MockSyncer) Link(ctx context.Context, params enrollment.LinkParams) (*enrollment.Enrollment, error) {
	if m.LinkFunc != nil {
		return m.LinkFunc(ctx, params)
	}
	return &enrollment.Enrollment{ID: params.ID, UserID: params.UserID, Status: enrollment.StatusActive}, nil
}

type MockWebhookReceiver struct {
	ReceiveFunc func(ctx context.Context, signature string, body []byte) (*webhook.Event, error)
}

func (m *MockWebhookReceiver) Receive(ctx context.Context, signature string, body []byte) (*webhook.Event, error) {
	if m.ReceiveFunc != nil {
		return m.ReceiveFunc(ctx, signature, body)
	}
	return &webhook.Event{ID: "wh_1"}, nil
}

type MockNotificationService struct {
	RegisterDeviceFunc    func(ctx context.Context, params notification.RegisterDeviceParams) (*notification.Device, error)
	ListNotificationsFunc func(ctx context.Context, userID int64, page, perPage int) (*notification.Page, error)
	MarkReadFunc          func(ctx context.Context, userID int64, ids []string) (int64, error)
}

func (m *MockNotificationService) RegisterDevice(ctx context.Context, params notification.RegisterDeviceParams) (*notification.Device, error) {
	if m.RegisterDeviceFunc != nil {
		return m.RegisterDeviceFunc(ctx, params)
	}
	return &notification.Device{Token: params.Token, DeviceType: params.DeviceType, IsActive: true}, nil
}

func (m *MockNotificationService) ListNotifications(ctx context.Context, userID int64, page, perPage int) (*notification.Page, error) {
	if m.ListNotificationsFunc != nil {
		return m.ListNotificationsFunc(ctx, userID, page, perPage)
	}
	return &notification.Page{Page: page, PerPage: perPage}, nil
}

func (m *MockNotificationService) MarkRead(ctx context.Context, userID int64, ids []string) (int64, error) {
	if m.MarkReadFunc != nil {
		return m.MarkReadFunc(ctx, userID, ids)
	}
	return 0, nil
}

func withUser(r *http.Request, userID int64) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, userID))
}
