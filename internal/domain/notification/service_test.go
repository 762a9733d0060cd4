package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankfeed/internal/shared/apperr"
)

// MockRepository is a mock implementation of Repository
type MockRepository struct {
	SaveDeviceFunc      func(ctx context.Context, params RegisterDeviceParams) (*Device, error)
	ActiveDevicesFunc   func(ctx context.Context, userID int64) ([]*Device, error)
	DeactivateTokenFunc func(ctx context.Context, token string) error
	StoreFunc           func(ctx context.Context, params StoreParams) (*Notification, error)
	ListFunc            func(ctx context.Context, userID int64, page, perPage int) (*Page, error)
	MarkReadFunc        func(ctx context.Context, userID int64, ids []string) (int64, error)
}

func (m *MockRepository) SaveDevice(ctx context.Context, params RegisterDeviceParams) (*Device, error) {
	if m.SaveDeviceFunc != nil {
		return m.SaveDeviceFunc(ctx, params)
	}
	return &Device{UserID: params.UserID, Token: params.Token, DeviceType: params.DeviceType, IsActive: true}, nil
}

func (m *MockRepository) ActiveDevices(ctx context.Context, userID int64) ([]*Device, error) {
	if m.ActiveDevicesFunc != nil {
		return m.ActiveDevicesFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockRepository) DeactivateToken(ctx context.Context, token string) error {
	if m.DeactivateTokenFunc != nil {
		return m.DeactivateTokenFunc(ctx, token)
	}
	return nil
}

func (m *MockRepository) Store(ctx context.Context, params StoreParams) (*Notification, error) {
	if m.StoreFunc != nil {
		return m.StoreFunc(ctx, params)
	}
	return &Notification{ID: params.ID}, nil
}

func (m *MockRepository) List(ctx context.Context, userID int64, page, perPage int) (*Page, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, userID, page, perPage)
	}
	return &Page{Page: page, PerPage: perPage}, nil
}

func (m *MockRepository) MarkRead(ctx context.Context, userID int64, ids []string) (int64, error) {
	if m.MarkReadFunc != nil {
		return m.MarkReadFunc(ctx, userID, ids)
	}
	return int64(len(ids)), nil
}

// MockMessenger records multicast sends
type MockMessenger struct {
	calls  int
	tokens []string
	data   map[string]string
	err    error
}

func (m *MockMessenger) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	m.calls++
	m.tokens = tokens
	m.data = data
	return m.err
}

func devices(tokens ...string) func(context.Context, int64) ([]*Device, error) {
	return func(context.Context, int64) ([]*Device, error) {
		out := make([]*Device, len(tokens))
		for i, t := range tokens {
			out[i] = &Device{Token: t, IsActive: true}
		}
		return out, nil
	}
}

func TestSendToUser(t *testing.T) {
	var stored StoreParams
	repo := &MockRepository{
		StoreFunc: func(ctx context.Context, params StoreParams) (*Notification, error) {
			stored = params
			return &Notification{ID: params.ID}, nil
		},
		ActiveDevicesFunc: devices("tok-a", "tok-b"),
	}
	messenger := &MockMessenger{}
	svc := NewService(repo, messenger)

	data := map[string]string{"enrollment_id": "enr_1"}
	err := svc.SendToUser(context.Background(), 1, "Bank disconnected", "Reconnect First Bank", CategoryEnrollment, data)
	require.NoError(t, err)

	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, CategoryEnrollment, stored.Category)
	assert.Equal(t, CategoryEnrollment, stored.Data["route"])
	assert.Equal(t, []string{"tok-a", "tok-b"}, messenger.tokens)
	assert.Equal(t, stored.ID, messenger.data["notification_id"])
	assert.Equal(t, "enr_1", messenger.data["enrollment_id"])
	assert.NotContains(t, data, "route", "caller map is not modified")
}

func TestSendToUser_Failures(t *testing.T) {
	storeErr := errors.New("db down")

	tests := []struct {
		name       string
		repo       *MockRepository
		messenger  *MockMessenger
		category   string
		wantErr    error
		wantPushes int
	}{
		{
			name:       "push failure is only logged",
			repo:       &MockRepository{ActiveDevicesFunc: devices("tok")},
			messenger:  &MockMessenger{err: errors.New("fcm unavailable")},
			category:   CategorySync,
			wantPushes: 1,
		},
		{
			name:      "store failure is returned and nothing is pushed",
			repo:      &MockRepository{StoreFunc: func(context.Context, StoreParams) (*Notification, error) { return nil, storeErr }, ActiveDevicesFunc: devices("tok")},
			messenger: &MockMessenger{},
			category:  CategorySync,
			wantErr:   storeErr,
		},
		{
			name:      "unknown category",
			repo:      &MockRepository{},
			messenger: &MockMessenger{},
			category:  "budgets",
			wantErr:   ErrInvalidCategory,
		},
		{
			name:      "no devices",
			repo:      &MockRepository{},
			messenger: &MockMessenger{},
			category:  CategoryVerification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.repo, tt.messenger)
			err := svc.SendToUser(context.Background(), 1, "t", "b", tt.category, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantPushes, tt.messenger.calls)
		})
	}
}

func TestSendToUser_NoMessenger(t *testing.T) {
	stored := false
	repo := &MockRepository{StoreFunc: func(ctx context.Context, params StoreParams) (*Notification, error) {
		stored = true
		return &Notification{}, nil
	}}
	assert.NoError(t, NewService(repo, nil).SendToUser(context.Background(), 1, "t", "b", CategorySync, nil))
	assert.True(t, stored)
}

func TestRegisterDevice(t *testing.T) {
	svc := NewService(&MockRepository{}, nil)

	tests := []struct {
		name    string
		params  RegisterDeviceParams
		wantErr error
	}{
		{name: "ios", params: RegisterDeviceParams{UserID: 1, Token: "t", DeviceType: DeviceIOS}},
		{name: "web", params: RegisterDeviceParams{UserID: 1, Token: "t", DeviceType: DeviceWeb}},
		{name: "missing token", params: RegisterDeviceParams{UserID: 1, DeviceType: DeviceAndroid}, wantErr: ErrInvalidToken},
		{name: "unknown platform", params: RegisterDeviceParams{UserID: 1, Token: "t", DeviceType: "windows"}, wantErr: ErrInvalidDeviceType},
		{name: "no user", params: RegisterDeviceParams{Token: "t", DeviceType: DeviceIOS}, wantErr: ErrInvalidUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := svc.RegisterDevice(context.Background(), tt.params)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
				return
			}
			require.NoError(t, err)
			assert.True(t, dev.IsActive)
		})
	}
}

func TestListNotifications_NormalizesPaging(t *testing.T) {
	var gotPage, gotPerPage int
	repo := &MockRepository{ListFunc: func(ctx context.Context, userID int64, page, perPage int) (*Page, error) {
		gotPage, gotPerPage = page, perPage
		return &Page{Page: page, PerPage: perPage, Total: 41}, nil
	}}
	svc := NewService(repo, nil)

	p, err := svc.ListNotifications(context.Background(), 3, 0, 500)
	require.NoError(t, err)

	assert.Equal(t, 1, gotPage)
	assert.Equal(t, DefaultPerPage, gotPerPage)
	assert.Equal(t, 3, p.Pages())

	_, err = svc.ListNotifications(context.Background(), 0, 1, 10)
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestMarkRead(t *testing.T) {
	var gotIDs []string
	repo := &MockRepository{MarkReadFunc: func(ctx context.Context, userID int64, ids []string) (int64, error) {
		gotIDs = ids
		return 5, nil
	}}

	n, err := NewService(repo, nil).MarkRead(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Empty(t, gotIDs)
}
