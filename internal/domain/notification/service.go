package notification

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Service keeps the inbox and fans notifications out to devices.
type Service struct {
	repo      Repository
	messenger Messenger
}

// NewService creates a notification service. messenger may be nil, in
// which case notifications are stored but not pushed.
func NewService(repo Repository, messenger Messenger) *Service {
	return &Service{repo: repo, messenger: messenger}
}

// RegisterDevice saves a push token for the user. A token registered by
// another user before is moved over.
func (s *Service) RegisterDevice(ctx context.Context, params RegisterDeviceParams) (*Device, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.SaveDevice(ctx, params)
}

// ListNotifications returns one page of the user's inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID int64, page, perPage int) (*Page, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	page, perPage = NormalizePaging(page, perPage)
	return s.repo.List(ctx, userID, page, perPage)
}

// MarkRead marks entries read. An empty ids marks the whole inbox.
func (s *Service) MarkRead(ctx context.Context, userID int64, ids []string) (int64, error) {
	if userID <= 0 {
		return 0, ErrInvalidUser
	}
	return s.repo.MarkRead(ctx, userID, ids)
}

// SendToUser stores a notification and pushes it to every active device.
// The inbox entry is the record of truth; push failures are only logged.
func (s *Service) SendToUser(ctx context.Context, userID int64, title, body, category string, data map[string]string) error {
	params := StoreParams{
		ID:       uuid.NewString(),
		UserID:   userID,
		Title:    title,
		Message:  body,
		Category: category,
		Data:     withRoute(data, category),
	}
	if err := params.Validate(); err != nil {
		return err
	}

	if _, err := s.repo.Store(ctx, params); err != nil {
		return err
	}

	if s.messenger == nil {
		return nil
	}

	devices, err := s.repo.ActiveDevices(ctx, userID)
	if err != nil {
		log.Printf("User %d: failed to load devices: %v", userID, err)
		return nil
	}
	if len(devices) == 0 {
		return nil
	}

	tokens := make([]string, len(devices))
	for i, d := range devices {
		tokens[i] = d.Token
	}

	push := make(map[string]string, len(params.Data)+1)
	for k, v := range params.Data {
		push[k] = v
	}
	push["notification_id"] = params.ID

	if err := s.messenger.SendMulticast(ctx, tokens, title, body, push); err != nil {
		log.Printf("User %d: push of notification %s failed: %v", userID, params.ID, err)
	}
	return nil
}

// withRoute copies data and adds the client route, defaulting to the
// category, without touching the caller's map.
func withRoute(data map[string]string, category string) map[string]string {
	out := make(map[string]string, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	if _, ok := out["route"]; !ok {
		out["route"] = category
	}
	return out
}
