package notification

import "context"

// Repository persists devices and the inbox.
type Repository interface {
	SaveDevice(ctx context.Context, params RegisterDeviceParams) (*Device, error)
	ActiveDevices(ctx context.Context, userID int64) ([]*Device, error)
	DeactivateToken(ctx context.Context, token string) error

	Store(ctx context.Context, params StoreParams) (*Notification, error)
	List(ctx context.Context, userID int64, page, perPage int) (*Page, error)
	// MarkRead marks the given entries read, or every unread entry when ids
	// is empty. It returns how many changed.
	MarkRead(ctx context.Context, userID int64, ids []string) (int64, error)
}
