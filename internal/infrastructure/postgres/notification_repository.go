package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"bankfeed/internal/domain/notification"
)

// NotificationRepository stores push devices and the notification inbox.
type NotificationRepository struct {
	db *DB
}

var _ notification.Repository = (*NotificationRepository)(nil)

func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const deviceColumns = `id, user_id, token, device_type, is_active, created_at, last_used`

const notificationColumns = `id, user_id, title, message, category, data, read_at, created_at`

// SaveDevice registers a token, moving it to params.UserID when another
// user registered it before, and reactivates it.
func (r *NotificationRepository) SaveDevice(ctx context.Context, params notification.RegisterDeviceParams) (*notification.Device, error) {
	query := `
		INSERT INTO push_devices (user_id, token, device_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    device_type = EXCLUDED.device_type,
			    is_active = true,
			    last_used = NOW()
		RETURNING ` + deviceColumns

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, params.UserID, params.Token, params.DeviceType))
	if err != nil {
		return nil, fmt.Errorf("failed to save device: %w", err)
	}
	return d, nil
}

func (r *NotificationRepository) ActiveDevices(ctx context.Context, userID int64) ([]*notification.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM push_devices WHERE user_id = $1 AND is_active ORDER BY last_used DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var out []*notification.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeactivateToken stops pushes to a token FCM reported as unregistered.
func (r *NotificationRepository) DeactivateToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE push_devices SET is_active = false WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to deactivate token: %w", err)
	}
	return nil
}

func (r *NotificationRepository) Store(ctx context.Context, params notification.StoreParams) (*notification.Notification, error) {
	data := params.Data
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification data: %w", err)
	}

	query := `
		INSERT INTO notifications (id, user_id, title, message, category, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + notificationColumns

	n, err := scanNotification(r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.Title, params.Message, params.Category, dataJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}
	return n, nil
}

// List returns one inbox page, newest first, with total and unread counts.
func (r *NotificationRepository) List(ctx context.Context, userID int64, page, perPage int) (*notification.Page, error) {
	p := &notification.Page{Page: page, PerPage: perPage}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE read_at IS NULL) FROM notifications WHERE user_id = $1`,
		userID,
	).Scan(&p.Total, &p.Unread)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		userID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		p.Items = append(p.Items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return p, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, userID int64, ids []string) (int64, error) {
	query := `UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`
	args := []any{userID}
	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, pq.Array(ids))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

func scanDevice(row rowScanner) (*notification.Device, error) {
	var d notification.Device
	if err := row.Scan(&d.ID, &d.UserID, &d.Token, &d.DeviceType, &d.IsActive, &d.CreatedAt, &d.LastUsed); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanNotification(row rowScanner) (*notification.Notification, error) {
	var (
		n      notification.Notification
		data   []byte
		readAt sql.NullTime
	)
	if err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Category, &data, &readAt, &n.CreatedAt); err != nil {
		return nil, err
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to decode notification data: %w", err)
		}
	}
	return &n, nil
}
