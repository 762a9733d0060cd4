package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bankfeed/internal/domain/webhook"
)

// WebhookRepository is the durable webhook event log
type WebhookRepository struct {
	db *DB
}

var _ webhook.Repository = (*WebhookRepository)(nil)

func NewWebhookRepository(db *DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Log stores the event, or counts another delivery of an id already logged.
func (r *WebhookRepository) Log(ctx context.Context, e *webhook.Event) (bool, error) {
	var occurred sql.NullTime
	if !e.Timestamp.IsZero() {
		occurred = sql.NullTime{Time: e.Timestamp, Valid: true}
	}
	payload := []byte(e.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (id, type, occurred_at, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET attempts = webhook_events.attempts + 1
		RETURNING (xmax = 0)`,
		e.ID, e.Type, occurred, payload,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to log webhook event: %w", err)
	}
	return inserted, nil
}

func (r *WebhookRepository) Get(ctx context.Context, id string) (*webhook.Record, error) {
	var rec webhook.Record
	var occurred, processed sql.NullTime
	var payload []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, type, occurred_at, payload, received_at, processed_at, error, note, attempts
		FROM webhook_events
		WHERE id = $1`,
		id,
	).Scan(
		&rec.ID, &rec.Type, &occurred, &payload, &rec.ReceivedAt, &processed, &rec.Error, &rec.Note, &rec.Attempts,
	)
	if err == sql.ErrNoRows {
		return nil, webhook.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}

	if occurred.Valid {
		rec.Timestamp = occurred.Time
	}
	if processed.Valid {
		rec.ProcessedAt = &processed.Time
	}
	rec.Payload = payload
	return &rec, nil
}

func (r *WebhookRepository) MarkProcessed(ctx context.Context, id, note string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET processed_at = NOW(), error = '', note = $1 WHERE id = $2`,
		note, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return expectOne(result, webhook.ErrEventNotFound)
}

func (r *WebhookRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET processed_at = NOW(), error = $1 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return expectOne(result, webhook.ErrEventNotFound)
}
