package enrollment

import (
	"context"
	"time"
)

// Repository defines the interface for enrollment data access
type Repository interface {
	// Upsert creates the enrollment or replaces its credential and status
	Upsert(ctx context.Context, params UpsertParams) (*Enrollment, error)

	GetByID(ctx context.Context, id string) (*Enrollment, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Enrollment, error)

	// ListActive returns every active enrollment across users
	ListActive(ctx context.Context) ([]*Enrollment, error)

	UpdateStatus(ctx context.Context, id, status, reason string) error
	TouchLastSync(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}
