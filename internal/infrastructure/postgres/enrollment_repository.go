package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bankfeed/internal/domain/enrollment"
)

// EnrollmentRepository implements enrollment.Repository for PostgreSQL
type EnrollmentRepository struct {
	db *DB
}

var _ enrollment.Repository = (*EnrollmentRepository)(nil)

// NewEnrollmentRepository creates a new PostgreSQL enrollment repository
func NewEnrollmentRepository(db *DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, user_id, institution_id, institution_name, access_token,
	status, status_reason, last_sync_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (*enrollment.Enrollment, error) {
	var e enrollment.Enrollment
	var lastSync sql.NullTime
	err := row.Scan(
		&e.ID, &e.UserID, &e.InstitutionID, &e.InstitutionName, &e.AccessToken,
		&e.Status, &e.StatusReason, &lastSync, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		e.LastSyncAt = &lastSync.Time
	}
	return &e, nil
}

// Upsert creates the enrollment or replaces its credential and status.
// Relinking reactivates an expired or disconnected enrollment.
func (r *EnrollmentRepository) Upsert(ctx context.Context, params enrollment.UpsertParams) (*enrollment.Enrollment, error) {
	query := `
		INSERT INTO enrollments (id, user_id, institution_id, institution_name, access_token, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			institution_id = EXCLUDED.institution_id,
			institution_name = EXCLUDED.institution_name,
			access_token = EXCLUDED.access_token,
			status = EXCLUDED.status,
			status_reason = '',
			updated_at = NOW()
		WHERE enrollments.user_id = EXCLUDED.user_id
		RETURNING ` + enrollmentColumns

	e, err := scanEnrollment(r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.InstitutionID, params.InstitutionName, params.AccessToken, params.Status,
	))
	if err == sql.ErrNoRows {
		// the conflicting row belongs to another user
		return nil, enrollment.ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert enrollment: %w", err)
	}
	return e, nil
}

// GetByID retrieves an enrollment by its ID
func (r *EnrollmentRepository) GetByID(ctx context.Context, id string) (*enrollment.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`

	e, err := scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, enrollment.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return e, nil
}

// ListByUserID retrieves all enrollments of a user, oldest first
func (r *EnrollmentRepository) ListByUserID(ctx context.Context, userID int64) ([]*enrollment.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE user_id = $1 ORDER BY created_at`
	return r.list(ctx, query, userID)
}

// ListActive retrieves every active enrollment, least recently synced first
func (r *EnrollmentRepository) ListActive(ctx context.Context) ([]*enrollment.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
		WHERE status = 'active'
		ORDER BY last_sync_at NULLS FIRST, created_at`
	return r.list(ctx, query)
}

func (r *EnrollmentRepository) list(ctx context.Context, query string, args ...any) ([]*enrollment.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []*enrollment.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}
	return enrollments, nil
}

// UpdateStatus sets the status and the reason for it
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id, status, reason string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET status = $1, status_reason = $2, updated_at = NOW() WHERE id = $3`,
		status, reason, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment status: %w", err)
	}
	return expectOne(result, enrollment.ErrEnrollmentNotFound)
}

// TouchLastSync stamps the last completed account sync
func (r *EnrollmentRepository) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET last_sync_at = $1, updated_at = NOW() WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment last sync: %w", err)
	}
	return nil
}

// Delete removes an enrollment
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete enrollment: %w", err)
	}
	return expectOne(result, enrollment.ErrEnrollmentNotFound)
}

// expectOne returns notFound when result touched no rows.
func expectOne(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
