package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/domain/enrollment"
)

// SyncService is implemented by banksync.Service.
type SyncService interface {
	SyncUser(ctx context.Context, userID int64) (*banksync.Summary, error)
	SyncEnrollmentByID(ctx context.Context, id string) (*banksync.Summary, error)
	ListActiveEnrollments(ctx context.Context) ([]*enrollment.Enrollment, error)
}

// EnrollmentSyncJob syncs the accounts and transactions of one enrollment.
type EnrollmentSyncJob struct {
	userID       int64
	enrollmentID string
	svc          SyncService
}

func NewEnrollmentSyncJob(userID int64, enrollmentID string, svc SyncService) *EnrollmentSyncJob {
	return &EnrollmentSyncJob{userID: userID, enrollmentID: enrollmentID, svc: svc}
}

// Execute reloads the enrollment, so one that expired after it was queued is
// skipped rather than failed.
func (j *EnrollmentSyncJob) Execute(ctx context.Context) error {
	summary, err := j.svc.SyncEnrollmentByID(ctx, j.enrollmentID)
	if err != nil {
		if errors.Is(err, enrollment.ErrNotActive) || errors.Is(err, enrollment.ErrEnrollmentNotFound) {
			log.Printf("Enrollment %s: skipped: %v", j.enrollmentID, err)
			return nil
		}
		return fmt.Errorf("sync failed: %w", err)
	}
	return summaryError(summary)
}

func (j *EnrollmentSyncJob) UserID() string {
	return strconv.FormatInt(j.userID, 10)
}

func (j *EnrollmentSyncJob) Key() string {
	return "enrollment:" + j.enrollmentID
}

func (j *EnrollmentSyncJob) Description() string {
	return fmt.Sprintf("Enrollment sync %s for user %d", j.enrollmentID, j.userID)
}

// UserSyncJob syncs every active enrollment of one user.
type UserSyncJob struct {
	userID int64
	svc    SyncService
}

func NewUserSyncJob(userID int64, svc SyncService) *UserSyncJob {
	return &UserSyncJob{userID: userID, svc: svc}
}

func (j *UserSyncJob) Execute(ctx context.Context) error {
	summary, err := j.svc.SyncUser(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return summaryError(summary)
}

func (j *UserSyncJob) UserID() string {
	return strconv.FormatInt(j.userID, 10)
}

func (j *UserSyncJob) Key() string {
	return "user:" + strconv.FormatInt(j.userID, 10)
}

func (j *UserSyncJob) Description() string {
	return fmt.Sprintf("Full sync for user %d", j.userID)
}

// summaryError reports per-account failures as a job error so they show up
// in the job metrics.
func summaryError(s *banksync.Summary) error {
	if s == nil || len(s.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("sync completed with %d errors: %s", len(s.Errors), s.Errors[0])
}

// EnrollmentJobs returns a job provider yielding one EnrollmentSyncJob per
// active enrollment, least recently synced first.
func EnrollmentJobs(svc SyncService) func(context.Context) ([]Job, error) {
	return func(ctx context.Context) ([]Job, error) {
		enrollments, err := svc.ListActiveEnrollments(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list active enrollments: %w", err)
		}

		jobs := make([]Job, 0, len(enrollments))
		for _, enr := range enrollments {
			jobs = append(jobs, NewEnrollmentSyncJob(enr.UserID, enr.ID, svc))
		}
		return jobs, nil
	}
}
