package scheduler

import (
	"context"
	"sync"

	"bankfeed/internal/domain/banksync"
	"bankfeed/internal/domain/enrollment"
)

type MockSyncService struct {
	SyncUserFunc              func(ctx context.Context, userID int64) (*banksync.Summary, error)
	SyncEnrollmentByIDFunc    func(ctx context.Context, id string) (*banksync.Summary, error)
	ListActiveEnrollmentsFunc func(ctx context.Context) ([]*enrollment.Enrollment, error)
}

func (m *MockSyncService) SyncUser(ctx context.Context, userID int64) (*banksync.Summary, error) {
	if m.SyncUserFunc != nil {
		return m.SyncUserFunc(ctx, userID)
	}
	return &banksync.Summary{}, nil
}

func (m *MockSyncService) SyncEnrollmentByID(ctx context.Context, id string) (*banksync.Summary, error) {
	if m.SyncEnrollmentByIDFunc != nil {
		return m.SyncEnrollmentByIDFunc(ctx, id)
	}
	return &banksync.Summary{}, nil
}

func (m *MockSyncService) ListActiveEnrollments(ctx context.Context) ([]*enrollment.Enrollment, error) {
	if m.ListActiveEnrollmentsFunc != nil {
		return m.ListActiveEnrollmentsFunc(ctx)
	}
	return nil, nil
}

// funcJob adapts a function to Job.
type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Execute(ctx context.Context) error { return j.fn(ctx) }
func (j funcJob) UserID() string                    { return "1" }
func (j funcJob) Key() string                       { return j.name }
func (j funcJob) Description() string               { return j.name }

// recorder collects executed job names.
type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) job(name string) Job {
	return funcJob{name: name, fn: func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.seen = append(r.seen, name)
		return nil
	}}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
