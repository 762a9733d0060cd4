package scheduler

import "context"

// Job represents a unit of work executed by the worker pool.
type Job interface {
	// Execute runs the job. ctx carries the per-job timeout.
	Execute(ctx context.Context) error

	// UserID returns the user whose data the job touches, for logging.
	UserID() string

	// Key identifies the work. The pool holds at most one job per key,
	// queued or running.
	Key() string

	// Description returns a human-readable description of the job.
	Description() string
}
