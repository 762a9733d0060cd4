package webhook

import "context"

// Repository is the durable webhook event log
type Repository interface {
	// Log stores the event. inserted is false when the id was already logged.
	Log(ctx context.Context, e *Event) (inserted bool, err error)

	Get(ctx context.Context, id string) (*Record, error)
	MarkProcessed(ctx context.Context, id, note string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}
