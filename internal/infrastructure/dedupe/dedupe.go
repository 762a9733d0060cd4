// Package dedupe collapses concurrent identical upstream calls into one.
package dedupe

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Deduplicator shares the result of an in-flight call with every caller that
// asks for the same key while it runs. The key is forgotten as soon as the
// call returns, success or failure, so a failed call is never replayed.
type Deduplicator struct {
	group    singleflight.Group
	inFlight atomic.Int64
}

// New creates an empty deduplicator.
func New() *Deduplicator {
	return &Deduplicator{}
}

// Run executes fn once per key among concurrent callers. shared reports
// whether the result was produced by another caller's execution.
//
// fn runs detached from the cancellation of whichever caller started it; each
// caller stops waiting when its own ctx is done, leaving the call to finish
// for the others.
func (d *Deduplicator) Run(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (v any, shared bool, err error) {
	detached := context.WithoutCancel(ctx)

	ch := d.group.DoChan(key, func() (any, error) {
		d.inFlight.Add(1)
		defer d.inFlight.Add(-1)
		return fn(detached)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// InFlight returns the number of distinct calls currently executing.
func (d *Deduplicator) InFlight() int {
	return int(d.inFlight.Load())
}
