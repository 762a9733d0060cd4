package banksync

import "time"

// WindowPolicy decides the date range of an incremental transaction fetch.
type WindowPolicy struct {
	LookbackDays int // first sync range, and the cap for later syncs
	BufferDays   int // overlap before the last successful sync
}

// DefaultWindowPolicy looks back 30 days with a 1 day overlap.
func DefaultWindowPolicy() WindowPolicy {
	return WindowPolicy{LookbackDays: 30, BufferDays: 1}
}

// Compute returns [from, to] for a sync at now. A nil lastSync means the
// account has never synced and gets the full lookback. Otherwise the window
// starts BufferDays before lastSync, but never earlier than the lookback.
func (p WindowPolicy) Compute(now time.Time, lastSync *time.Time) (from, to time.Time) {
	floor := now.AddDate(0, 0, -p.LookbackDays)
	if lastSync == nil || lastSync.IsZero() {
		return floor, now
	}

	from = lastSync.AddDate(0, 0, -p.BufferDays)
	if from.Before(floor) {
		from = floor
	}
	if from.After(now) {
		from = now
	}
	return from, now
}
