// Package ratelimit gates calls to the upstream aggregation API with
// sliding-window request ceilings and in-flight concurrency ceilings, both
// globally and per user.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"bankfeed/internal/shared/apperr"
	"bankfeed/internal/shared/clock"
)

// Limits configures the ceilings. Window is the sliding window length.
type Limits struct {
	GlobalPerMinute  int
	GlobalConcurrent int
	UserPerMinute    int
	UserConcurrent   int
	Window           time.Duration
}

// DefaultLimits returns 100 req/min and 10 concurrent globally, 30 req/min
// and 3 concurrent per user.
func DefaultLimits() Limits {
	return Limits{
		GlobalPerMinute:  100,
		GlobalConcurrent: 10,
		UserPerMinute:    30,
		UserConcurrent:   3,
		Window:           time.Minute,
	}
}

type window struct {
	stamps   []time.Time
	inFlight int
}

// prune drops timestamps that have left the window ending at now.
func (w *window) prune(now time.Time, length time.Duration) {
	keep := 0
	for keep < len(w.stamps) && now.Sub(w.stamps[keep]) >= length {
		keep++
	}
	if keep > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[keep:]...)
	}
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	limits Limits
	clock  clock.Clock
	global window
	users  map[int64]*window
}

// New creates a limiter. Zero fields in limits fall back to the defaults.
func New(limits Limits, c clock.Clock) *Limiter {
	def := DefaultLimits()
	if limits.GlobalPerMinute <= 0 {
		limits.GlobalPerMinute = def.GlobalPerMinute
	}
	if limits.GlobalConcurrent <= 0 {
		limits.GlobalConcurrent = def.GlobalConcurrent
	}
	if limits.UserPerMinute <= 0 {
		limits.UserPerMinute = def.UserPerMinute
	}
	if limits.UserConcurrent <= 0 {
		limits.UserConcurrent = def.UserConcurrent
	}
	if limits.Window <= 0 {
		limits.Window = def.Window
	}
	if c == nil {
		c = clock.System{}
	}
	return &Limiter{
		limits: limits,
		clock:  c,
		users:  make(map[int64]*window),
	}
}

// Admit reserves one request slot for userID. On success the caller must
// invoke release once the upstream call completes; release is idempotent.
// A refusal is an apperr.KindRateLimited error and consumes nothing.
func (l *Limiter) Admit(userID int64) (release func(), err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.global.prune(now, l.limits.Window)

	// the user's window is stored only once a request is admitted
	user, ok := l.users[userID]
	if !ok {
		user = &window{}
	} else {
		user.prune(now, l.limits.Window)
		if len(user.stamps) == 0 && user.inFlight == 0 {
			delete(l.users, userID)
			ok = false
		}
	}

	switch {
	case len(l.global.stamps) >= l.limits.GlobalPerMinute:
		return nil, rateLimited("global request ceiling of %d/min reached", l.limits.GlobalPerMinute)
	case l.global.inFlight >= l.limits.GlobalConcurrent:
		return nil, rateLimited("global concurrency ceiling of %d reached", l.limits.GlobalConcurrent)
	case len(user.stamps) >= l.limits.UserPerMinute:
		return nil, rateLimited("user %d request ceiling of %d/min reached", userID, l.limits.UserPerMinute)
	case user.inFlight >= l.limits.UserConcurrent:
		return nil, rateLimited("user %d concurrency ceiling of %d reached", userID, l.limits.UserConcurrent)
	}

	if !ok {
		l.users[userID] = user
	}
	l.global.stamps = append(l.global.stamps, now)
	user.stamps = append(user.stamps, now)
	l.global.inFlight++
	user.inFlight++

	var once sync.Once
	return func() {
		once.Do(func() { l.release(userID) })
	}, nil
}

func (l *Limiter) release(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.global.inFlight--
	user, ok := l.users[userID]
	if !ok {
		return
	}
	user.inFlight--
	user.prune(l.clock.Now(), l.limits.Window)
	if user.inFlight == 0 && len(user.stamps) == 0 {
		delete(l.users, userID)
	}
}

// Usage reports the current window counts and in-flight calls.
type Usage struct {
	GlobalRequests int
	GlobalInFlight int
	UserRequests   int
	UserInFlight   int
}

// Usage returns a snapshot for userID.
func (l *Limiter) Usage(userID int64) Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.global.prune(now, l.limits.Window)
	u := Usage{
		GlobalRequests: len(l.global.stamps),
		GlobalInFlight: l.global.inFlight,
	}
	if user, ok := l.users[userID]; ok {
		user.prune(now, l.limits.Window)
		u.UserRequests = len(user.stamps)
		u.UserInFlight = user.inFlight
	}
	return u
}

func rateLimited(format string, args ...any) error {
	return apperr.New(apperr.KindRateLimited, "ratelimit.Admit", fmt.Sprintf(format, args...))
}
