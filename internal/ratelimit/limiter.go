// Package ratelimit provides fixed-window counters per (action, source)
// guarding the login and MFA endpoints. The backing counter store is treated
// as optional: when it is unavailable the limiter fails open with a warning,
// never blocking the critical path.
package ratelimit

import (
	"context"
	"log"
	"time"
)

// Decision is the outcome of one increment-and-check.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Counter is the increment-and-check primitive over some counter store.
type Counter interface {
	IncrAndCheck(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error)
}

// Limiter applies per-action limits over a Counter, keyed by
// "<action>:<source>". A Counter error is surfaced as a non-fatal warning and
// the request is allowed.
type Limiter struct {
	counter Counter
	window  time.Duration
	limits  map[string]int64
}

// NewLimiter returns a Limiter with the given fixed window and per-action limits.
func NewLimiter(counter Counter, window time.Duration, limits map[string]int64) *Limiter {
	return &Limiter{counter: counter, window: window, limits: limits}
}

// Allow checks the counter for (action, source). Unknown actions and a nil
// counter are unlimited. Fails open on counter errors.
func (l *Limiter) Allow(ctx context.Context, action, source string) Decision {
	limit, ok := l.limits[action]
	if !ok || l.counter == nil {
		return Decision{Allowed: true}
	}
	d, err := l.counter.IncrAndCheck(ctx, action+":"+source, limit, l.window)
	if err != nil {
		log.Printf("ratelimit: counter store unavailable, failing open: %v", err)
		return Decision{Allowed: true}
	}
	return d
}

// windowStart truncates now to the enclosing fixed window. A window rollover
// resets the count without any timer.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}
