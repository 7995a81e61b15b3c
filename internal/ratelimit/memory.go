package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-memory Counter for tests and single-instance dev
// runs. State is per-process; production deployments use PostgresCounter.
type MemoryCounter struct {
	mu   sync.Mutex
	m    map[string]memoryWindow
	nowF func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int64
}

// NewMemoryCounter returns a new in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{m: make(map[string]memoryWindow), nowF: func() time.Time { return time.Now().UTC() }}
}

// IncrAndCheck increments the counter for key in the current fixed window and
// reports whether the caller is within limit.
func (c *MemoryCounter) IncrAndCheck(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	start := windowStart(c.nowF(), window)

	c.mu.Lock()
	w, ok := c.m[key]
	if !ok || !w.start.Equal(start) {
		w = memoryWindow{start: start}
	}
	w.count++
	c.m[key] = w
	count := w.count
	c.mu.Unlock()

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   start.Add(window),
	}, nil
}
