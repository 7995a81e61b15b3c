package ratelimit

import (
	"context"
	"time"

	"commonground/backend/internal/db"
)

// PostgresCounter is a Counter backed by the rate_limits table. One row per
// (key, window start); the increment is a single upsert so concurrent
// requests never lose counts.
type PostgresCounter struct {
	db db.DBTX
}

// NewPostgresCounter returns a counter bound to the given DBTX.
func NewPostgresCounter(db db.DBTX) *PostgresCounter {
	return &PostgresCounter{db: db}
}

// IncrAndCheck increments the counter for key in the current fixed window and
// reports whether the caller is within limit.
func (c *PostgresCounter) IncrAndCheck(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	start := windowStart(time.Now().UTC(), window)
	var count int64
	err := c.db.QueryRowContext(ctx,
		`INSERT INTO rate_limits (key, window_start, count) VALUES ($1, $2, 1)
		 ON CONFLICT (key, window_start) DO UPDATE SET count = rate_limits.count + 1
		 RETURNING count`,
		key, start,
	).Scan(&count)
	if err != nil {
		return Decision{}, err
	}
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
