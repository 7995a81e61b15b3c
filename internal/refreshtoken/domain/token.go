package domain

import "time"

// RefreshToken is one issued session's long-lived credential. Only the
// SHA-256 hash of the opaque value is stored; the raw token exists only on
// the client. A user may hold several rows, one per concurrent session.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
