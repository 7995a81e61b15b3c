package domain

import "time"

// Challenge is the pending-MFA state of one login attempt: created when the
// password check succeeds for an MFA-enabled user, consumed exactly once by a
// successful code or recovery-code verification.
type Challenge struct {
	ID        string
	UserID    string
	Verified  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the challenge TTL has elapsed at the given instant.
func (c *Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
