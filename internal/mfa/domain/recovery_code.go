package domain

import "time"

// RecoveryCode is one single-use backup credential. Only the peppered hash is
// stored; the plaintext is shown once at generation time.
type RecoveryCode struct {
	ID        string
	UserID    string
	CodeHash  string
	Used      bool
	CreatedAt time.Time
}
