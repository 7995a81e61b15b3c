package domain

import "time"

// WrappedOrgKey is one member's copy of the organization key, encrypted by a
// publishing client for that member's device public key. The server stores
// the ciphertext verbatim and can never unwrap it.
type WrappedOrgKey struct {
	OrgID      string
	UserID     string
	KeyID      string
	KeyVersion int64
	Ciphertext []byte
	UpdatedAt  time.Time
}

// Stale reports whether this wrap was produced for an older key generation
// than current. Stale wraps remain usable for decrypting old data.
func (w *WrappedOrgKey) Stale(current int64) bool {
	return w.KeyVersion < current
}

// KeyVersion is the organization's strictly increasing key generation counter.
// It is the source of truth for which wraps are current.
type KeyVersion struct {
	OrgID     string
	Version   int64
	UpdatedAt time.Time
}
