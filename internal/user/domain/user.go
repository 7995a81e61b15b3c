package domain

import (
	"errors"
	"time"
)

// User is the core user entity. PasswordHash is the encoded PBKDF2 hash;
// TOTPSecretEnc is the AES-GCM sealed TOTP seed (nil when MFA was never set
// up); PublicKey is the base64 X25519 device public key used for org-key
// wrapping (empty until the device registers one).
type User struct {
	ID            string
	Email         string
	Name          string
	PasswordHash  string
	PublicKey     string
	TOTPSecretEnc []byte
	MFAEnabled    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
