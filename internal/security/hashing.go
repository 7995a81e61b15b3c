package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ErrHashMismatch is returned by Compare when the password does not match the hash.
var ErrHashMismatch = errors.New("password does not match hash")

const (
	hashScheme   = "pbkdf2-sha256"
	hashSaltLen  = 16
	hashKeyLen   = 32
	// DefaultIterations is deliberately slow so offline brute-force is costly.
	DefaultIterations = 600_000
)

// Hasher hashes and verifies passwords using PBKDF2-SHA256 with a random
// per-user salt. Callers must not log or persist plaintext passwords.
type Hasher struct {
	Iterations int
}

// NewHasher returns a Hasher with the given iteration count. Non-positive
// values fall back to DefaultIterations.
func NewHasher(iterations int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Hasher{Iterations: iterations}
}

// Hash derives a key from password with a fresh random salt and encodes it as
// "pbkdf2-sha256$<iterations>$<salt-b64>$<key-b64>" for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := pbkdf2.Key(password, salt, h.Iterations, hashKeyLen, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s",
		hashScheme,
		h.Iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(dk),
	), nil
}

// Compare verifies password against the stored encoded hash. The derived key
// comparison is constant-time, so verification cost does not depend on where a
// mismatch occurs. Returns nil on match, ErrHashMismatch on mismatch, and a
// descriptive error for a malformed stored hash.
func (h *Hasher) Compare(encoded string, password []byte) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashScheme {
		return errors.New("unsupported password hash format")
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return errors.New("invalid password hash iterations")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return errors.New("invalid password hash salt")
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return errors.New("invalid password hash key")
	}
	got := pbkdf2.Key(password, salt, iterations, len(want), sha256.New)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrHashMismatch
	}
	return nil
}

// DummyCompare burns the same derivation cost as a real verification. Called
// on login for unknown emails so response timing does not reveal whether the
// account exists.
func (h *Hasher) DummyCompare(password []byte) {
	salt := make([]byte, hashSaltLen)
	_ = pbkdf2.Key(password, salt, h.Iterations, hashKeyLen, sha256.New)
}
