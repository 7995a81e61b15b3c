package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"strings"
)

// RecoveryCodeCount is the size of the batch issued whenever MFA is freshly
// confirmed. All prior codes for the user are invalidated at that point.
const RecoveryCodeCount = 10

var recoveryEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateRecoveryCodes returns a fresh batch of single-use recovery codes in
// the form "xxxxx-xxxxx" (lowercase base32 of 10 random bytes). Plaintext
// codes are shown to the user once and never retrievable again.
func GenerateRecoveryCodes() ([]string, error) {
	codes := make([]string, RecoveryCodeCount)
	for i := range codes {
		raw := make([]byte, 10)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		enc := strings.ToLower(recoveryEncoding.EncodeToString(raw))
		codes[i] = enc[:5] + "-" + enc[5:10]
	}
	return codes, nil
}

// HashRecoveryCode hashes a recovery code with the server-side pepper, so a
// leaked database alone cannot be used to impersonate. Codes are normalized
// (trimmed, lowercased) before hashing.
func HashRecoveryCode(pepper, code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	h := sha256.Sum256([]byte(pepper + ":" + normalized))
	return hex.EncodeToString(h[:])
}

// LooksLikeRecoveryCode reports whether the submitted value has the
// "xxxxx-xxxxx" shape, used to pick the recovery path before falling back to
// TOTP verification.
func LooksLikeRecoveryCode(code string) bool {
	code = strings.TrimSpace(code)
	return len(code) == 11 && code[5] == '-'
}
