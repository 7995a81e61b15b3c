// Package wrap implements the client-side org-key wrapping protocol: X25519
// key agreement against a member's registered device public key, HKDF-SHA256
// derivation of a wrapping key, and AES-256-GCM encryption of the org key.
//
// The server stores the resulting envelope verbatim and is never a
// participant in the derivation. This package lives server-side only so the
// test suite (and any Go client) can exercise full round-trips.
package wrap

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// EnvelopeVersion tags the current envelope format. Unknown versions and
	// algorithms fail closed so future formats can coexist during migration.
	EnvelopeVersion = 1
	// Algorithm names the full suite baked into version 1 envelopes.
	Algorithm = "x25519-hkdf-sha256+aes256gcm"

	hkdfInfo   = "org-key-wrap-v1"
	saltLength = 16
	keyLength  = 32
)

var (
	// ErrUnsupportedEnvelope is returned for an unknown version or algorithm.
	ErrUnsupportedEnvelope = errors.New("unsupported wrap envelope")
	// ErrUnwrapFailed is returned when decryption fails; tampering with any
	// byte of the envelope triggers it rather than wrong plaintext.
	ErrUnwrapFailed = errors.New("unwrap failed")
)

// Envelope is the tagged, versioned wire structure stored as the wrap
// ciphertext blob. All byte fields are raw (JSON base64-encodes them).
type Envelope struct {
	V     int    `json:"v"`
	Alg   string `json:"alg"`
	EPK   []byte `json:"epk"`   // sender's ephemeral X25519 public key
	Salt  []byte `json:"salt"`  // HKDF salt
	Nonce []byte `json:"nonce"` // AES-GCM nonce
	CT    []byte `json:"ct"`    // sealed org key
}

// GenerateDeviceKeypair returns a fresh persistent X25519 device keypair.
// Only the public half is ever registered with the server.
func GenerateDeviceKeypair() (*ecdh.PrivateKey, error) {
	return ecdh.X25519().GenerateKey(rand.Reader)
}

// GenerateOrgKey returns a fresh random 32-byte symmetric org key. It is
// generated client-side and never transmitted in the clear.
func GenerateOrgKey() ([]byte, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Wrap encrypts orgKey for the member owning recipientPublic (a 32-byte
// X25519 point). An ephemeral keypair is agreed against the recipient key,
// the shared secret is stretched with HKDF-SHA256 and a random salt, and the
// org key is sealed with AES-256-GCM. Returns the serialized envelope.
func Wrap(orgKey []byte, recipientPublic []byte) ([]byte, error) {
	recipient, err := ecdh.X25519().NewPublicKey(recipientPublic)
	if err != nil {
		return nil, err
	}
	ephemeral, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	shared, err := ephemeral.ECDH(recipient)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	wrappingKey := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo)), wrappingKey); err != nil {
		return nil, err
	}

	aead, err := newGCM(wrappingKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	env := Envelope{
		V:     EnvelopeVersion,
		Alg:   Algorithm,
		EPK:   ephemeral.PublicKey().Bytes(),
		Salt:  salt,
		Nonce: nonce,
		CT:    aead.Seal(nil, nonce, orgKey, nil),
	}
	return json.Marshal(env)
}

// Unwrap recovers the org key from a serialized envelope using the member's
// device private key. The same key agreement is re-run with the sender's
// ephemeral public key embedded in the envelope; any tampering fails the
// authenticated decryption with ErrUnwrapFailed.
func Unwrap(envelope []byte, devicePrivate *ecdh.PrivateKey) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return nil, ErrUnwrapFailed
	}
	if env.V != EnvelopeVersion || env.Alg != Algorithm {
		return nil, ErrUnsupportedEnvelope
	}
	sender, err := ecdh.X25519().NewPublicKey(env.EPK)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	shared, err := devicePrivate.ECDH(sender)
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	wrappingKey := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, env.Salt, []byte(hkdfInfo)), wrappingKey); err != nil {
		return nil, ErrUnwrapFailed
	}

	aead, err := newGCM(wrappingKey)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	orgKey, err := aead.Open(nil, env.Nonce, env.CT, nil)
	if err != nil {
		return nil, ErrUnwrapFailed
	}
	return orgKey, nil
}

// ValidatePublicKey checks that raw is a well-formed 32-byte X25519 public key.
func ValidatePublicKey(raw []byte) error {
	_, err := ecdh.X25519().NewPublicKey(raw)
	return err
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
