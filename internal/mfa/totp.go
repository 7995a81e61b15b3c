// Package mfa implements the TOTP and recovery-code primitives used by the
// MFA service: secret generation, time-window verification, and peppered
// recovery-code hashing.
package mfa

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpDigits = otp.DigitsSix
)

// GenerateTOTPSecret generates a fresh random TOTP secret for the account and
// returns the base32 secret plus the otpauth:// provisioning URI for
// authenticator apps.
func GenerateTOTPSecret(issuer, accountName string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      totpDigits,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP verifies code against secret at time t, accepting codes for
// time steps t-1, t, and t+1 (30-second steps) to tolerate clock skew.
func ValidateTOTP(code, secret string, t time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, t, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
