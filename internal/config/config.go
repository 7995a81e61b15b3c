// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/base64"
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "commonground-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "commonground-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// MFAEncryptionKey is the base64 32-byte key that encrypts TOTP secrets at
	// rest. Missing or malformed key is a fatal startup error, never a
	// per-request one.
	MFAEncryptionKey string `mapstructure:"MFA_ENCRYPTION_KEY"`
	// RecoveryCodePepper is the server-side pepper mixed into recovery code
	// hashes so a leaked database alone cannot be replayed.
	RecoveryCodePepper string `mapstructure:"RECOVERY_CODE_PEPPER"`
	// PBKDF2Iterations overrides the password KDF iteration count. Lowering it
	// below 100000 is refused at startup.
	PBKDF2Iterations int `mapstructure:"PBKDF2_ITERATIONS"`
	// MFAChallengeTTL is how long a login MFA challenge stays valid (e.g. "5m").
	MFAChallengeTTL string `mapstructure:"MFA_CHALLENGE_TTL"`
	// CookieSecure controls the Secure attribute on session cookies; disable
	// only for local plain-HTTP development.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`
	// LoginRateLimit is the max attempts per rate window for login/register.
	LoginRateLimit int `mapstructure:"LOGIN_RATE_LIMIT"`
	// MFARateLimit is the max attempts per rate window for MFA verification.
	MFARateLimit int `mapstructure:"MFA_RATE_LIMIT"`
	// RateWindowSeconds is the fixed rate-limit window size in seconds.
	RateWindowSeconds int `mapstructure:"RATE_WINDOW_SECONDS"`
	// OTLPEndpoint is the OTLP gRPC endpoint for telemetry (empty disables export).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "commonground-auth")
	v.SetDefault("JWT_AUDIENCE", "commonground-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("MFA_CHALLENGE_TTL", "5m")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("LOGIN_RATE_LIMIT", 10)
	v.SetDefault("MFA_RATE_LIMIT", 10)
	v.SetDefault("RATE_WINDOW_SECONDS", 60)
	v.SetDefault("PBKDF2_ITERATIONS", 600000)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.LoginRateLimit <= 0 || cfg.MFARateLimit <= 0 || cfg.RateWindowSeconds <= 0 {
		return nil, errors.New("config: rate limit values must be positive")
	}
	if cfg.PBKDF2Iterations < 100000 {
		return nil, errors.New("config: PBKDF2_ITERATIONS must be at least 100000")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// ChallengeTTL parses MFAChallengeTTL as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) ChallengeTTL() time.Duration {
	d, err := time.ParseDuration(c.MFAChallengeTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RateWindow returns the fixed rate-limit window as a duration.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// DecodeMFAEncryptionKey decodes MFAEncryptionKey and requires exactly 32 bytes.
func (c *Config) DecodeMFAEncryptionKey() ([]byte, error) {
	if c.MFAEncryptionKey == "" {
		return nil, errors.New("config: MFA_ENCRYPTION_KEY must be set")
	}
	key, err := base64.StdEncoding.DecodeString(c.MFAEncryptionKey)
	if err != nil {
		return nil, errors.New("config: MFA_ENCRYPTION_KEY must be base64")
	}
	if len(key) != 32 {
		return nil, errors.New("config: MFA_ENCRYPTION_KEY must decode to 32 bytes")
	}
	return key, nil
}
