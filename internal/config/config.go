// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the auth service.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	// JWTSigningKey signs all three token shapes (HS256).
	JWTSigningKey []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ChallengeTTL  time.Duration

	// EncryptionKey and DeterministicKey are distinct 32-byte AES keys,
	// provided base64-encoded. The first protects TOTP secrets, the second
	// produces equality-searchable ciphertexts.
	EncryptionKey    []byte
	DeterministicKey []byte

	SessionCap       int
	RefreshLockTTL   time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
	TwoFactorLockout time.Duration
	TOTPSkew         uint

	LogLevel  string
	SentryDSN string
	Env       string
}

// Load reads configuration from the process environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getInt("REDIS_DB", 0),

		Issuer:       getEnv("JWT_ISSUER", "taskhive"),
		AccessTTL:    getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:   getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ChallengeTTL: getDuration("CHALLENGE_TOKEN_TTL", 5*time.Minute),

		SessionCap:       getInt("SESSION_CAP", 5),
		RefreshLockTTL:   getDuration("REFRESH_LOCK_TTL", 3*time.Second),
		LockoutThreshold: getInt("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:  getDuration("LOCKOUT_DURATION", 15*time.Minute),
		TwoFactorLockout: getDuration("TWO_FACTOR_LOCKOUT", 10*time.Minute),
		TOTPSkew:         uint(getInt("TOTP_SKEW", 2)),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		SentryDSN: os.Getenv("SENTRY_DSN"),
		Env:       getEnv("APP_ENV", "development"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		return nil, fmt.Errorf("config: JWT_SIGNING_KEY is required")
	}
	cfg.JWTSigningKey = []byte(signingKey)

	var err error
	if cfg.EncryptionKey, err = getKey("ENCRYPTION_KEY"); err != nil {
		return nil, err
	}
	if cfg.DeterministicKey, err = getKey("DETERMINISTIC_KEY"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getKey decodes a base64 environment variable into exactly 32 key bytes.
func getKey(name string) ([]byte, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, fmt.Errorf("config: %s is required", name)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s is not valid base64: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: %s must decode to 32 bytes, got %d", name, len(key))
	}
	return key, nil
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
