// Package config loads server configuration from the environment, with an
// optional YAML deployment profile layered underneath.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects the storage backend by scheme: postgres:// uses
	// lib/pq, sqlite:// a local file, empty means in-memory.
	DatabaseURL string
	// RedisURL enables the Redis replay guard when set.
	RedisURL string
	// LedgerPath enables the file ledger when DatabaseURL is empty.
	LedgerPath string

	// MaxAcceptanceWindow caps expiresAt-issuedAt on acceptances.
	MaxAcceptanceWindow time.Duration
	// ClockSkewGrace widens the temporal check on both edges.
	ClockSkewGrace time.Duration
	// KeyCacheTTL bounds authority key staleness.
	KeyCacheTTL time.Duration
	// DecideTimeout caps one decision round trip.
	DecideTimeout time.Duration

	// LegacyFallbackKey holds a base64 Ed25519 public key used for
	// acceptances without a key id. Empty disables the fallback.
	LegacyFallbackKey string
	// HMACMasterSecret enables shared-secret acceptances when set.
	HMACMasterSecret string
	// JWTSecret protects the HTTP API when set.
	JWTSecret string

	// ProfilePath points at an optional YAML deployment profile.
	ProfilePath string
	// RateLimitPerSecond bounds decision requests per client.
	RateLimitPerSecond float64
	// ArchiveInterval paces ledger export when the profile configures an
	// archive backend.
	ArchiveInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:                envOr("PORT", "8080"),
		LogLevel:            envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		LedgerPath:          envOr("LEDGER_PATH", "arbiter-ledger.jsonl"),
		MaxAcceptanceWindow: envDuration("MAX_ACCEPTANCE_WINDOW", time.Hour),
		ClockSkewGrace:      envDuration("CLOCK_SKEW_GRACE", 30*time.Second),
		KeyCacheTTL:         envDuration("KEY_CACHE_TTL", 30*time.Second),
		DecideTimeout:       envDuration("DECIDE_TIMEOUT", 5*time.Second),
		LegacyFallbackKey:   os.Getenv("LEGACY_FALLBACK_KEY"),
		HMACMasterSecret:    os.Getenv("HMAC_MASTER_SECRET"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		ProfilePath:         os.Getenv("PROFILE_PATH"),
		RateLimitPerSecond:  envFloat("RATE_LIMIT_PER_SECOND", 50),
		ArchiveInterval:     envDuration("ARCHIVE_INTERVAL", 5*time.Minute),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
