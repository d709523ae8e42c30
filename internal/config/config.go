// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Bounty economics. Amounts are integer minor units (cents).
	// FeeRateBps is snapshotted onto every bounty at creation time, so
	// changing it never affects bounties already created.
	StakeMin   int64
	StakeMax   int64
	FeeRateBps int // platform fee in basis points (500 = 5%)

	// Platform fee destination account
	PlatformAccount string

	// Lifecycle timing
	DisputeWindow    time.Duration // time after result submission before payout is final
	ExpiryGrace      time.Duration // slack added to expires_at before the sweeper acts
	SweepInterval    time.Duration // how often the expiry sweeper runs
	SweepBatchSize   int
	IdempotencyTTL   time.Duration // retention for idempotency records of terminal bounties
	DefaultExpiresIn time.Duration // default bounty lifetime when the caller gives none

	// Limits
	MaxActivePerAcceptor int // concurrent ACCEPTED+IN_PROGRESS cap per acceptor
	CreatesPerHour       int // per-creator bounty creation rate limit
	RateLimitRPM         int // per-IP HTTP rate limit

	// Security
	ArbiterSecret string // shared secret authorizing dispute resolution
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultStakeMin       = int64(100)     // 1.00
	DefaultStakeMax       = int64(1000000) // 10,000.00
	DefaultFeeRateBps     = 500            // 5%
	DefaultDisputeWindow  = 24 * time.Hour
	DefaultExpiryGrace    = 2 * time.Minute
	DefaultSweepInterval  = 15 * time.Minute
	DefaultSweepBatch     = 100
	DefaultIdempotencyTTL = 90 * 24 * time.Hour
	DefaultExpiresIn      = 24 * time.Hour
	DefaultMaxActive      = 3
	DefaultCreatesPerHour = 20
	DefaultRateLimit      = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		StakeMin:             getEnvInt64("STAKE_MIN", DefaultStakeMin),
		StakeMax:             getEnvInt64("STAKE_MAX", DefaultStakeMax),
		FeeRateBps:           int(getEnvInt64("FEE_RATE_BPS", DefaultFeeRateBps)),
		PlatformAccount:      getEnv("PLATFORM_ACCOUNT", "platform"),
		DisputeWindow:        getEnvDuration("DISPUTE_WINDOW", DefaultDisputeWindow),
		ExpiryGrace:          getEnvDuration("EXPIRY_GRACE", DefaultExpiryGrace),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		SweepBatchSize:       int(getEnvInt64("SWEEP_BATCH_SIZE", DefaultSweepBatch)),
		IdempotencyTTL:       getEnvDuration("IDEMPOTENCY_TTL", DefaultIdempotencyTTL),
		DefaultExpiresIn:     getEnvDuration("DEFAULT_EXPIRES_IN", DefaultExpiresIn),
		MaxActivePerAcceptor: int(getEnvInt64("MAX_ACTIVE_PER_ACCEPTOR", DefaultMaxActive)),
		CreatesPerHour:       int(getEnvInt64("CREATES_PER_HOUR", DefaultCreatesPerHour)),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		ArbiterSecret:        os.Getenv("ARBITER_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.StakeMin <= 0 {
		return fmt.Errorf("STAKE_MIN must be positive, got %d", c.StakeMin)
	}
	if c.StakeMax < c.StakeMin {
		return fmt.Errorf("STAKE_MAX (%d) must be >= STAKE_MIN (%d)", c.StakeMax, c.StakeMin)
	}
	if c.FeeRateBps < 0 || c.FeeRateBps >= 10000 {
		return fmt.Errorf("FEE_RATE_BPS must be in [0, 10000), got %d", c.FeeRateBps)
	}
	if c.PlatformAccount == "" {
		return fmt.Errorf("PLATFORM_ACCOUNT is required")
	}
	if c.DisputeWindow <= 0 {
		return fmt.Errorf("DISPUTE_WINDOW must be positive")
	}
	if c.SweepBatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	if c.IsProduction() && c.ArbiterSecret == "" {
		return fmt.Errorf("ARBITER_SECRET is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
