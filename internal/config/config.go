package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName           = "PetaWallet"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultLedgerMaxRetries  = 5
	defaultSweepInterval     = 250 * time.Millisecond
	defaultReconcileSchedule = "@every 5m"
	defaultEscrowSchedule    = "@every 30s"
	defaultFraudThreshold    = 60
	defaultVelocityWindow    = time.Minute
	defaultVelocityLimit     = 10
	defaultReviewTTL         = 24 * time.Hour
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// LedgerMaxRetries bounds the optimistic retry loop of atomic transactions.
	LedgerMaxRetries int
	// SweepInterval is how often expired reservations are released.
	SweepInterval time.Duration
	// ReconcileSchedule is a cron spec for the balance reconciliation pass.
	ReconcileSchedule string
	// EscrowSchedule is a cron spec for the escrow auto-release pass.
	EscrowSchedule string
	// FraudThreshold is the risk score at or above which transfers are blocked.
	FraudThreshold int
	// VelocityWindow and VelocityLimit tune the transaction-velocity risk factor.
	VelocityWindow time.Duration
	VelocityLimit  int
	// ReviewTTL is how long a manual-review approval token stays redeemable.
	ReviewTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		LedgerMaxRetries:  defaultLedgerMaxRetries,
		SweepInterval:     defaultSweepInterval,
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", defaultReconcileSchedule),
		EscrowSchedule:    getEnv("ESCROW_SCHEDULE", defaultEscrowSchedule),
		FraudThreshold:    defaultFraudThreshold,
		VelocityWindow:    defaultVelocityWindow,
		VelocityLimit:     defaultVelocityLimit,
		ReviewTTL:         defaultReviewTTL,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("RESERVATION_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.VelocityWindow, err = durationEnv("FRAUD_VELOCITY_WINDOW", cfg.VelocityWindow); err != nil {
		return Config{}, err
	}
	if cfg.ReviewTTL, err = durationEnv("REVIEW_TOKEN_TTL", cfg.ReviewTTL); err != nil {
		return Config{}, err
	}
	if cfg.LedgerMaxRetries, err = intEnv("LEDGER_MAX_RETRIES", cfg.LedgerMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.FraudThreshold, err = intEnv("FRAUD_BLOCK_THRESHOLD", cfg.FraudThreshold); err != nil {
		return Config{}, err
	}
	if cfg.VelocityLimit, err = intEnv("FRAUD_VELOCITY_LIMIT", cfg.VelocityLimit); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
