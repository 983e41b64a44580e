// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment names recognised by NODE_ENV.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultWalletMaxBalancePaise = 10_000_000
	DefaultProofConfidence       = 75
	DefaultAutoVerifyThreshold   = 90
	DefaultMaxFailedAttempts     = 7
	DefaultLockoutDuration       = 15 * time.Minute
	DefaultShutdownTimeout       = 30 * time.Second
	DefaultHealthInterval        = 5 * time.Minute
)

// Config represents runtime configuration for the service.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string

	JWTAccessSecret  string
	JWTRefreshSecret string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	WalletMaxBalancePaise int64

	AIBaseURL              string
	AIProofConfidenceMin   float64
	AIAutoVerifyThreshold  float64
	AIRequestTimeout       time.Duration

	MaxFailedLoginAttempts int
	LockoutDuration        time.Duration

	SeedAdmin bool
	SeedE2E   bool
	SeedDev   bool

	AdminSeedMobile   string
	AdminSeedUsername string
	AdminSeedPassword string
	AdminSeedName     string

	LogDir          string
	HealthInterval  time.Duration
	MemoryWarnBytes uint64
	ShutdownTimeout time.Duration
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// FromEnv loads configuration from environment variables required by the service.
func FromEnv() (*Config, error) {
	env := strings.ToLower(getEnvDefault("NODE_ENV", EnvDevelopment))
	switch env {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		return nil, fmt.Errorf("unsupported NODE_ENV %q", env)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	accessSecret := strings.TrimSpace(os.Getenv("JWT_ACCESS_SECRET"))
	if accessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	refreshSecret := strings.TrimSpace(os.Getenv("JWT_REFRESH_SECRET"))
	if refreshSecret == "" {
		return nil, fmt.Errorf("JWT_REFRESH_SECRET is required")
	}

	maxBalance := parseInt64Env("WALLET_MAX_BALANCE_PAISE", DefaultWalletMaxBalancePaise)
	if maxBalance <= 0 {
		return nil, fmt.Errorf("WALLET_MAX_BALANCE_PAISE must be positive")
	}

	proofMin := parseFloatEnv("AI_PROOF_CONFIDENCE_THRESHOLD", DefaultProofConfidence)
	autoVerify := parseFloatEnv("AI_AUTO_VERIFY_THRESHOLD", DefaultAutoVerifyThreshold)
	if proofMin < 0 || proofMin > 100 || autoVerify < 0 || autoVerify > 100 {
		return nil, fmt.Errorf("AI thresholds must be within [0,100]")
	}

	seedDev := parseBoolEnv("SEED_DEV", false)
	if seedDev && env == EnvProduction {
		return nil, fmt.Errorf("SEED_DEV is refused in production")
	}

	return &Config{
		Port:        normalizePort(getEnvDefault("PORT", "8080")),
		Env:         env,
		DatabaseURL: dbURL,

		JWTAccessSecret:  accessSecret,
		JWTRefreshSecret: refreshSecret,
		AccessTokenTTL:   time.Duration(parseIntEnv("JWT_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTokenTTL:  time.Duration(parseIntEnv("JWT_REFRESH_TTL_SECONDS", 7*24*3600)) * time.Second,

		WalletMaxBalancePaise: maxBalance,

		AIBaseURL:             strings.TrimSpace(os.Getenv("AI_VERIFIER_BASE_URL")),
		AIProofConfidenceMin:  proofMin,
		AIAutoVerifyThreshold: autoVerify,
		AIRequestTimeout:      time.Duration(parseIntEnv("AI_TIMEOUT_SECONDS", 20)) * time.Second,

		MaxFailedLoginAttempts: parseIntEnv("MAX_FAILED_ATTEMPTS", DefaultMaxFailedAttempts),
		LockoutDuration:        time.Duration(parseIntEnv("LOCKOUT_DURATION_MINUTES", 15)) * time.Minute,

		SeedAdmin: parseBoolEnv("SEED_ADMIN", false),
		SeedE2E:   parseBoolEnv("SEED_E2E", false),
		SeedDev:   seedDev,

		AdminSeedMobile:   strings.TrimSpace(os.Getenv("ADMIN_SEED_MOBILE")),
		AdminSeedUsername: strings.TrimSpace(os.Getenv("ADMIN_SEED_USERNAME")),
		AdminSeedPassword: os.Getenv("ADMIN_SEED_PASSWORD"),
		AdminSeedName:     strings.TrimSpace(os.Getenv("ADMIN_SEED_NAME")),

		LogDir:          getEnvDefault("LOG_DIR", "logs"),
		HealthInterval:  time.Duration(parseIntEnv("HEALTH_INTERVAL_SECONDS", 300)) * time.Second,
		MemoryWarnBytes: uint64(parseInt64Env("MEMORY_WARN_BYTES", 0)),
		ShutdownTimeout: time.Duration(parseIntEnv("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	if port == "" {
		return "8080"
	}
	// Allow values like ":8080".
	if port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt64Env(key string, def int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloatEnv(key string, def float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBoolEnv(key string, def bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return def
}
