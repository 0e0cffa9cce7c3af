// Package config loads the environment-variable surface the agent reads at
// startup into a typed Config, using the GetEnv/GetEnvBool helper family
// pattern from infrastructure/config/loader.go and a godotenv-at-boot load.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-sourced setting the agent needs at boot.
type Config struct {
	SolanaRPCURL             string
	PaymentRecipientPubKey   string
	SignerPrivateKey         string
	SessionExpirySeconds     int
	SessionMaxSignatures     int
	BalanceThreshold         float64
	BalancePollIntervalSecs  int
	FacilitatorBaseURL       string
	FacilitatorSecret        string
	AutonomyQueueIntervalSec int
	AutonomyMinRunScore      float64
	AutonomyMaxBackoffSecs   int
	AdminAPIKey              string
	AllowedOrigins           []string

	LogLevel  string
	LogFormat string

	HTTPPort int
}

// Load reads a .env file if present (ignoring a missing file, matching
// godotenv's typical best-effort use at process boot) and then populates
// Config from the process environment, applying documented defaults
// wherever a variable is unset.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		SolanaRPCURL:             GetEnv("SOLANA_RPC_URL", "http://127.0.0.1:8899"),
		PaymentRecipientPubKey:   GetEnv("PAYMENT_RECIPIENT_PUBLIC_KEY", ""),
		SignerPrivateKey:         GetEnv("SIGNER_PRIVATE_KEY", ""),
		SessionExpirySeconds:     GetEnvInt("SESSION_EXPIRY_SECONDS", 3600),
		SessionMaxSignatures:     GetEnvInt("SESSION_MAX_SIGNATURES", 3),
		BalanceThreshold:         GetEnvFloat("BALANCE_THRESHOLD", 0.05),
		BalancePollIntervalSecs:  GetEnvInt("BALANCE_POLL_INTERVAL_SECONDS", 30),
		FacilitatorBaseURL:       GetEnv("FACILITATOR_BASE_URL", ""),
		FacilitatorSecret:        GetEnv("FACILITATOR_SECRET", ""),
		AutonomyQueueIntervalSec: GetEnvInt("AUTONOMY_QUEUE_INTERVAL_SECONDS", 20),
		AutonomyMinRunScore:      GetEnvFloat("AUTONOMY_MIN_RUN_SCORE", 0.5),
		AutonomyMaxBackoffSecs:   GetEnvInt("AUTONOMY_MAX_BACKOFF_SECONDS", 900),
		AdminAPIKey:              GetEnv("ADMIN_API_KEY", ""),
		AllowedOrigins:           GetEnvCSV("ALLOWED_ORIGINS", nil),
		LogLevel:                 GetEnv("LOG_LEVEL", "info"),
		LogFormat:                GetEnv("LOG_FORMAT", "text"),
		HTTPPort:                 GetEnvInt("HTTP_PORT", 8080),
	}
}

// BalancePollInterval returns the configured poll period, floored at a 5s
// minimum.
func (c *Config) BalancePollInterval() time.Duration {
	d := time.Duration(c.BalancePollIntervalSecs) * time.Second
	if d < 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// AutonomyQueueInterval returns the configured scheduler tick period, floored
// at a 5s minimum.
func (c *Config) AutonomyQueueInterval() time.Duration {
	d := time.Duration(c.AutonomyQueueIntervalSec) * time.Second
	if d < 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// SessionExpiry returns the configured session TTL as a Duration.
func (c *Config) SessionExpiry() time.Duration {
	return time.Duration(c.SessionExpirySeconds) * time.Second
}

// AutonomyMaxBackoff returns the configured backoff ceiling as a Duration.
func (c *Config) AutonomyMaxBackoff() time.Duration {
	return time.Duration(c.AutonomyMaxBackoffSecs) * time.Second
}

// GetEnv retrieves an environment variable with a fallback default.
func GetEnv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvInt retrieves an integer environment variable with a fallback default.
func GetEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

// GetEnvFloat retrieves a float environment variable with a fallback default.
func GetEnvFloat(key string, defaultValue float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

// GetEnvBool retrieves a boolean environment variable, accepting
// true/1/yes/y case-insensitively, with a fallback default.
func GetEnvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultValue
	}
	switch v {
	case "true", "1", "yes", "y":
		return true
	case "false", "0", "no", "n":
		return false
	default:
		return defaultValue
	}
}

// GetEnvCSV splits a comma-separated environment variable into a trimmed
// slice, or returns defaultValue if unset.
func GetEnvCSV(key string, defaultValue []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
