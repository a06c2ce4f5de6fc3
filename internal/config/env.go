// Package config handles environment-based configuration loading for the broker.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// LogLevel is a configured logging level name.
type LogLevel string

// Supported log levels. "warning" and "critical" are aliases kept for
// compatibility with deployments migrated from the original service.
const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// IsValid reports whether l names a supported log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelCritical:
		return true
	}
	return false
}

// Supported JWT signing algorithms.
var validAuthAlgorithms = []string{"HS256", "HS384", "HS512"}

// Supported log formatters.
const (
	LogFormatterJSON    = "json"
	LogFormatterConsole = "console"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Database
	DatabaseURL         string
	DatabaseEcho        bool
	DatabasePoolSize    int
	DatabaseMaxOverflow int
	DatabasePoolPrePing bool

	// Subscription defaults
	SubscriptionMaxAttempts        int
	SubscriptionBackoffMinSeconds  int
	SubscriptionBackoffMaxSeconds  int

	// API
	APIHost       string
	APIPort       int
	APINumWorkers int
	APIDebug      bool

	// Cleanup workers
	CleanupAckedMessagesOlderThanSeconds    int
	CleanupStuckMessagesLockTimeoutSeconds  int
	CleanupSchedule                         string

	// Auth
	AuthEnabled                  bool
	AuthSecretKey                string
	AuthAlgorithm                string
	AuthAccessTokenExpireMinutes int

	// Log
	LogLevel     LogLevel
	LogFormatter string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error listing every invalid or missing value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Database ---
	cfg.DatabaseURL = strings.TrimSpace(envStr("FASTPUBSUB_DATABASE_URL", ""))
	cfg.DatabaseEcho = envBool("FASTPUBSUB_DATABASE_ECHO", false, &errs)
	cfg.DatabasePoolSize = envInt("FASTPUBSUB_DATABASE_POOL_SIZE", 5, &errs)
	cfg.DatabaseMaxOverflow = envInt("FASTPUBSUB_DATABASE_MAX_OVERFLOW", 10, &errs)
	cfg.DatabasePoolPrePing = envBool("FASTPUBSUB_DATABASE_POOL_PRE_PING", true, &errs)

	// --- Subscription defaults ---
	cfg.SubscriptionMaxAttempts = envInt("FASTPUBSUB_SUBSCRIPTION_MAX_ATTEMPTS", 5, &errs)
	cfg.SubscriptionBackoffMinSeconds = envInt("FASTPUBSUB_SUBSCRIPTION_BACKOFF_MIN_SECONDS", 5, &errs)
	cfg.SubscriptionBackoffMaxSeconds = envInt("FASTPUBSUB_SUBSCRIPTION_BACKOFF_MAX_SECONDS", 300, &errs)

	// --- API ---
	cfg.APIHost = strings.TrimSpace(envStr("FASTPUBSUB_API_HOST", "0.0.0.0"))
	cfg.APIPort = envInt("FASTPUBSUB_API_PORT", 8000, &errs)
	cfg.APINumWorkers = envInt("FASTPUBSUB_API_NUM_WORKERS", 0, &errs)
	cfg.APIDebug = envBool("FASTPUBSUB_API_DEBUG", false, &errs)

	// --- Cleanup workers ---
	cfg.CleanupAckedMessagesOlderThanSeconds = envInt("FASTPUBSUB_CLEANUP_ACKED_MESSAGES_OLDER_THAN_SECONDS", 3600, &errs)
	cfg.CleanupStuckMessagesLockTimeoutSeconds = envInt("FASTPUBSUB_CLEANUP_STUCK_MESSAGES_LOCK_TIMEOUT_SECONDS", 60, &errs)
	cfg.CleanupSchedule = strings.TrimSpace(envStr("FASTPUBSUB_CLEANUP_SCHEDULE", ""))

	// --- Auth ---
	cfg.AuthEnabled = envBool("FASTPUBSUB_AUTH_ENABLED", false, &errs)
	cfg.AuthSecretKey = envStr("FASTPUBSUB_AUTH_SECRET_KEY", "")
	cfg.AuthAlgorithm = envStr("FASTPUBSUB_AUTH_ALGORITHM", "HS256")
	cfg.AuthAccessTokenExpireMinutes = envInt("FASTPUBSUB_AUTH_ACCESS_TOKEN_EXPIRE_MINUTES", 30, &errs)

	// --- Log ---
	cfg.LogLevel = LogLevel(strings.ToLower(envStr("FASTPUBSUB_LOG_LEVEL", string(LogLevelInfo))))
	cfg.LogFormatter = strings.ToLower(envStr("FASTPUBSUB_LOG_FORMATTER", LogFormatterJSON))

	// --- Validation ---
	if cfg.DatabaseURL == "" {
		errs = append(errs, "FASTPUBSUB_DATABASE_URL must be defined")
	} else if !strings.HasPrefix(cfg.DatabaseURL, "postgres://") && !strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		errs = append(errs, "FASTPUBSUB_DATABASE_URL must start with 'postgres://' or 'postgresql://'")
	}
	validatePositive("FASTPUBSUB_DATABASE_POOL_SIZE", cfg.DatabasePoolSize, &errs)
	validateNonNegative("FASTPUBSUB_DATABASE_MAX_OVERFLOW", cfg.DatabaseMaxOverflow, &errs)

	validatePositive("FASTPUBSUB_SUBSCRIPTION_MAX_ATTEMPTS", cfg.SubscriptionMaxAttempts, &errs)
	validatePositive("FASTPUBSUB_SUBSCRIPTION_BACKOFF_MIN_SECONDS", cfg.SubscriptionBackoffMinSeconds, &errs)
	validatePositive("FASTPUBSUB_SUBSCRIPTION_BACKOFF_MAX_SECONDS", cfg.SubscriptionBackoffMaxSeconds, &errs)
	if cfg.SubscriptionBackoffMaxSeconds < cfg.SubscriptionBackoffMinSeconds {
		errs = append(errs, "FASTPUBSUB_SUBSCRIPTION_BACKOFF_MAX_SECONDS must be greater than or equal to FASTPUBSUB_SUBSCRIPTION_BACKOFF_MIN_SECONDS")
	}

	if cfg.APIHost == "" {
		errs = append(errs, "FASTPUBSUB_API_HOST must not be empty")
	}
	validatePort("FASTPUBSUB_API_PORT", cfg.APIPort, &errs)
	validateNonNegative("FASTPUBSUB_API_NUM_WORKERS", cfg.APINumWorkers, &errs)

	validatePositive("FASTPUBSUB_CLEANUP_ACKED_MESSAGES_OLDER_THAN_SECONDS", cfg.CleanupAckedMessagesOlderThanSeconds, &errs)
	validatePositive("FASTPUBSUB_CLEANUP_STUCK_MESSAGES_LOCK_TIMEOUT_SECONDS", cfg.CleanupStuckMessagesLockTimeoutSeconds, &errs)
	if cfg.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.CleanupSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("FASTPUBSUB_CLEANUP_SCHEDULE: invalid cron expression %q: %v", cfg.CleanupSchedule, err))
		}
	}

	if cfg.AuthEnabled {
		if cfg.AuthSecretKey == "" {
			errs = append(errs, "FASTPUBSUB_AUTH_SECRET_KEY must be defined when auth is enabled")
		} else if IsWeakSecretKey(cfg.AuthSecretKey) {
			errs = append(errs, "FASTPUBSUB_AUTH_SECRET_KEY is too weak; generate one with the generate_secret_key command")
		}
	}
	if !isValidAuthAlgorithm(cfg.AuthAlgorithm) {
		errs = append(errs, fmt.Sprintf("FASTPUBSUB_AUTH_ALGORITHM: invalid value %q (allowed: %s)", cfg.AuthAlgorithm, strings.Join(validAuthAlgorithms, ", ")))
	}
	validatePositive("FASTPUBSUB_AUTH_ACCESS_TOKEN_EXPIRE_MINUTES", cfg.AuthAccessTokenExpireMinutes, &errs)

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Sprintf("FASTPUBSUB_LOG_LEVEL: invalid value %q (allowed: debug, info, warning, error, critical)", cfg.LogLevel))
	}
	if cfg.LogFormatter != LogFormatterJSON && cfg.LogFormatter != LogFormatterConsole {
		errs = append(errs, fmt.Sprintf("FASTPUBSUB_LOG_FORMATTER: invalid value %q (allowed: %s, %s)", cfg.LogFormatter, LogFormatterJSON, LogFormatterConsole))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validateNonNegative(name string, value int, errs *[]string) {
	if value < 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be non-negative, got %d", name, value))
	}
}

func isValidAuthAlgorithm(alg string) bool {
	for _, a := range validAuthAlgorithms {
		if alg == a {
			return true
		}
	}
	return false
}
