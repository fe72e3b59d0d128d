// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/notifyctl.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultCooldown         = 6 * time.Hour
	DefaultPort             = 3000
	DefaultGroupsCollection = "tainted-groups"
	DefaultUsersCollection  = "tainted-users"
	DefaultListenerChannel  = "habit_completed"
)

// Push transports.
const (
	TransportFCM = "fcm"
	TransportLog = "log"
)

// Store backends.
const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Store
	StoreBackend   string `validate:"oneof=postgres firestore memory"`
	DatabaseURL    string `validate:"required_if=StoreBackend postgres"`
	DBPoolMinConns int    `validate:"gte=0"`
	DBPoolMaxConns int    `validate:"gte=1,gtefield=DBPoolMinConns"`
	DBPoolMaxLife  time.Duration

	// Firebase (push transport + Firestore backend). Without a credentials
	// file the SDK uses Application Default Credentials.
	PushTransport           string `validate:"oneof=fcm log"`
	FirebaseCredentialsFile string
	FirebaseProjectID       string
	GroupsCollection        string `validate:"required"`
	UsersCollection         string `validate:"required"`

	// API server
	APIHost     string
	APIPort     int    `validate:"gt=0,lte=65535"`
	Environment string // development, staging, production

	// Logging
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	// CORS
	CORSAllowOrigins []string

	// HTTP rate limiting (per client IP, unrelated to the notification cooldown)
	RateLimitEnabled  bool
	RateLimitRequests int           `validate:"gt=0"`
	RateLimitWindow   time.Duration `validate:"gt=0"`

	// Notification core
	Cooldown           time.Duration `validate:"gt=0"`
	ResolveConcurrency int           `validate:"gte=1"`

	// Transport circuit breaker
	BreakerFailureThreshold uint32 `validate:"gte=1"`
	BreakerTimeout          time.Duration

	// Postgres LISTEN/NOTIFY trigger consumer
	ListenerEnabled bool
	ListenerChannel string `validate:"required_if=ListenerEnabled true"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cooldown, err := envDuration("NOTIFY_COOLDOWN", DefaultCooldown)
	if err != nil {
		return nil, err
	}
	breakerTimeout, err := envDuration("BREAKER_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		StoreBackend:   strings.ToLower(envOr("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		PushTransport:           strings.ToLower(envOr("PUSH_TRANSPORT", TransportFCM)),
		FirebaseCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),
		FirebaseProjectID:       envOr("FIREBASE_PROJECT_ID", ""),
		GroupsCollection:        envOr("FIRESTORE_GROUPS_COLLECTION", DefaultGroupsCollection),
		UsersCollection:         envOr("FIRESTORE_USERS_COLLECTION", DefaultUsersCollection),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", DefaultPort)),
		Environment: envOr("ENVIRONMENT", "development"),

		LogLevel:  strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envOr("LOG_FORMAT", "text")),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		Cooldown:           cooldown,
		ResolveConcurrency: envInt("RESOLVE_CONCURRENCY", 8),

		BreakerFailureThreshold: uint32(envInt("BREAKER_FAILURE_THRESHOLD", 5)),
		BreakerTimeout:          breakerTimeout,

		ListenerEnabled: envBool("LISTENER_ENABLED", false),
		ListenerChannel: envOr("LISTENER_CHANNEL", DefaultListenerChannel),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger on stdout.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("6h", "90m"). Malformed values are
// an error, not a fallback.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
