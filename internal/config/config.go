// Package config provides configuration helpers that define runtime defaults,
// validation, and environment overrides for the collaboration server.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Presence scopes accepted by PRESENCE_SCOPE.
const (
	PresenceGlobal = "global"
	PresenceShared = "shared"
)

// Activity sink backends accepted by ACTIVITY_BACKEND.
const (
	ActivityPostgres = "postgres"
	ActivityMongo    = "mongo"
	ActivityLog      = "log"
)

// ErrMissingSecret is returned by Validate when no JWT secret is configured.
var ErrMissingSecret = errors.New("config: JWT_SECRET is required")

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// AuthConfig holds the token verification settings.
type AuthConfig struct {
	Secret string
	Issuer string
}

// ActivityConfig controls where and how activity events are persisted.
type ActivityConfig struct {
	Backend   string
	QueueSize int
	Workers   int
	Timeout   time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port               string
	AllowedOrigins     []string
	MaxMessageSize     int64
	RateLimit          RateLimitConfig
	Auth               AuthConfig
	DatabaseURL        string
	RedisURL           string
	AccessCacheTTL     time.Duration
	AccessCheckTimeout time.Duration
	MongoURI           string
	MongoDatabase      string
	Activity           ActivityConfig
	PresenceScope      string
	ShutdownTimeout    time.Duration
	LogLevel           string
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Auth: AuthConfig{
			Issuer: "gocollab",
		},
		AccessCacheTTL:     30 * time.Second,
		AccessCheckTimeout: 2 * time.Second,
		MongoDatabase:      "gocollab",
		Activity: ActivityConfig{
			Backend:   ActivityLog,
			QueueSize: 1024,
			Workers:   2,
			Timeout:   5 * time.Second,
		},
		PresenceScope:   PresenceGlobal,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
	}
}

// Sanitize replaces zero or out-of-range values with defaults and normalizes
// enumerated settings. It never fails; Validate reports fatal problems.
func Sanitize(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.AccessCacheTTL <= 0 {
		cfg.AccessCacheTTL = def.AccessCacheTTL
	}
	if cfg.AccessCheckTimeout <= 0 {
		cfg.AccessCheckTimeout = def.AccessCheckTimeout
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = def.MongoDatabase
	}
	if cfg.Activity.QueueSize <= 0 {
		cfg.Activity.QueueSize = def.Activity.QueueSize
	}
	if cfg.Activity.Workers <= 0 {
		cfg.Activity.Workers = def.Activity.Workers
	}
	if cfg.Activity.Timeout <= 0 {
		cfg.Activity.Timeout = def.Activity.Timeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	switch strings.ToLower(cfg.Activity.Backend) {
	case ActivityPostgres, ActivityMongo, ActivityLog:
		cfg.Activity.Backend = strings.ToLower(cfg.Activity.Backend)
	default:
		if cfg.Activity.Backend != "" {
			slog.Warn("unknown activity backend, falling back to log", "backend", cfg.Activity.Backend)
		}
		cfg.Activity.Backend = ActivityLog
	}

	switch strings.ToLower(cfg.PresenceScope) {
	case PresenceShared:
		cfg.PresenceScope = PresenceShared
	default:
		cfg.PresenceScope = PresenceGlobal
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Validate reports configuration problems that prevent the server from starting.
func (c Config) Validate() error {
	if c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if c.Activity.Backend == ActivityPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("config: activity backend %q requires DATABASE_URL", c.Activity.Backend)
	}
	if c.Activity.Backend == ActivityMongo && c.MongoURI == "" {
		return fmt.Errorf("config: activity backend %q requires MONGO_URI", c.Activity.Backend)
	}
	return nil
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadDotEnv loads variables from the given .env files (or ./.env when none
// are given) without overriding variables already present in the environment.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("no .env file loaded, using process environment", "error", err)
	}
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}

	cfg.Auth.Secret = os.Getenv("JWT_SECRET")
	if issuer, ok := os.LookupEnv("JWT_ISSUER"); ok {
		cfg.Auth.Issuer = issuer
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if ttl := os.Getenv("ACCESS_CACHE_TTL"); ttl != "" {
		cfg.AccessCacheTTL = parseDuration(ttl, cfg.AccessCacheTTL)
	}
	if timeout := os.Getenv("ACCESS_CHECK_TIMEOUT"); timeout != "" {
		cfg.AccessCheckTimeout = parseDuration(timeout, cfg.AccessCheckTimeout)
	}

	cfg.MongoURI = os.Getenv("MONGO_URI")
	if db := os.Getenv("MONGO_DATABASE"); db != "" {
		cfg.MongoDatabase = db
	}

	if backend := os.Getenv("ACTIVITY_BACKEND"); backend != "" {
		cfg.Activity.Backend = backend
	}
	if size := os.Getenv("ACTIVITY_QUEUE_SIZE"); size != "" {
		cfg.Activity.QueueSize = parseIntValue(size, cfg.Activity.QueueSize)
	}
	if workers := os.Getenv("ACTIVITY_WORKERS"); workers != "" {
		cfg.Activity.Workers = parseIntValue(workers, cfg.Activity.Workers)
	}
	if timeout := os.Getenv("ACTIVITY_TIMEOUT"); timeout != "" {
		cfg.Activity.Timeout = parseDuration(timeout, cfg.Activity.Timeout)
	}

	if scope := os.Getenv("PRESENCE_SCOPE"); scope != "" {
		cfg.PresenceScope = scope
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	sanitized := Sanitize(cfg)
	return &sanitized
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts a bare number of seconds.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("500ms", "2s") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return parseSeconds(value, defaultValue)
}
