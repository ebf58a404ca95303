package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, PresenceGlobal, cfg.PresenceScope)
	assert.Equal(t, ActivityLog, cfg.Activity.Backend)
	assert.Equal(t, 2*time.Second, cfg.AccessCheckTimeout)
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("MAX_MESSAGE_SIZE", "8192")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_ISSUER", "files")
	t.Setenv("ACCESS_CHECK_TIMEOUT", "750ms")
	t.Setenv("ACTIVITY_BACKEND", "MONGO")
	t.Setenv("ACTIVITY_WORKERS", "4")
	t.Setenv("ACTIVITY_TIMEOUT", "10")
	t.Setenv("PRESENCE_SCOPE", "shared")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(8192), cfg.MaxMessageSize)
	assert.Equal(t, 7, cfg.RateLimit.Burst)
	assert.Equal(t, 3*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, "files", cfg.Auth.Issuer)
	assert.Equal(t, 750*time.Millisecond, cfg.AccessCheckTimeout)
	assert.Equal(t, ActivityMongo, cfg.Activity.Backend)
	assert.Equal(t, 4, cfg.Activity.Workers)
	assert.Equal(t, 10*time.Second, cfg.Activity.Timeout)
	assert.Equal(t, PresenceShared, cfg.PresenceScope)
}

func TestNewConfigFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("ACCESS_CHECK_TIMEOUT", "soon")

	cfg := NewConfigFromEnv()

	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.AccessCheckTimeout)
}

func TestSanitize(t *testing.T) {
	cfg := Sanitize(Config{
		Activity:      ActivityConfig{Backend: "kafka"},
		PresenceScope: "everyone",
	})

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, ActivityLog, cfg.Activity.Backend)
	assert.Equal(t, PresenceGlobal, cfg.PresenceScope)
	assert.Equal(t, 1024, cfg.Activity.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Sanitize(Config{})
	require.ErrorIs(t, cfg.Validate(), ErrMissingSecret)

	cfg.Auth.Secret = "x"
	require.NoError(t, cfg.Validate())

	cfg.Activity.Backend = ActivityPostgres
	assert.Error(t, cfg.Validate())

	cfg.DatabaseURL = "postgres://localhost/db"
	assert.NoError(t, cfg.Validate())

	cfg.Activity.Backend = ActivityMongo
	assert.Error(t, cfg.Validate())
}
