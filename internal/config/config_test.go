package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zen.app/cloud/models"
)

func lookup(env map[string]string) func(string) string {
	return func(key string) string {
		return env[key]
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := fromLookup(lookup(map[string]string{
		"STRIPE_WEBHOOK_SECRET": "whsec_test",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.StorageDriver)
	assert.Equal(t, "zen.db", cfg.DatabaseURL)
	assert.Equal(t, 1, cfg.CurrentMajorVersion)
	assert.Equal(t, 150, cfg.EarlyAdopterLimit)
	assert.Equal(t, 10, cfg.SessionPollAttempts)
	assert.Equal(t, time.Second, cfg.SessionPollInterval)
	assert.Empty(t, cfg.ProductTiers)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 20, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "dev", cfg.AppVersion)
}

func TestOverrides(t *testing.T) {
	cfg, err := fromLookup(lookup(map[string]string{
		"PORT":                  "9090",
		"STORAGE_DRIVER":        "pgx",
		"DATABASE_URL":          "postgres://zen@localhost/zen",
		"STRIPE_WEBHOOK_SECRET": "whsec_test",
		"CURRENT_MAJOR_VERSION": "2.4.1",
		"EARLY_ADOPTER_LIMIT":   "75",
		"SESSION_POLL_ATTEMPTS": "3",
		"SESSION_POLL_INTERVAL": "250ms",
		"PRODUCT_TIER_MAP":      "prod_a:starter,prod_b:early_adopter",
		"REDIS_URL":             "redis://localhost:6379/0",
		"CORS_ALLOWED_ORIGINS":  "https://zen.app, https://www.zen.app",
		"RATE_LIMIT_REQUESTS":   "5",
		"RATE_LIMIT_WINDOW":     "30s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "pgx", cfg.StorageDriver)
	assert.Equal(t, 2, cfg.CurrentMajorVersion)
	assert.Equal(t, 75, cfg.EarlyAdopterLimit)
	assert.Equal(t, 3, cfg.SessionPollAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.SessionPollInterval)
	assert.Equal(t, map[string]models.Tier{
		"prod_a": models.TierStarter,
		"prod_b": models.TierEarlyAdopter,
	}, cfg.ProductTiers)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, []string{"https://zen.app", "https://www.zen.app"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 5, cfg.RateLimitRequests)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
}

func TestAllProblemsAreReported(t *testing.T) {
	_, err := fromLookup(lookup(map[string]string{
		"STORAGE_DRIVER":        "mongo",
		"CURRENT_MAJOR_VERSION": "latest",
		"EARLY_ADOPTER_LIMIT":   "-1",
		"SESSION_POLL_INTERVAL": "soon",
		"PRODUCT_TIER_MAP":      "prod_a:platinum",
	}))
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"STRIPE_WEBHOOK_SECRET",
		"STORAGE_DRIVER",
		"CURRENT_MAJOR_VERSION",
		"EARLY_ADOPTER_LIMIT",
		"SESSION_POLL_INTERVAL",
		"PRODUCT_TIER_MAP",
	} {
		assert.True(t, strings.Contains(msg, want), "expected %s in %q", want, msg)
	}
}

func TestFreeProductMappingIsRejected(t *testing.T) {
	_, err := fromLookup(lookup(map[string]string{
		"STRIPE_WEBHOOK_SECRET": "whsec_test",
		"PRODUCT_TIER_MAP":      "prod_paid:free",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRODUCT_TIER_MAP")
}

func TestZeroMajorVersionIsRejected(t *testing.T) {
	_, err := fromLookup(lookup(map[string]string{
		"STRIPE_WEBHOOK_SECRET": "whsec_test",
		"CURRENT_MAJOR_VERSION": "0",
	}))
	assert.Error(t, err)
}

func TestMemoryDriverNeedsNoDatabase(t *testing.T) {
	cfg, err := fromLookup(lookup(map[string]string{
		"STRIPE_WEBHOOK_SECRET": "whsec_test",
		"STORAGE_DRIVER":        "memory",
	}))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StorageDriver)
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("PORT", "7070")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "whsec_env", cfg.StripeWebhookSecret)
	assert.Equal(t, "7070", cfg.Port)
}
