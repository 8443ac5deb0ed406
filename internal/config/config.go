package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"

	"zen.app/cloud/internal/version"
	"zen.app/cloud/licensing"
	"zen.app/cloud/models"
	"zen.app/cloud/storage"
)

type Config struct {
	Port string

	StorageDriver string
	DatabaseURL   string

	StripeWebhookSecret string

	CurrentMajorVersion int
	EarlyAdopterLimit   int
	SessionPollAttempts int
	SessionPollInterval time.Duration
	ProductTiers        map[string]models.Tier

	RedisURL string

	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	SentryDSN  string
	LogLevel   string
	AppVersion string
}

// Load reads an optional .env file into the environment and builds the
// configuration from it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return New()
}

func New() (*Config, error) {
	return fromLookup(os.Getenv)
}

// fromLookup collects every configuration problem instead of stopping at
// the first one.
func fromLookup(getenv func(string) string) (*Config, error) {
	var result *multierror.Error

	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	positiveInt := func(key string, fallback int) int {
		raw := get(key, "")
		if raw == "" {
			return fallback
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s must be a positive integer, got %q", key, raw))
			return fallback
		}
		return n
	}

	duration := func(key string, fallback time.Duration) time.Duration {
		raw := get(key, "")
		if raw == "" {
			return fallback
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s must be a positive duration, got %q", key, raw))
			return fallback
		}
		return d
	}

	cfg := &Config{
		Port:                get("PORT", "8080"),
		StorageDriver:       get("STORAGE_DRIVER", storage.DriverSQLite),
		DatabaseURL:         get("DATABASE_URL", "zen.db"),
		StripeWebhookSecret: get("STRIPE_WEBHOOK_SECRET", ""),
		EarlyAdopterLimit:   positiveInt("EARLY_ADOPTER_LIMIT", licensing.DefaultEarlyAdopterCapacity),
		SessionPollAttempts: positiveInt("SESSION_POLL_ATTEMPTS", licensing.DefaultPollAttempts),
		SessionPollInterval: duration("SESSION_POLL_INTERVAL", licensing.DefaultPollInterval),
		RedisURL:            get("REDIS_URL", ""),
		RateLimitRequests:   positiveInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:     duration("RATE_LIMIT_WINDOW", time.Minute),
		SentryDSN:           get("SENTRY_DSN", ""),
		LogLevel:            get("LOG_LEVEL", "INFO"),
		AppVersion:          get("APP_VERSION", "dev"),
	}

	if cfg.StripeWebhookSecret == "" {
		result = multierror.Append(result, errors.New("STRIPE_WEBHOOK_SECRET environment variable is required"))
	}

	switch cfg.StorageDriver {
	case storage.DriverSQLite, storage.DriverPostgres, storage.DriverFile:
		if cfg.DatabaseURL == "" {
			result = multierror.Append(result, errors.New("DATABASE_URL environment variable is required"))
		}
	case storage.DriverMemory:
	default:
		result = multierror.Append(result, fmt.Errorf("STORAGE_DRIVER must be one of sqlite3, pgx, file, memory, got %q", cfg.StorageDriver))
	}

	major, err := version.ExtractMajorVersion(get("CURRENT_MAJOR_VERSION", "1"))
	if err != nil || major == 0 {
		result = multierror.Append(result, fmt.Errorf("CURRENT_MAJOR_VERSION must be a version with a major of at least 1, got %q", getenv("CURRENT_MAJOR_VERSION")))
	}
	cfg.CurrentMajorVersion = major

	products, err := licensing.ParseProductMap(get("PRODUCT_TIER_MAP", ""))
	if err != nil {
		result = multierror.Append(result, fmt.Errorf("PRODUCT_TIER_MAP: %w", err))
	}
	cfg.ProductTiers = products

	for _, origin := range strings.Split(get("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}
