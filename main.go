package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"zen.app/cloud/handlers"
	"zen.app/cloud/internal/config"
	"zen.app/cloud/internal/logger"
	"zen.app/cloud/internal/slots"
	"zen.app/cloud/licensing"
	"zen.app/cloud/models"
	"zen.app/cloud/payments"
	"zen.app/cloud/storage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		logger.Error("Server stopped", map[string]interface{}{
			"error": err.Error(),
		})
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	defer logger.Sync()

	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	} else if cfg.AppVersion != "" {
		version = cfg.AppVersion
	}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Release:          version,
		TracesSampleRate: 1.0,
	})
	if err != nil {
		return fmt.Errorf("sentry.Init: %w", err)
	}
	defer sentry.Flush(2 * time.Second)

	store, err := storage.Open(cfg.StorageDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := licensing.Options{
		Products:             cfg.ProductTiers,
		CurrentMajorVersion:  cfg.CurrentMajorVersion,
		EarlyAdopterCapacity: cfg.EarlyAdopterLimit,
		PollAttempts:         cfg.SessionPollAttempts,
		PollInterval:         cfg.SessionPollInterval,
	}

	if cfg.RedisURL != "" {
		reserver, err := connectReserver(ctx, cfg.RedisURL, store)
		if err != nil {
			return err
		}
		opts.Reserver = reserver
	}

	svc := licensing.NewService(store, opts)
	server := handlers.NewHttpServer(svc, payments.NewStripeVerifier(cfg.StripeWebhookSecret), handlers.Options{
		Version:           version,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	// The session endpoint can hold a request for the whole poll budget.
	writeTimeout := time.Duration(cfg.SessionPollAttempts)*cfg.SessionPollInterval + 20*time.Second
	if writeTimeout < 30*time.Second {
		writeTimeout = 30 * time.Second
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Zen licensing API starting", map[string]interface{}{
			"version":       version,
			"port":          cfg.Port,
			"storage":       cfg.StorageDriver,
			"current_major": cfg.CurrentMajorVersion,
			"redis_slots":   opts.Reserver != nil,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// connectReserver seeds the Redis slot counter from storage. An existing
// counter is left alone since other instances may already be reserving.
func connectReserver(ctx context.Context, redisURL string, store storage.Storage) (*slots.RedisReserver, error) {
	client, err := slots.NewClientFromURL(redisURL)
	if err != nil {
		return nil, err
	}

	reserver := slots.NewRedisReserver(client, slots.DefaultKey)
	if err := reserver.Ping(ctx); err != nil {
		return nil, err
	}

	claimed, err := store.CountLicensesByTier(ctx, models.TierEarlyAdopter)
	if err != nil {
		return nil, fmt.Errorf("failed to count early adopter licenses: %w", err)
	}
	seeded, err := reserver.Seed(ctx, claimed)
	if err != nil {
		return nil, err
	}

	logger.Info("Early adopter slot counter ready", map[string]interface{}{
		"claimed": claimed,
		"seeded":  seeded,
	})
	return reserver, nil
}
