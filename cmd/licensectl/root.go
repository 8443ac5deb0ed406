package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"zen.app/cloud/internal/logger"
	"zen.app/cloud/internal/slots"
	"zen.app/cloud/internal/version"
	"zen.app/cloud/licensing"
	"zen.app/cloud/storage"
)

type rootOptions struct {
	driver       string
	databaseURL  string
	currentMajor string
	capacity     int
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:          "licensectl",
		Short:        "Operate the Zen license store",
		SilenceUsage: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to read .env: %w", err)
			}
			logger.SetLevel(logger.ParseLevel(envOr("LOG_LEVEL", "WARN")))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.driver, "driver", envOr("STORAGE_DRIVER", storage.DriverSQLite), "Storage driver: sqlite3, pgx, file or memory")
	flags.StringVar(&opts.databaseURL, "database-url", envOr("DATABASE_URL", "zen.db"), "Database DSN or file path")
	flags.StringVar(&opts.currentMajor, "current-major", envOr("CURRENT_MAJOR_VERSION", "1"), "Current major version of the app")
	flags.IntVar(&opts.capacity, "early-adopter-limit", licensing.DefaultEarlyAdopterCapacity, "Early adopter capacity")

	rootCmd.AddCommand(newCmdMigrate(opts))
	rootCmd.AddCommand(newCmdSlots(opts))
	rootCmd.AddCommand(newCmdValidate(opts))
	rootCmd.AddCommand(newCmdRecover(opts))
	return rootCmd
}

func (o *rootOptions) service(store storage.Storage) (*licensing.Service, error) {
	major, err := version.ExtractMajorVersion(o.currentMajor)
	if err != nil || major == 0 {
		return nil, fmt.Errorf("invalid current major version %q", o.currentMajor)
	}
	return licensing.NewService(store, licensing.Options{
		CurrentMajorVersion:  major,
		EarlyAdopterCapacity: o.capacity,
	}), nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCmdMigrate(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			if opts.driver != storage.DriverSQLite && opts.driver != storage.DriverPostgres {
				return fmt.Errorf("migrations need a SQL driver, got %q", opts.driver)
			}
			store, err := storage.NewSQLStorage(opts.driver, opts.databaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Fprintf(c.OutOrStdout(), "schema version %d\n", store.SchemaVersion())
			return nil
		},
	}
}

func newCmdSlots(opts *rootOptions) *cobra.Command {
	var redisURL string
	var sync bool

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Show early adopter slot availability",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			store, err := storage.Open(opts.driver, opts.databaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := opts.service(store)
			if err != nil {
				return err
			}
			avail, err := svc.SlotAvailability(c.Context())
			if err != nil {
				return err
			}

			if sync {
				if redisURL == "" {
					return errors.New("--sync needs --redis-url")
				}
				if err := syncCounter(c.Context(), redisURL, avail.Claimed); err != nil {
					return err
				}
			}
			return writeJSON(c.OutOrStdout(), avail)
		},
	}

	cmd.Flags().StringVar(&redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL of the slot counter")
	cmd.Flags().BoolVar(&sync, "sync", false, "Overwrite the Redis slot counter with the stored count")
	return cmd
}

func syncCounter(ctx context.Context, redisURL string, claimed int) error {
	client, err := slots.NewClientFromURL(redisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := slots.NewRedisReserver(client, slots.DefaultKey).Sync(ctx, claimed); err != nil {
		return err
	}
	logger.Info("Slot counter synced", map[string]interface{}{
		"claimed": claimed,
	})
	return nil
}

func newCmdValidate(opts *rootOptions) *cobra.Command {
	var appVersion string

	cmd := &cobra.Command{
		Use:   "validate <license-key>",
		Short: "Check a license key",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			store, err := storage.Open(opts.driver, opts.databaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := opts.service(store)
			if err != nil {
				return err
			}
			result, err := svc.Validate(c.Context(), args[0], appVersion)
			if err != nil {
				return err
			}
			return writeJSON(c.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&appVersion, "app-version", "", "App version to check against instead of the current major")
	return cmd
}

func newCmdRecover(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover <email>",
		Short: "List the licenses of an email, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			store, err := storage.Open(opts.driver, opts.databaseURL)
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := opts.service(store)
			if err != nil {
				return err
			}
			views, err := svc.RecoverByEmail(c.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(c.OutOrStdout(), map[string][]licensing.LicenseView{"licenses": views})
		},
	}
}
