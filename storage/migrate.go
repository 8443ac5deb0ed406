package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFS embed.FS

// migrateSchema applies every pending migration for the dialect and returns
// the resulting schema version. The migrate instance is not closed because
// that would close db as well.
func migrateSchema(db *sql.DB, driver string) (uint, error) {
	var (
		dir   string
		dbDrv database.Driver
		err   error
	)

	switch driver {
	case DriverSQLite:
		dir = "migrations/sqlite"
		dbDrv, err = migratesqlite3.WithInstance(db, &migratesqlite3.Config{})
	case DriverPostgres:
		dir = "migrations/postgres"
		dbDrv, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	default:
		return 0, fmt.Errorf("no migrations for driver %q", driver)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create migration driver: %w", err)
	}

	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, dbDrv)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}

	v, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}
