package storage

import (
	"context"
	"errors"
	"fmt"

	"zen.app/cloud/models"
)

// ErrDuplicateLicense is returned by InsertLicense when the license key or
// the payment session id is already stored.
var ErrDuplicateLicense = errors.New("license already exists")

// Storage persists issued licenses. Lookups that match nothing return
// (nil, nil); a non-nil error always means the backend failed.
type Storage interface {
	InsertLicense(ctx context.Context, license *models.License) error
	FindLicenseByKey(ctx context.Context, key string) (*models.License, error)
	FindLicenseBySessionID(ctx context.Context, sessionID string) (*models.License, error)
	// FindLicensesByEmail returns matches newest first.
	FindLicensesByEmail(ctx context.Context, email string) ([]*models.License, error)
	CountLicensesByTier(ctx context.Context, tier models.Tier) (int, error)

	Close() error
}

const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Open builds the storage backend selected by driver. SQL backends are
// migrated to the latest schema before they are returned.
func Open(driver, dsn string) (Storage, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStorage(), nil
	case DriverFile:
		return NewFileStorage(dsn)
	case DriverSQLite, DriverPostgres:
		return NewSQLStorage(driver, dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
