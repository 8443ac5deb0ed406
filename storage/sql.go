package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"zen.app/cloud/internal/logger"
	"zen.app/cloud/models"
)

const licenseColumns = `id, license_key, email, tier, purchased_major_version, versions_included,
	stripe_session_id, stripe_customer_id, stripe_product_id, amount_paid, created_at, updated_at`

// SQLStorage serves both SQLite (mattn/go-sqlite3) and Postgres (pgx).
// Queries are written with ? placeholders and rebound per dialect.
type SQLStorage struct {
	db            *sql.DB
	driver        string
	schemaVersion uint
}

func NewSQLStorage(driver, dsn string) (*SQLStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	v, err := migrateSchema(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLStorage{db: db, driver: driver, schemaVersion: v}, nil
}

func (s *SQLStorage) SchemaVersion() uint {
	return s.schemaVersion
}

func (s *SQLStorage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLStorage) InsertLicense(ctx context.Context, license *models.License) error {
	query := s.rebind(`INSERT INTO licenses (` + licenseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		license.ID,
		license.Key,
		license.Email,
		license.Tier,
		license.PurchasedMajorVersion,
		license.VersionsIncluded,
		nullableString(license.StripeSessionID),
		license.StripeCustomerID,
		license.StripeProductID,
		license.AmountPaid,
		license.CreatedAt.UTC(),
		license.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLicense
		}
		return fmt.Errorf("failed to insert license: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*models.License, error) {
	var (
		license   models.License
		sessionID sql.NullString
	)
	err := row.Scan(
		&license.ID,
		&license.Key,
		&license.Email,
		&license.Tier,
		&license.PurchasedMajorVersion,
		&license.VersionsIncluded,
		&sessionID,
		&license.StripeCustomerID,
		&license.StripeProductID,
		&license.AmountPaid,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	license.StripeSessionID = sessionID.String
	return &license, nil
}

func (s *SQLStorage) findOne(ctx context.Context, column, value string) (*models.License, error) {
	query := s.rebind(`SELECT ` + licenseColumns + ` FROM licenses WHERE ` + column + ` = ?`)

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query license by %s: %w", column, err)
	}
	return license, nil
}

func (s *SQLStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	return s.findOne(ctx, "license_key", key)
}

func (s *SQLStorage) FindLicenseBySessionID(ctx context.Context, sessionID string) (*models.License, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.findOne(ctx, "stripe_session_id", sessionID)
}

func (s *SQLStorage) FindLicensesByEmail(ctx context.Context, email string) ([]*models.License, error) {
	query := s.rebind(`SELECT ` + licenseColumns + ` FROM licenses WHERE email = ? ORDER BY created_at DESC, id DESC`)

	rows, err := s.db.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warn("Failed to close rows", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	licenses := make([]*models.License, 0)
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, license)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating licenses: %w", err)
	}

	return licenses, nil
}

func (s *SQLStorage) CountLicensesByTier(ctx context.Context, tier models.Tier) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM licenses WHERE tier = ?`)

	var count int
	if err := s.db.QueryRowContext(ctx, query, tier).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count licenses: %w", err)
	}
	return count, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}
