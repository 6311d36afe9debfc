package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLite driver names accepted by OpenSQLite.
const (
	DriverCgo    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// Table layout version tracking:
// 1 - blobs and meta tables
const currentSchemaVersion = 1

const formatVersionKey = "format_version"

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

// OpenSQLite creates or opens a database at path with the named driver.
// An empty driver selects DriverCgo.
//
// This function is idempotent - safe to call multiple times on one path.
func OpenSQLite(path, driver string) (*SQLite, error) {
	if driver == "" {
		driver = DriverCgo
	}
	if driver != DriverCgo && driver != DriverPureGo {
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("%w: table layout %d is newer than supported %d", ErrMigration, version, currentSchemaVersion)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLite) check(scope string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return checkScope(scope)
}

// Put inserts or replaces a blob.
func (s *SQLite) Put(ctx context.Context, scope, key string, blob []byte) error {
	if err := s.check(scope); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (scope, key, value) VALUES (?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value
	`, scope, key, blob)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", scope, key, err)
	}
	return nil
}

// Get returns the blob or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, scope, key string) ([]byte, error) {
	if err := s.check(scope); err != nil {
		return nil, err
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM blobs WHERE scope = ? AND key = ?", scope, key,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", scope, key, err)
	}
	return blob, nil
}

// Delete removes a blob. Deleting an absent key is not an error.
func (s *SQLite) Delete(ctx context.Context, scope, key string) error {
	if err := s.check(scope); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE scope = ? AND key = ?", scope, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", scope, key, err)
	}
	return nil
}

// Keys lists the keys of a scope in ascending order.
func (s *SQLite) Keys(ctx context.Context, scope string) ([]string, error) {
	if err := s.check(scope); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM blobs WHERE scope = ? ORDER BY key ASC", scope)
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", scope, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("keys %s: scan: %w", scope, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys %s: %w", scope, err)
	}
	return keys, nil
}

// DeleteScope removes every blob in scope.
func (s *SQLite) DeleteScope(ctx context.Context, scope string) error {
	if err := s.check(scope); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE scope = ?", scope); err != nil {
		return fmt.Errorf("delete scope %s: %w", scope, err)
	}
	return nil
}

// Version returns the stored format marker.
func (s *SQLite) Version(ctx context.Context) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE name = ?", formatVersionKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get format version: %w", err)
	}
	return uint64(v), nil
}

// SetVersion records the format marker.
func (s *SQLite) SetVersion(ctx context.Context, v uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meta (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, formatVersionKey, int64(v))
	if err != nil {
		return fmt.Errorf("set format version: %w", err)
	}
	return nil
}

// Close closes the database. Further calls fail with ErrClosed.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
