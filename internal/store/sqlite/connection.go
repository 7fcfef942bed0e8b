// Package sqlite is the primary Job Store backend: hand-rolled SQL over
// modernc.org/sqlite (no ORM), a single-writer connection pool, and
// CAS-guarded status transitions.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"
)

// Config configures the SQLite-backed Job Store.
type Config struct {
	Path           string
	BusyTimeoutMS  int
	CacheSizeMB    int
	WALMode        bool
	ResetOnStartup bool
}

// DefaultConfig returns sensible defaults for the SQLite Job Store.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		BusyTimeoutMS: 5000,
		CacheSizeMB:   32,
		WALMode:       true,
	}
}

// DB wraps the underlying *sql.DB with the pragmas and migrations the Job
// Store schema requires. SQLite does not handle concurrent writers well,
// so the pool is capped to a single connection; callers serialize writes
// through the Store methods, not through the raw DB.
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
}

// Open creates (or reuses) the SQLite database at config.Path and applies
// schema migrations.
func Open(logger arbor.ILogger, config Config) (*DB, error) {
	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	if config.ResetOnStartup {
		if err := os.Remove(config.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("failed to remove database for reset_on_startup")
		}
	}

	sqlDB, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	d := &DB{db: sqlDB, logger: logger}
	if err := d.configure(config); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := d.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) configure(config Config) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = -%d", config.CacheSizeMB*1024),
		fmt.Sprintf("PRAGMA busy_timeout = %d", config.BusyTimeoutMS),
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	if config.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := d.db.Exec(p); err != nil {
			return fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return nil
}

// Raw returns the underlying *sql.DB, used by internal/broker to share the
// same database file as the goqite queue tables.
func (d *DB) Raw() *sql.DB {
	return d.db
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
