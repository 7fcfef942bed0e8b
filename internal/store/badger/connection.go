// Package badger is the secondary Job Store backend: a
// badgerhold-indexed embedded store over dgraph-io/badger/v4. It
// implements the same store.Store contract as internal/store/sqlite, for
// deployments that prefer an embedded LSM store to a single-writer
// SQLite file.
package badger

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// Config configures the Badger-backed Job Store.
type Config struct {
	Path           string
	ResetOnStartup bool
}

// DB wraps the underlying *badgerhold.Store.
type DB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// Open creates (or reuses) the Badger database at config.Path.
func Open(logger arbor.ILogger, config Config) (*DB, error) {
	if config.ResetOnStartup {
		if err := os.RemoveAll(config.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Msg("failed to remove database for reset_on_startup")
		}
	}
	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	opts := badgerhold.DefaultOptions
	opts.Dir = config.Path
	opts.ValueDir = config.Path
	opts.Logger = nil // defer to arbor rather than badger's own logger

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &DB{store: store, logger: logger}, nil
}

// Store returns the underlying *badgerhold.Store.
func (d *DB) Store() *badgerhold.Store {
	return d.store
}

// Close closes the database.
func (d *DB) Close() error {
	return d.store.Close()
}

// logSequence disambiguates job log composite keys sharing the same
// nanosecond timestamp.
var logSequence uint64

func nextLogSequence() uint64 {
	return atomic.AddUint64(&logSequence, 1)
}
