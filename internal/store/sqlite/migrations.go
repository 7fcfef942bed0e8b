package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	up      func(context.Context, *sql.Tx) error
}

var migrations = []migration{
	{version: 1, name: "initial_schema", up: migrateV1},
}

func (d *DB) migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return err
	}

	for _, m := range migrations {
		if err := d.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (d *DB) runMigration(ctx context.Context, m migration) error {
	var count int
	if err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s','now'))",
		m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

func migrateV1(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			user_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			role TEXT NOT NULL,
			PRIMARY KEY (user_id, customer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ip_ranges (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			cidr TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			name TEXT NOT NULL,
			username TEXT NOT NULL,
			encrypted_password BLOB,
			encrypted_enable_password BLOB,
			created_at INTEGER NOT NULL,
			UNIQUE(customer_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			hostname TEXT NOT NULL,
			management_ip TEXT NOT NULL,
			vendor TEXT,
			platform TEXT,
			role TEXT,
			site TEXT,
			tags TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			region_id TEXT,
			credential_id TEXT,
			extra TEXT,
			created_at INTEGER NOT NULL,
			UNIQUE(customer_id, hostname)
		)`,
		`CREATE TABLE IF NOT EXISTS regions (
			id TEXT PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			health TEXT NOT NULL DEFAULT 'healthy'
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			region_id TEXT,
			target_summary TEXT NOT NULL,
			payload TEXT NOT NULL,
			result_summary TEXT,
			requested_at INTEGER NOT NULL,
			scheduled_for INTEGER,
			started_at INTEGER,
			finished_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_customer_requested ON jobs(customer_id, requested_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS job_logs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			level TEXT NOT NULL,
			host TEXT,
			message TEXT NOT NULL,
			extra TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_logs_job_ts ON job_logs(job_id, ts ASC)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			job_type TEXT NOT NULL,
			target_summary TEXT NOT NULL,
			payload TEXT NOT NULL,
			cron TEXT,
			interval_seconds INTEGER,
			next_fire_at INTEGER NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS config_snapshots (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			text TEXT NOT NULL,
			hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS compliance_results (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			policy_id TEXT NOT NULL,
			compliant INTEGER NOT NULL,
			violations TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS topology_links (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			local_device_id TEXT NOT NULL,
			local_interface TEXT NOT NULL,
			remote_hostname TEXT NOT NULL,
			remote_interface TEXT NOT NULL,
			protocol TEXT NOT NULL,
			observed_at INTEGER NOT NULL,
			UNIQUE(customer_id, local_device_id, local_interface, remote_hostname, remote_interface)
		)`,
		`CREATE TABLE IF NOT EXISTS discovered_devices (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			hostname TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			customer_id TEXT NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_subscriptions (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			secret TEXT,
			event_types TEXT,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS event_deliveries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_deliveries_status ON event_deliveries(status, next_attempt_at)`,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s, err)
		}
	}
	return nil
}
