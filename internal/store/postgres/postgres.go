// Package postgres implements internal/store.Store over lib/pq, following
// the teacher's userapi/storage/postgres split: one file per concern,
// hand-written database/sql queries with inline SQL (no prepared
// statements) rather than an ORM.
package postgres

import (
	"database/sql"
	"fmt"

	// Registers the "postgres" database/sql driver.
	_ "github.com/lib/pq"
)

// DB is the postgres-backed Store implementation.
type DB struct {
	db *sql.DB
}

// Open connects to connStr, applies the schema, and returns a ready Store.
func Open(connStr string, maxOpen, maxIdle int) (*DB, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if err := ensureSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}
	return &DB{db: sqlDB}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func ensureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS excore_users (
		email TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS excore_devices (
		user_email TEXT NOT NULL,
		device_id TEXT NOT NULL,
		device_type TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		policy_key BIGINT NOT NULL DEFAULT 0,
		is_provisioned BOOLEAN NOT NULL DEFAULT FALSE,
		pending_policy_key BIGINT NOT NULL DEFAULT 0,
		pending_policy_expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_email, device_id)
	)`,
	`CREATE TABLE IF NOT EXISTS excore_collections (
		user_email TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '0',
		display_name TEXT NOT NULL,
		class TEXT NOT NULL,
		PRIMARY KEY (user_email, collection_id)
	)`,
	`CREATE TABLE IF NOT EXISTS excore_emails (
		id BIGSERIAL PRIMARY KEY,
		user_email TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL DEFAULT '',
		recipients TEXT NOT NULL DEFAULT '',
		date_received TIMESTAMPTZ NOT NULL DEFAULT now(),
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		message_class TEXT NOT NULL DEFAULT 'IPM.Note',
		raw_mime BYTEA NOT NULL,
		body_plain TEXT NOT NULL DEFAULT '',
		body_html TEXT NOT NULL DEFAULT '',
		deleted BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS excore_emails_user_collection_id_idx
		ON excore_emails (user_email, collection_id, id)`,
	`CREATE TABLE IF NOT EXISTS excore_sync_state (
		user_email TEXT NOT NULL,
		device_id TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		cur_key TEXT NOT NULL DEFAULT '0',
		next_key TEXT NOT NULL DEFAULT '1',
		cursor BIGINT NOT NULL DEFAULT 0,
		max_pending_email_id BIGINT NOT NULL DEFAULT 0,
		pending_bytes BYTEA,
		pending_email_ids TEXT,
		pending_next_key TEXT NOT NULL DEFAULT '',
		has_pending BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (user_email, device_id, collection_id)
	)`,
	`CREATE TABLE IF NOT EXISTS excore_folder_sync_state (
		user_email TEXT NOT NULL,
		device_id TEXT NOT NULL,
		sync_key INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_email, device_id)
	)`,
	`CREATE TABLE IF NOT EXISTS excore_oof_settings (
		user_email TEXT PRIMARY KEY,
		state TEXT NOT NULL DEFAULT 'Disabled',
		window_start TIMESTAMPTZ,
		window_end TIMESTAMPTZ,
		internal_message TEXT NOT NULL DEFAULT '',
		internal_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		external_message TEXT NOT NULL DEFAULT '',
		external_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		external_audience TEXT NOT NULL DEFAULT 'None',
		replied_to TEXT NOT NULL DEFAULT ''
	)`,
}
