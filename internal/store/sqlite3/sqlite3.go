// Package sqlite3 implements internal/store.Store over mattn/go-sqlite3,
// mirroring internal/store/postgres file-for-file but with SQLite's
// placeholder syntax and schema dialect, the way the teacher keeps a
// postgres/sqlite3 pair per storage component.
package sqlite3

import (
	"database/sql"
	"fmt"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"
)

// DB is the sqlite3-backed Store implementation.
type DB struct {
	db *sql.DB
}

// Open opens (creating if absent) the database named by connStr's path and
// applies the schema. SQLite has no connection pool in the postgres sense;
// maxOpen is capped to 1 because mattn/go-sqlite3 does not support
// concurrent writers, matching the teacher's sqlite backend note.
func Open(connStr string, maxOpen, maxIdle int) (*DB, error) {
	path := dsnPath(connStr)
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite3: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite3: ping: %w", err)
	}
	if err := ensureSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("sqlite3: schema: %w", err)
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
		active BOOLEAN NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS excore_devices (
		user_email TEXT NOT NULL,
		device_id TEXT NOT NULL,
		device_type TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		policy_key INTEGER NOT NULL DEFAULT 0,
		is_provisioned BOOLEAN NOT NULL DEFAULT 0,
		pending_policy_key INTEGER NOT NULL DEFAULT 0,
		pending_policy_expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
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
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_email TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		sender TEXT NOT NULL DEFAULT '',
		recipients TEXT NOT NULL DEFAULT '',
		date_received TIMESTAMP NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT 0,
		message_class TEXT NOT NULL DEFAULT 'IPM.Note',
		raw_mime BLOB NOT NULL,
		body_plain TEXT NOT NULL DEFAULT '',
		body_html TEXT NOT NULL DEFAULT '',
		deleted BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS excore_emails_user_collection_id_idx
		ON excore_emails (user_email, collection_id, id)`,
	`CREATE TABLE IF NOT EXISTS excore_sync_state (
		user_email TEXT NOT NULL,
		device_id TEXT NOT NULL,
		collection_id TEXT NOT NULL,
		cur_key TEXT NOT NULL DEFAULT '0',
		next_key TEXT NOT NULL DEFAULT '1',
		cursor INTEGER NOT NULL DEFAULT 0,
		max_pending_email_id INTEGER NOT NULL DEFAULT 0,
		pending_bytes BLOB,
		pending_email_ids TEXT,
		pending_next_key TEXT NOT NULL DEFAULT '',
		has_pending BOOLEAN NOT NULL DEFAULT 0,
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
		window_start TIMESTAMP,
		window_end TIMESTAMP,
		internal_message TEXT NOT NULL DEFAULT '',
		internal_enabled BOOLEAN NOT NULL DEFAULT 0,
		external_message TEXT NOT NULL DEFAULT '',
		external_enabled BOOLEAN NOT NULL DEFAULT 0,
		external_audience TEXT NOT NULL DEFAULT 'None',
		replied_to TEXT NOT NULL DEFAULT ''
	)`,
}

// dsnPath strips a "sqlite://" or "file://" scheme prefix, if present,
// leaving a bare filesystem path mattn/go-sqlite3 accepts directly.
func dsnPath(connStr string) string {
	for _, prefix := range []string{"sqlite3://", "sqlite://", "file://"} {
		if len(connStr) > len(prefix) && connStr[:len(prefix)] == prefix {
			return connStr[len(prefix):]
		}
	}
	return connStr
}
