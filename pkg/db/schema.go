package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS accounts (
    owner TEXT NOT NULL,
    account_id TEXT NOT NULL,
    platform TEXT NOT NULL DEFAULT 'UNKNOWN',
    role TEXT NOT NULL DEFAULT 'PENDING',
    status TEXT NOT NULL DEFAULT 'OFFLINE',
    reported_status TEXT NOT NULL DEFAULT '',
    last_seen INTEGER NOT NULL DEFAULT 0,
    master_config TEXT,
    slave_config TEXT,
    translations TEXT,
    source_path TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (owner, account_id)
);

CREATE INDEX IF NOT EXISTS idx_accounts_owner_role ON accounts(owner, role);

CREATE TABLE IF NOT EXISTS copier_settings (
    owner TEXT PRIMARY KEY,
    global_enabled INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS copier_flags (
    owner TEXT NOT NULL,
    account_id TEXT NOT NULL,
    enabled INTEGER NOT NULL,
    updated_at INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (owner, account_id)
);

CREATE TABLE IF NOT EXISTS deleted_accounts (
    owner TEXT NOT NULL,
    account_id TEXT NOT NULL,
    deleted_at INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (owner, account_id)
);

CREATE TABLE IF NOT EXISTS discovered_paths (
    path TEXT PRIMARY KEY,
    size INTEGER NOT NULL DEFAULT 0,
    mod_time INTEGER NOT NULL DEFAULT 0,
    hash TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    discovered_at INTEGER NOT NULL DEFAULT 0
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "accounts", "orders", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "discovered_paths", "last_read", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
