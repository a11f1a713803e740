package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migrations[i] moves the schema from version i to i+1.
var migrations = []string{
	// Every key lives in a namespace ("wifi", "relay_names"); a namespace
	// is only written inside one transaction.
	`CREATE TABLE IF NOT EXISTS settings (
	    namespace   TEXT NOT NULL,
	    key         TEXT NOT NULL,
	    value       TEXT NOT NULL DEFAULT '',
	    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	    PRIMARY KEY (namespace, key)
	)`,
}

// SchemaVersion is the version Migrate brings a database to.
var SchemaVersion = len(migrations)

const metaTable = `CREATE TABLE IF NOT EXISTS meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
)`

// Migrate applies the pending migrations, each in its own transaction.
// Running it on an up-to-date database does nothing.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(metaTable); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	from, err := Version(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if from > SchemaVersion {
		return fmt.Errorf("schema version %d is newer than this build (%d)", from, SchemaVersion)
	}

	for v := from; v < SchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)", v+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
	}
	if from < SchemaVersion {
		log.Info().Int("from", from).Int("to", SchemaVersion).Msg("Settings schema migrated")
	}
	return nil
}

// Version returns the recorded schema version, 0 for a fresh database.
func Version(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT CAST(value AS INTEGER) FROM meta WHERE key = 'schema_version'").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// CheckIntegrity runs SQLite's integrity check.
func CheckIntegrity(db *sql.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}
	return nil
}
