// Package database opens the SQLite file behind the settings store.
package database

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrCorrupt marks a database file that opened but failed verification.
var ErrCorrupt = errors.New("database corrupt")

var sqliteHeader = []byte("SQLite format 3\x00")

// Open opens the database at path, creating it and its directory when
// missing, and migrates the schema.
//
// A damaged file (foreign header or failed integrity check) is renamed to
// path+".corrupt" and replaced with an empty database. Saved credentials
// and relay names are lost; the device boots on defaults.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := connect(path)
	if err == nil {
		return db, nil
	}
	if !errors.Is(err, ErrCorrupt) && !foreignFile(path) {
		return nil, err
	}

	log.Warn().Err(err).Str("path", path).Msg("Settings database damaged - starting from an empty one")
	if err := quarantine(path); err != nil {
		return nil, err
	}
	return connect(path)
}

func connect(path string) (*sql.DB, error) {
	// FULL sync: a committed namespace survives power loss
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := CheckIntegrity(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Settings database open")
	return db, nil
}

// foreignFile reports whether path holds something other than a SQLite database.
func foreignFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(sqliteHeader))
	n, _ := io.ReadFull(f, head)
	return n > 0 && !bytes.Equal(head[:n], sqliteHeader)
}

func quarantine(path string) error {
	if err := os.Rename(path, path+".corrupt"); err != nil {
		return fmt.Errorf("failed to move damaged database aside: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Remove(path + suffix)
	}
	return nil
}

// Close closes db. A nil db is a no-op.
func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
