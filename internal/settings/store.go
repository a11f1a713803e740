// Package settings persists small namespaced key/value records.
//
// A namespace is opened through a Handle which wraps one SQL transaction:
// either every write made through the handle lands, or none do. Keys in
// other namespaces are never touched by a handle.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the backing database could not be opened at boot.
	ErrUnavailable = errors.New("settings storage unavailable")

	// ErrReadOnly is returned when writing through a read-only handle.
	ErrReadOnly = errors.New("settings handle is read-only")

	// ErrEnded is returned when using a handle after End or Abort.
	ErrEnded = errors.New("settings handle already ended")
)

// Store is the namespaced key/value store.
type Store struct {
	db *sql.DB
}

// New creates a Store. A nil db yields a degraded store whose every
// operation fails with ErrUnavailable.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Available reports whether the store has a backing database.
func (s *Store) Available() bool {
	return s != nil && s.db != nil
}

// Handle is a scoped view on one namespace.
type Handle struct {
	ctx       context.Context
	tx        *sql.Tx
	namespace string
	readOnly  bool
	ended     bool
}

// Begin opens a handle on namespace. The caller must call End or Abort.
func (s *Store) Begin(ctx context.Context, namespace string, readOnly bool) (*Handle, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin %s: %w", namespace, err)
	}
	return &Handle{ctx: ctx, tx: tx, namespace: namespace, readOnly: readOnly}, nil
}

// With runs fn inside a handle, ending it on success and aborting it on error.
func (s *Store) With(ctx context.Context, namespace string, readOnly bool, fn func(h *Handle) error) error {
	h, err := s.Begin(ctx, namespace, readOnly)
	if err != nil {
		return err
	}
	if err := fn(h); err != nil {
		h.Abort()
		return err
	}
	return h.End()
}

// Namespace returns the handle's namespace.
func (h *Handle) Namespace() string {
	return h.namespace
}

// GetString returns the value stored under key, or def if the key is absent.
func (h *Handle) GetString(key, def string) (string, error) {
	if h.ended {
		return "", ErrEnded
	}
	var value string
	err := h.tx.QueryRowContext(h.ctx,
		"SELECT value FROM settings WHERE namespace = ? AND key = ?",
		h.namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", h.namespace, key, err)
	}
	return value, nil
}

// PutString stores value under key.
func (h *Handle) PutString(key, value string) error {
	if err := h.writable(); err != nil {
		return err
	}
	_, err := h.tx.ExecContext(h.ctx,
		`INSERT INTO settings (namespace, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		h.namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", h.namespace, key, err)
	}
	return nil
}

// Remove deletes key from the namespace.
func (h *Handle) Remove(key string) error {
	if err := h.writable(); err != nil {
		return err
	}
	if _, err := h.tx.ExecContext(h.ctx,
		"DELETE FROM settings WHERE namespace = ? AND key = ?", h.namespace, key,
	); err != nil {
		return fmt.Errorf("remove %s/%s: %w", h.namespace, key, err)
	}
	return nil
}

// Clear deletes every key in the namespace.
func (h *Handle) Clear() error {
	if err := h.writable(); err != nil {
		return err
	}
	if _, err := h.tx.ExecContext(h.ctx,
		"DELETE FROM settings WHERE namespace = ?", h.namespace,
	); err != nil {
		return fmt.Errorf("clear %s: %w", h.namespace, err)
	}
	return nil
}

// End releases the handle, committing writes. Read-only handles roll back.
func (h *Handle) End() error {
	if h.ended {
		return ErrEnded
	}
	h.ended = true
	if h.readOnly {
		return h.tx.Rollback()
	}
	if err := h.tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", h.namespace, err)
	}
	return nil
}

// Abort releases the handle, discarding writes. Safe to call after End.
func (h *Handle) Abort() {
	if h.ended {
		return
	}
	h.ended = true
	_ = h.tx.Rollback()
}

func (h *Handle) writable() error {
	if h.ended {
		return ErrEnded
	}
	if h.readOnly {
		return ErrReadOnly
	}
	return nil
}
