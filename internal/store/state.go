package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Checkpoint keys in sync_state.
const (
	KeyActiveConversation = "active_conversation"
	KeyLastConnected      = "last_connected"
)

// SetState upserts a checkpoint value.
func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetState returns a checkpoint value, or "" if it was never set.
func (db *DB) GetState(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return v, nil
}

// MarkConnected stamps the time the live channel last came up.
func (db *DB) MarkConnected(at time.Time) error {
	return db.SetState(KeyLastConnected, at.UTC().Format(time.RFC3339))
}

// LastConnected returns the stamp written by MarkConnected, or the zero time.
func (db *DB) LastConnected() (time.Time, error) {
	v, err := db.GetState(KeyLastConnected)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}
