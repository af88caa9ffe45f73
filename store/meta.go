package store

import (
	"context"
	"database/sql"
)

// GetMeta looks up a single key from the meta table.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.sql.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMeta inserts or replaces a single meta key/value pair.
func (db *DB) SetMeta(ctx context.Context, key, value string) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value)
		return err
	})
}
