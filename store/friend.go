package store

import (
	"context"
	"database/sql"
)

// FriendRow is the persisted form of a FriendRecord.
type FriendRow struct {
	UserID         string
	Nickname       string
	EndpointID     string
	LastSeenMs     int64
	AddedMs        int64
	IsOnline       bool
	TotalMessages  int
	IsFavorite     bool
}

// UpsertFriend inserts a friend row. If user_id already exists, only its
// nickname, endpoint_id and last_seen_ms are overwritten; added time,
// online flag, message count and favorite flag are kept.
func (db *DB) UpsertFriend(ctx context.Context, f *FriendRow) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO friends (user_id, nickname, endpoint_id, last_seen_ms, added_ms, is_online, total_messages, is_favorite)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				nickname = excluded.nickname,
				endpoint_id = excluded.endpoint_id,
				last_seen_ms = excluded.last_seen_ms`,
			f.UserID, f.Nickname, f.EndpointID, f.LastSeenMs, f.AddedMs, f.IsOnline, f.TotalMessages, f.IsFavorite)
		return err
	})
}

// SetOnline updates a friend's transient connectivity flag and, when going
// online, its last-known endpoint and last-seen timestamp.
func (db *DB) SetOnline(ctx context.Context, userID string, online bool, endpointID string, nowMs int64) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE friends SET is_online = ?, endpoint_id = CASE WHEN ? THEN ? ELSE endpoint_id END, last_seen_ms = CASE WHEN ? THEN ? ELSE last_seen_ms END
			WHERE user_id = ?`,
			online, online, endpointID, online, nowMs, userID)
		if err != nil {
			return err
		}
		return rowsAffectedOrNotFound(res)
	})
}

// IncrementMessages bumps a friend's total_messages counter by one.
func (db *DB) IncrementMessages(ctx context.Context, userID string) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE friends SET total_messages = total_messages + 1 WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		return rowsAffectedOrNotFound(res)
	})
}

// SetFavorite sets a friend's favorite flag.
func (db *DB) SetFavorite(ctx context.Context, userID string, favorite bool) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE friends SET is_favorite = ? WHERE user_id = ?`, favorite, userID)
		if err != nil {
			return err
		}
		return rowsAffectedOrNotFound(res)
	})
}

// Rename sets a friend's nickname.
func (db *DB) Rename(ctx context.Context, userID, nickname string) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE friends SET nickname = ? WHERE user_id = ?`, nickname, userID)
		if err != nil {
			return err
		}
		return rowsAffectedOrNotFound(res)
	})
}

// DeleteFriend removes a friend row.
func (db *DB) DeleteFriend(ctx context.Context, userID string) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM friends WHERE user_id = ?`, userID)
		if err != nil {
			return err
		}
		return rowsAffectedOrNotFound(res)
	})
}

// ListFriends returns every friend row.
func (db *DB) ListFriends(ctx context.Context) ([]*FriendRow, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT user_id, nickname, endpoint_id, last_seen_ms, added_ms, is_online, total_messages, is_favorite
		FROM friends ORDER BY is_favorite DESC, nickname ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*FriendRow
	for rows.Next() {
		var f FriendRow
		if err := rows.Scan(&f.UserID, &f.Nickname, &f.EndpointID, &f.LastSeenMs, &f.AddedMs, &f.IsOnline, &f.TotalMessages, &f.IsFavorite); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func rowsAffectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
