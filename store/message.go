package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Akrittt/dtmesh/message"
)

// UpsertMessage inserts a new message row or replaces the existing one for
// the same message_id, satisfying the idempotent-insert invariant.
func (db *DB) UpsertMessage(ctx context.Context, r *message.Record) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (message_id, content, sender_id, recipient_id, timestamp_ms, status, hop_count, ttl_ms, integrity_hash, is_outgoing)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO UPDATE SET
				content = excluded.content,
				sender_id = excluded.sender_id,
				recipient_id = excluded.recipient_id,
				timestamp_ms = excluded.timestamp_ms,
				status = excluded.status,
				hop_count = excluded.hop_count,
				ttl_ms = excluded.ttl_ms,
				integrity_hash = excluded.integrity_hash,
				is_outgoing = excluded.is_outgoing`,
			r.MessageID, r.Content, r.SenderID, r.RecipientID, r.TimestampMs,
			uint8(r.Status), r.HopCount, r.TTLMs, r.IntegrityHash, r.IsOutgoing)
		return err
	})
}

// UpdateStatus applies message.Record.TransitionTo's guard and persists the
// resulting status. It returns ErrNotFound if no row matches id.
func (db *DB) UpdateStatus(ctx context.Context, id string, next message.Status) error {
	return db.withWriter(ctx, func(tx *sql.Tx) error {
		var current uint8
		if err := tx.QueryRowContext(ctx, `SELECT status FROM messages WHERE message_id = ?`, id).Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			return err
		}
		rec := &message.Record{Status: message.Status(current)}
		if err := rec.TransitionTo(next); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE messages SET status = ? WHERE message_id = ?`, uint8(next), id)
		return err
	})
}

// DeleteExpired removes every message whose ttl has passed as of nowMs. The
// operation is idempotent: running it again with the same nowMs deletes
// nothing further.
func (db *DB) DeleteExpired(ctx context.Context, nowMs int64) (int64, error) {
	var affected int64
	err := db.withWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE ttl_ms < ?`, nowMs)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// ListPending returns every outgoing message still in PENDING status, the
// candidate set for RetryScheduler's connection-restored sweep.
func (db *DB) ListPending(ctx context.Context) ([]*message.Record, error) {
	return db.queryRecords(ctx, `
		SELECT message_id, content, sender_id, recipient_id, timestamp_ms, status, hop_count, ttl_ms, integrity_hash, is_outgoing
		FROM messages WHERE is_outgoing = 1 AND status = ?`, uint8(message.StatusPending))
}

// ListForwardable returns incoming, not-yet-delivered messages that have
// not expired, per the Forwarder's forwarding eligibility rule.
func (db *DB) ListForwardable(ctx context.Context, nowMs int64) ([]*message.Record, error) {
	return db.queryRecords(ctx, `
		SELECT message_id, content, sender_id, recipient_id, timestamp_ms, status, hop_count, ttl_ms, integrity_hash, is_outgoing
		FROM messages WHERE is_outgoing = 0 AND status != ? AND ttl_ms > ?`,
		uint8(message.StatusDelivered), nowMs)
}

// GetMessage returns the single message row matching id.
func (db *DB) GetMessage(ctx context.Context, id string) (*message.Record, error) {
	var r message.Record
	var status uint8
	row := db.sql.QueryRowContext(ctx, `
		SELECT message_id, content, sender_id, recipient_id, timestamp_ms, status, hop_count, ttl_ms, integrity_hash, is_outgoing
		FROM messages WHERE message_id = ?`, id)
	if err := row.Scan(&r.MessageID, &r.Content, &r.SenderID, &r.RecipientID, &r.TimestampMs, &status, &r.HopCount, &r.TTLMs, &r.IntegrityHash, &r.IsOutgoing); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.Status = message.Status(status)
	return &r, nil
}

// ListAll returns every message ordered by timestamp ascending.
func (db *DB) ListAll(ctx context.Context) ([]*message.Record, error) {
	return db.queryRecords(ctx, `
		SELECT message_id, content, sender_id, recipient_id, timestamp_ms, status, hop_count, ttl_ms, integrity_hash, is_outgoing
		FROM messages ORDER BY timestamp_ms ASC`)
}

// ListConversation returns every message exchanged between u1 and u2 in
// either direction, ordered by timestamp ascending.
func (db *DB) ListConversation(ctx context.Context, u1, u2 string) ([]*message.Record, error) {
	return db.queryRecords(ctx, `
		SELECT message_id, content, sender_id, recipient_id, timestamp_ms, status, hop_count, ttl_ms, integrity_hash, is_outgoing
		FROM messages
		WHERE (sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)
		ORDER BY timestamp_ms ASC`, u1, u2, u2, u1)
}

func (db *DB) queryRecords(ctx context.Context, query string, args ...any) ([]*message.Record, error) {
	rows, err := db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*message.Record
	for rows.Next() {
		var r message.Record
		var status uint8
		if err := rows.Scan(&r.MessageID, &r.Content, &r.SenderID, &r.RecipientID, &r.TimestampMs, &status, &r.HopCount, &r.TTLMs, &r.IntegrityHash, &r.IsOutgoing); err != nil {
			return nil, err
		}
		r.Status = message.Status(status)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// observePollInterval is the floor on how often a live view re-queries when
// no write has bumped the revision counter, and the ceiling on latency
// between a commit and the observer seeing it.
const observePollInterval = 500 * time.Millisecond

// ObserveAll returns a channel that receives the full message set on
// subscribe and again after every commit that changes it, until ctx is
// cancelled.
func (db *DB) ObserveAll(ctx context.Context) <-chan []*message.Record {
	out := make(chan []*message.Record, 1)
	go db.pollLoop(ctx, out, func() ([]*message.Record, error) {
		return db.ListAll(ctx)
	})
	return out
}

// ObserveConversation is ObserveAll scoped to messages between u1 and u2.
func (db *DB) ObserveConversation(ctx context.Context, u1, u2 string) <-chan []*message.Record {
	out := make(chan []*message.Record, 1)
	go db.pollLoop(ctx, out, func() ([]*message.Record, error) {
		return db.ListConversation(ctx, u1, u2)
	})
	return out
}

func (db *DB) pollLoop(ctx context.Context, out chan<- []*message.Record, query func() ([]*message.Record, error)) {
	defer close(out)

	var since uint64
	for {
		records, err := query()
		if err != nil {
			return
		}
		select {
		case out <- records:
		case <-ctx.Done():
			return
		}

		since = db.waitForChange(ctx, since, observePollInterval)
		if ctx.Err() != nil {
			return
		}
	}
}
