package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/Akrittt/dtmesh/store/migrations"
)

// writerPoolSize bounds the number of goroutines allowed to hold a write
// transaction concurrently, per the store writer pool budget (<=4).
const writerPoolSize = 4

// DB is MessageStore: a SQLite-backed, migrated database plus the writer
// pool and dirty-flag notifier used for observable reads.
type DB struct {
	sql *sql.DB

	writeTokens chan struct{}

	mu       sync.Mutex
	revision uint64
	changed  chan struct{}
	closed   bool
}

// Open creates (or opens) the SQLite file at path, applies all pending
// migrations, and resets every friend's is_online flag to false.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	db := &DB{
		sql:         sqlDB,
		writeTokens: make(chan struct{}, writerPoolSize),
		changed:     make(chan struct{}),
	}
	for i := 0; i < writerPoolSize; i++ {
		db.writeTokens <- struct{}{}
	}

	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if _, err := sqlDB.Exec(`UPDATE friends SET is_online = 0`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: reset online flags: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.sql, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("store: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: migration up: %w", err)
	}
	version, dirty, _ := m.Version()
	logrus.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("store: migrations applied")
	return nil
}

// Close waits for outstanding writers to finish and closes the connection.
func (db *DB) Close() error {
	db.mu.Lock()
	db.closed = true
	close(db.changed)
	db.mu.Unlock()

	for i := 0; i < writerPoolSize; i++ {
		<-db.writeTokens
	}
	return db.sql.Close()
}

// withWriter acquires a writer-pool slot, runs fn inside a transaction, and
// bumps the dirty-flag revision on success so observers re-query.
func (db *DB) withWriter(ctx context.Context, fn func(*sql.Tx) error) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	db.mu.Unlock()

	select {
	case <-db.writeTokens:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { db.writeTokens <- struct{}{} }()

	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}

	db.mu.Lock()
	db.revision++
	if !db.closed {
		close(db.changed)
		db.changed = make(chan struct{})
	}
	db.mu.Unlock()
	return nil
}

// waitForChange blocks until the revision counter advances past since, the
// context is cancelled, or pollInterval elapses (a floor so a missed wakeup
// can never wedge an observer forever), and returns the current revision.
func (db *DB) waitForChange(ctx context.Context, since uint64, pollInterval time.Duration) uint64 {
	db.mu.Lock()
	if db.revision != since || db.closed {
		rev := db.revision
		db.mu.Unlock()
		return rev
	}
	wake := db.changed
	db.mu.Unlock()

	select {
	case <-wake:
	case <-ctx.Done():
	case <-time.After(pollInterval):
	}

	db.mu.Lock()
	rev := db.revision
	db.mu.Unlock()
	return rev
}
