// Package store implements C2, the persistence store (spec.md §4.2): one
// embedded relational database file backed by the pure-Go
// ncruces/go-sqlite3 driver (no cgo), with schema managed by
// golang-migrate/migrate/v4 through the adapter in
// internal/store/migrations. A gofrs/flock advisory lock guards the
// database file and JSON snapshot during startup recovery, following the
// teacher's probe-before-use pattern in internal/cmd/socket_guard.go.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/gofrs/flock"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"sm/internal/store/migrations"
)

// Store wraps the sqlite connection and the advisory lock over its file.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open opens (creating if necessary) the sqlite database at dbPath, applies
// pending migrations, and takes the startup advisory lock. lockPath is
// typically dbPath+".lock".
func Open(dbPath, lockPath string) (*Store, error) {
	lk := flock.New(lockPath)
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("store: acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("store: %s is held by another sm process", lockPath)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		lk.Unlock()
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // sqlite is single-writer; serialize at the pool

	if err := runMigrations(db); err != nil {
		db.Close()
		lk.Unlock()
		return nil, err
	}

	return &Store{db: db, lock: lk}, nil
}

func runMigrations(db *sql.DB) error {
	dbDriver, err := migrations.WithInstance(db, &migrations.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, migrations.DriverName, dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}

// Close releases the database handle and the advisory lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.lock.Unlock()
	if dbErr != nil {
		return dbErr
	}
	return lockErr
}

// DB exposes the raw handle for callers (e.g. ad-hoc reporting queries)
// that don't warrant a dedicated Store method.
func (s *Store) DB() *sql.DB {
	return s.db
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullTime(v interface{}) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("store: parse time %q: %w", s, err)
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
