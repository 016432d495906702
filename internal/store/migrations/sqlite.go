package migrations

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/golang-migrate/migrate/v4/database"
)

// DriverName is the name this adapter registers itself under with
// golang-migrate. It is distinct from golang-migrate's bundled "sqlite3"
// driver (which wraps mattn/go-sqlite3 and requires cgo) since this module
// never imports that package.
const DriverName = "ncsqlite3"

// Config configures the migrations table name.
type Config struct {
	MigrationsTable string
}

// sqliteDriver adapts an already-open *sql.DB (opened against the
// ncruces/go-sqlite3 driver) to golang-migrate's database.Driver contract.
type sqliteDriver struct {
	db     *sql.DB
	table  string
}

func init() {
	database.Register(DriverName, &sqliteDriver{})
}

// WithInstance wraps an open *sql.DB for use as a migrate source, following
// the WithInstance pattern used by golang-migrate's bundled drivers.
func WithInstance(db *sql.DB, cfg *Config) (database.Driver, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	table := cfg.MigrationsTable
	if table == "" {
		table = "schema_migrations"
	}
	d := &sqliteDriver{db: db, table: table}
	if err := d.ensureVersionTable(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *sqliteDriver) ensureVersionTable() error {
	_, err := d.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (version INTEGER NOT NULL, dirty INTEGER NOT NULL)`, d.table))
	if err != nil {
		return fmt.Errorf("ncsqlite3: create migrations table: %w", err)
	}
	return nil
}

// Open is unused by this module: the driver is always constructed via
// WithInstance against a connection the store already owns.
func (d *sqliteDriver) Open(url string) (database.Driver, error) {
	return nil, fmt.Errorf("ncsqlite3: Open(url) unsupported, use WithInstance")
}

func (d *sqliteDriver) Close() error {
	return nil // the store owns the underlying *sql.DB's lifetime
}

// Lock and Unlock are no-ops: sqlite's single-writer semantics combined with
// the store's own gofrs/flock startup guard make a distinct migration lock
// unnecessary for a single-process daemon.
func (d *sqliteDriver) Lock() error   { return nil }
func (d *sqliteDriver) Unlock() error { return nil }

func (d *sqliteDriver) Run(migration io.Reader) error {
	b, err := io.ReadAll(migration)
	if err != nil {
		return fmt.Errorf("ncsqlite3: read migration: %w", err)
	}
	if _, err := d.db.Exec(string(b)); err != nil {
		return fmt.Errorf("ncsqlite3: exec migration: %w", err)
	}
	return nil
}

func (d *sqliteDriver) SetVersion(version int, dirty bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", d.table)); err != nil {
		tx.Rollback()
		return err
	}
	if version >= 0 {
		if _, err := tx.Exec(fmt.Sprintf("INSERT INTO %s (version, dirty) VALUES (?, ?)", d.table),
			version, dirty); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (d *sqliteDriver) Version() (int, bool, error) {
	var version int
	var dirty bool
	row := d.db.QueryRow(fmt.Sprintf("SELECT version, dirty FROM %s LIMIT 1", d.table))
	if err := row.Scan(&version, &dirty); err != nil {
		if err == sql.ErrNoRows {
			return database.NilVersion, false, nil
		}
		return 0, false, err
	}
	return version, dirty, nil
}

func (d *sqliteDriver) Drop() error {
	rows, err := d.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return err
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		tables = append(tables, name)
	}
	rows.Close()

	for _, t := range tables {
		if _, err := d.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %q", t)); err != nil {
			return err
		}
	}
	return d.ensureVersionTable()
}
