// Package sqlitestore is a concrete storage.Store backed by SQLite: a
// single items table plus a changelog table that lets
// GetChangedRevisions answer from an incremental sync token instead
// of falling back to a full snapshot diff.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/pimsync/pkg/pim"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is a local contact/calendar store backed by a single SQLite
// file. One Store instance owns one item type (contacts, events, or
// tasks); callers needing more than one keep one Store per type.
type Store struct {
	db       *sql.DB
	logger   zerolog.Logger
	itemType pim.Type
}

// New opens (creating if absent) the SQLite database at dsn and runs
// pending migrations before returning.
func New(dsn string, itemType pim.Type, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dsn))
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", dsn, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := configure(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: configuring %s: %w", dsn, err)
	}

	store := &Store{db: db, logger: logger, itemType: itemType}

	if err := runMigrations(dsn, logger); err != nil {
		store.Close()
		return nil, fmt.Errorf("sqlitestore: migrating %s: %w", dsn, err)
	}

	return store, nil
}

func configure(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("executing %s: %w", p, err)
		}
	}
	return nil
}

func runMigrations(dsn string, logger zerolog.Logger) error {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dsn))
	if err != nil {
		return fmt.Errorf("opening for migration: %w", err)
	}
	defer db.Close()

	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("reading migration version: %w", err)
	}
	if dirty {
		logger.Warn().Uint("version", version).Msg("sqlitestore database is dirty, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("forcing migration version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *Store) Close() {
	_ = s.db.Close()
}
