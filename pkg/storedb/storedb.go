// Package storedb opens a SQLite database and brings it up to date
// against a caller-supplied, versioned migration list, tracked per
// logical module so multiple subsystems can share one file.
package storedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

// Migration is one forward-only schema step. SQL may contain multiple
// statements; it runs inside a single transaction.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// OpenOptions configures Open.
type OpenOptions struct {
	Path       string
	Module     string
	Migrations []Migration
}

// Open opens (creating if necessary) the SQLite file at opts.Path and
// applies any of opts.Migrations not yet recorded as applied for
// opts.Module, in ascending Version order.
func Open(opts OpenOptions) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
		return nil, fmt.Errorf("storedb: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("storedb: open %s: %w", opts.Path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  module TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
  PRIMARY KEY (module, version)
);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storedb: create migrations table: %w", err)
	}

	current, err := currentVersion(db, opts.Module)
	if err != nil {
		db.Close()
		return nil, err
	}

	migrations := append([]Migration(nil), opts.Migrations...)
	sort.SliceStable(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := applyMigration(db, opts.Module, m); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func currentVersion(db *sql.DB, module string) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_migrations WHERE module = ?`, module).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("storedb: read schema version: %w", err)
	}
	return int(version.Int64), nil
}

func applyMigration(db *sql.DB, module string, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("storedb: begin migration %s: %w", m.Name, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("storedb: apply migration %d_%s: %w", m.Version, m.Name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (module, version, name) VALUES (?, ?, ?)`, module, m.Version, m.Name); err != nil {
		return fmt.Errorf("storedb: record migration %d_%s: %w", m.Version, m.Name, err)
	}
	return tx.Commit()
}
