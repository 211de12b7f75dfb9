// Package dbsql centralizes opening and migrating the on-disk SQLite
// databases Steroids uses: one per project plus the global database. Mirrors
// FluxForge's store/postgres.go pattern of a single pooled connection opened
// once and passed around, but adapted to file-backed SQLite rather than a
// network Postgres pool (see SPEC_FULL.md's DOMAIN STACK table).
package dbsql

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/project/*.sql
var projectMigrations embed.FS

//go:embed migrations/global/*.sql
var globalMigrations embed.FS

// Open opens (creating parent directories as needed) a SQLite database file
// and runs the given embedded migration set against it with goose.
func Open(path string, migrations embed.FS, sub string) (*sqlx.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("dbsql: create dir for %s: %w", path, err)
		}
	}

	db, err := sqlx.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbsql: open %s: %w", path, err)
	}
	// A single underlying SQLite file is serialized by the engine itself;
	// FluxForge's Postgres pool config (MaxConns/MinConns) has no analogue
	// here, but we still bound the pool to avoid SQLITE_BUSY under
	// concurrent writers from the same process.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbsql: ping %s: %w", path, err)
	}

	sub2, err := fs.Sub(migrations, sub)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("dbsql: migration subtree %s: %w", sub, err)
	}
	goose.SetBaseFS(sub2)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbsql: set dialect: %w", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbsql: migrate %s: %w", path, err)
	}
	return db, nil
}

// OpenProject opens the per-project database at <projectPath>/.steroids/steroids.db.
func OpenProject(projectPath string) (*sqlx.DB, error) {
	return Open(filepath.Join(projectPath, ".steroids", "steroids.db"), projectMigrations, "migrations/project")
}

// OpenGlobal opens the global database at <stateDir>/steroids.db, where
// stateDir is the global state directory (~/.steroids).
func OpenGlobal(stateDir string) (*sqlx.DB, error) {
	return Open(filepath.Join(stateDir, "steroids.db"), globalMigrations, "migrations/global")
}

// OpenProjectMemory opens an in-memory project database for tests, the same
// technique FluxForge's store/memory.go provides for StoreInterface tests.
func OpenProjectMemory() (*sqlx.DB, error) {
	return Open(":memory:", projectMigrations, "migrations/project")
}

// OpenGlobalMemory opens an in-memory global database for tests.
func OpenGlobalMemory() (*sqlx.DB, error) {
	return Open(":memory:", globalMigrations, "migrations/global")
}

func dsn(path string) string {
	if path == ":memory:" {
		// A unique named in-memory db per test so parallel tests don't share state.
		return "file::memory:?cache=private&_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
}
