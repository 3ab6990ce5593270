package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/malaise/internal/config"
	_ "modernc.org/sqlite"
)

// DBFile is the database file name inside the data directory.
const DBFile = "malaise.db"

// migrations are applied in order; migrations[i] moves user_version from i to i+1.
var migrations = []string{
	// 1: collection/id record store. scope carries the owner (device id for
	// episodes, episode id for entries) so lists don't scan a whole collection.
	`
	CREATE TABLE IF NOT EXISTS records (
	  collection  TEXT NOT NULL,
	  id          TEXT NOT NULL,
	  scope       TEXT NOT NULL DEFAULT '',
	  data        TEXT NOT NULL,
	  created_at  INTEGER NOT NULL,
	  updated_at  INTEGER NOT NULL,
	  PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_collection_scope
	ON records(collection, scope);
	`,
}

// CurrentSchemaVersion is the user_version after all migrations ran.
var CurrentSchemaVersion = len(migrations)

// Init opens (creating if needed) baseDir/malaise.db in WAL mode and
// migrates it. It also creates baseDir/exports.
// Tests pass t.TempDir() instead of ~/.malaise.
func Init(baseDir string) (*sql.DB, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "exports")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		// Best-effort; MkdirAll leaves existing permissions alone.
		_ = os.Chmod(dir, 0700)
	}

	dbPath := filepath.Join(baseDir, DBFile)
	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)
	return db, nil
}

// ConfigurePool applies db_max_open_conns / db_max_idle_conns when set.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	for v := version; v < len(migrations); v++ {
		if _, err := db.Exec(migrations[v]); err != nil {
			return fmt.Errorf("migration %d failed: %w", v+1, err)
		}
		if err := SetUserVersion(db, v+1); err != nil {
			return err
		}
	}
	return nil
}

func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", mode)
	}
	return nil
}

// GetUserVersion returns the schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
