// Package database opens the SQLite database shared by the key/value store and the stage lock.
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"projectbrowser/internal/logging"
	"projectbrowser/internal/migrations"
)

// New opens the database at dbPath and applies pending migrations.
func New(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; a single connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck,gosec // Best effort cleanup
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close() //nolint:errcheck,gosec // Best effort cleanup
		return nil, err
	}

	logging.Infof("Database initialized successfully at %s", dbPath)
	return db, nil
}
