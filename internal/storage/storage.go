// Package storage is the SQLite database shared by the session store and the
// bill event log.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"billing/internal/log"

	_ "modernc.org/sqlite"
)

// DB is an open, migrated SQLite database.
type DB struct {
	db     *sql.DB
	path   string
	logger *log.Logger
}

// Open creates the parent directory of path, opens the database, checks the
// connection and applies pending migrations.
func Open(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dataSource(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dsn)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite database ready",
		"path", path,
		"schema_version", version)

	return &DB{db: db, path: path, logger: logger}, nil
}

// dataSource enables WAL and a busy timeout so the web server and the worker
// can share one file.
func dataSource(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// SQL exposes the handle to packages that keep their own tables here.
func (d *DB) SQL() *sql.DB { return d.db }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Ping checks the connection. Used by readiness.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
