package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-sqlite3"

	"maxrelay/internal/constants"
	"maxrelay/internal/metrics"
	"maxrelay/internal/migrations"
	"maxrelay/internal/retry"
	"maxrelay/internal/security"
)

const sqliteOpTimeout = 10 * time.Second

// SQLiteBackend keeps every document as a row of one SQLite database.
type SQLiteBackend struct {
	db      *sql.DB
	backoff *retry.Backoff
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	err := security.EnsureParentDir(path, func(dir string) error {
		return os.MkdirAll(dir, constants.DefaultDirectoryPermissions)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrations.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteBackend{
		db: db,
		backoff: retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond / 10,
			MaxDelay:     time.Second,
			Multiplier:   2,
			MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
			Jitter:       true,
		}),
	}, nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Document returns a handle to the named row.
func (b *SQLiteBackend) Document(name string) Document {
	return &sqliteDocument{backend: b, name: name}
}

type sqliteDocument struct {
	backend *SQLiteBackend
	name    string
}

func (d *sqliteDocument) Name() string {
	return "sqlite:" + d.name
}

func (d *sqliteDocument) Load() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	var body []byte
	err := d.backend.backoff.RetryWithPredicate(ctx, func() error {
		return d.backend.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, d.name).Scan(&body)
	}, isRetryableDBError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", d.name, err)
	}
	return body, nil
}

func (d *sqliteDocument) Save(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	err := d.backend.backoff.RetryWithPredicate(ctx, func() error {
		_, err := d.backend.db.ExecContext(ctx, `
			INSERT INTO documents (name, body, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
			d.name, data)
		return err
	}, isRetryableDBError)
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", d.name, err)
	}
	metrics.IncrementCounter("storage_document_writes_total", map[string]string{"document": d.name}, "Documents written to the SQLite backend")
	return nil
}

func isRetryableDBError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked || sqliteErr.Code == sqlite3.ErrIoErr
	}
	return false
}
