// Package sqlite provides a SQLite-backed implementation of the durable cache tier.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously
)

// Adapter implements ports.DurableTier for SQLite
type Adapter struct {
	db  *sql.DB
	now func() time.Time
}

// NewAdapter creates a connection and runs the schema migration
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// one writer at a time; SQLite serialises writes anyway
	db.SetMaxOpenConns(1)

	adapter := &Adapter{db: db, now: time.Now}
	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return adapter, nil
}

// Close ensures the DB connection is closed gracefully
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Ping reports whether the database is reachable.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Get returns the value stored under key. Expired rows are deleted and reported absent.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	row := a.db.QueryRowContext(ctx, "SELECT value, expires_at FROM cache_entries WHERE key = ?", key)
	var value []byte
	var expiresAt sql.NullInt64
	if err := row.Scan(&value, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load cache entry %s: %w", key, err)
	}

	if expiresAt.Valid && expiresAt.Int64 <= a.now().UnixMilli() {
		if _, err := a.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ? AND expires_at = ?", key, expiresAt.Int64); err != nil {
			return nil, false, fmt.Errorf("failed to drop expired entry %s: %w", key, err)
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Put upserts value under key. A non-positive ttl stores the entry without expiry.
func (a *Adapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: a.now().Add(ttl).UnixMilli(), Valid: true}
	}
	query := `
		INSERT INTO cache_entries (key, value, expires_at, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			expires_at=excluded.expires_at,
			updated_at=excluded.updated_at;
	`
	if _, err := a.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to save cache entry %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if _, err := a.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (a *Adapter) DeletePrefix(ctx context.Context, prefix string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%"); err != nil {
		return fmt.Errorf("failed to delete cache entries %s*: %w", prefix, err)
	}
	return nil
}

// PurgeExpired deletes every expired row and reports how many were removed.
func (a *Adapter) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := a.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?", a.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged entries: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
	`
	if _, err := a.db.Exec(query); err != nil {
		return err
	}
	return nil
}
