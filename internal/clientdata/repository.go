// Package clientdata caches fetched datasets as opaque blobs with expiration
// timestamps, for cache-first loading.
package clientdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store is a keyed blob cache with TTL expiry and per-source invalidation.
type Store interface {
	// Get returns data only while it is fresh. ok is false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	// GetStale returns data regardless of expiration, as a fallback when
	// the upstream source is unavailable.
	GetStale(ctx context.Context, key string) (data []byte, ok bool, err error)
	// Put stores data with expiration = now + ttl.
	Put(ctx context.Context, key, source string, data []byte, ttl time.Duration) error
	// Delete removes one entry.
	Delete(ctx context.Context, key string) error
	// DeleteSource removes every entry fetched from source.
	DeleteSource(ctx context.Context, source string) (int64, error)
	// DeleteExpired removes expired entries and reports how many went.
	DeleteExpired(ctx context.Context) (int64, error)
}

// Repository is the SQLite Store, backed by the datasets table.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new dataset cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Put saves data with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert data.
func (r *Repository) Put(ctx context.Context, key, source string, data []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("cache key is required")
	}
	now := r.now()
	_, err := r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO datasets (key, source, data, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		key, source, data, now.Unix(), now.Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store dataset %s: %w", key, err)
	}
	return nil
}

// Get returns data only if expires_at > now.
func (r *Repository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT data FROM datasets WHERE key = ? AND expires_at > ?", key, r.now().Unix(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get dataset %s: %w", key, err)
	}
	return data, true, nil
}

// GetStale returns data regardless of expiration status.
func (r *Repository) GetStale(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, "SELECT data FROM datasets WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get dataset %s: %w", key, err)
	}
	return data, true, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM datasets WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w", key, err)
	}
	return nil
}

// DeleteSource removes every entry of a source.
func (r *Repository) DeleteSource(ctx context.Context, source string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM datasets WHERE source = ?", source)
	if err != nil {
		return 0, fmt.Errorf("failed to delete datasets of %s: %w", source, err)
	}
	return rowsAffected(result, source)
}

// DeleteExpired removes all rows where expires_at <= now.
func (r *Repository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM datasets WHERE expires_at <= ?", r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired datasets: %w", err)
	}
	return rowsAffected(result, "expired")
}

func rowsAffected(result sql.Result, what string) (int64, error) {
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", what, err)
	}
	return deleted, nil
}
