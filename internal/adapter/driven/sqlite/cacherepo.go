package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LocalStore = (*CacheRepo)(nil)

// CacheRepo is the SQLite implementation of the LocalStore port. Each key
// holds one serialized collection snapshot.
type CacheRepo struct {
	db *DB
}

// NewCacheRepo creates a new CacheRepo backed by the given DB.
func NewCacheRepo(db *DB) *CacheRepo {
	return &CacheRepo{db: db}
}

// Get returns the blob stored under key.
func (r *CacheRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	const query = `SELECT blob FROM cache_entries WHERE key = ?`

	var blob []byte
	err := r.db.Reader.QueryRowContext(ctx, query, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache entry %s: %w", key, err)
	}
	return blob, true, nil
}

// Set stores or replaces the blob under key.
func (r *CacheRepo) Set(ctx context.Context, key string, blob []byte) error {
	const query = `
		INSERT INTO cache_entries (key, blob, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`

	if blob == nil {
		blob = []byte{}
	}
	_, err := r.db.Writer.ExecContext(ctx, query, key, blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set cache entry %s: %w", key, err)
	}
	return nil
}
