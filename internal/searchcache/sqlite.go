package searchcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store backed by a SQLite database. All lookups go
// through the query_hash primary key; expired rows are filtered on read and
// purged opportunistically on write.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed cache store
// at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize cache schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS search_cache (
		query_hash       TEXT PRIMARY KEY,
		normalized_query TEXT NOT NULL,
		serialized_result TEXT NOT NULL,
		created_at       INTEGER NOT NULL,
		expires_at       INTEGER NOT NULL,
		hit_count        INTEGER NOT NULL DEFAULT 0,
		last_accessed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_cache_expiry ON search_cache (expires_at);
	`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, query string) (*Entry, error) {
	return s.GetAt(ctx, query, time.Now())
}

// GetAt looks up a query with an explicit clock (for testing).
func (s *SQLiteStore) GetAt(ctx context.Context, query string, now time.Time) (*Entry, error) {
	key := Key(query)

	row := s.db.QueryRowContext(ctx, `
		SELECT query_hash, normalized_query, serialized_result,
		       created_at, expires_at, hit_count, last_accessed_at
		FROM search_cache
		WHERE query_hash = ? AND expires_at > ?`,
		key, now.Unix())

	var entry Entry
	var createdAt, expiresAt, lastAccessed int64
	err := row.Scan(&entry.Hash, &entry.NormalizedQuery, &entry.Result,
		&createdAt, &expiresAt, &entry.HitCount, &lastAccessed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	entry.CreatedAt = time.Unix(createdAt, 0)
	entry.ExpiresAt = time.Unix(expiresAt, 0)
	entry.LastAccessedAt = now
	entry.HitCount++

	// The hit refreshes the counter and access time but never expiry.
	_, err = s.db.ExecContext(ctx, `
		UPDATE search_cache
		SET hit_count = hit_count + 1, last_accessed_at = ?
		WHERE query_hash = ?`,
		now.Unix(), key)
	if err != nil {
		return nil, fmt.Errorf("cache hit update: %w", err)
	}

	return &entry, nil
}

func (s *SQLiteStore) Put(ctx context.Context, query, result string, ttl time.Duration) error {
	return s.PutAt(ctx, query, result, ttl, time.Now())
}

// PutAt stores a result with an explicit clock (for testing). Existing
// entries for the same normalized query are replaced outright.
func (s *SQLiteStore) PutAt(ctx context.Context, query, result string, ttl time.Duration, now time.Time) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_cache
			(query_hash, normalized_query, serialized_result,
			 created_at, expires_at, hit_count, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (query_hash) DO UPDATE SET
			serialized_result = excluded.serialized_result,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			hit_count = 0,
			last_accessed_at = excluded.last_accessed_at`,
		Key(query), Normalize(query), result,
		now.Unix(), now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	// Opportunistic purge keeps the table from accumulating dead rows.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE expires_at <= ?`, now.Unix())
	return nil
}
