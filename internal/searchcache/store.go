package searchcache

import (
	"context"
	"time"
)

// DefaultTTL is the fixed entry lifetime applied when a caller passes a
// non-positive TTL to Put.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one cached search result. HitCount and LastAccessedAt are
// refreshed on every hit; ExpiresAt is fixed at creation and never slides.
type Entry struct {
	Hash            string
	NormalizedQuery string
	Result          string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	HitCount        int64
	LastAccessedAt  time.Time
}

// Store persists cache entries keyed by normalized-query hash.
//
// Get returns (nil, nil) on a miss or an expired entry; a successful hit
// increments the entry's hit counter and refreshes its last-accessed time
// without extending expiry. Put overwrites any existing entry for the same
// normalized query (last writer wins; duplicate work from concurrent misses
// is acceptable). Callers treat Put failures as non-fatal: caching is an
// optimization, never a correctness dependency.
type Store interface {
	Get(ctx context.Context, query string) (*Entry, error)
	Put(ctx context.Context, query string, result string, ttl time.Duration) error
}
