package searchcache

import (
	"context"
	"sync"
	"time"
)

// maxMemoryEntries bounds the in-memory store so long-running processes do
// not grow without limit. When exceeded, entries closest to expiry are
// evicted first.
const maxMemoryEntries = 1000

// MemoryStore is an in-memory Store implementation for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory cache store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Get(ctx context.Context, query string) (*Entry, error) {
	return s.GetAt(ctx, query, time.Now())
}

// GetAt looks up a query with an explicit clock (for testing).
func (s *MemoryStore) GetAt(_ context.Context, query string, now time.Time) (*Entry, error) {
	key := Key(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.ExpiresAt.After(now) {
		return nil, nil
	}

	entry.HitCount++
	entry.LastAccessedAt = now

	clone := *entry
	return &clone, nil
}

func (s *MemoryStore) Put(ctx context.Context, query, result string, ttl time.Duration) error {
	return s.PutAt(ctx, query, result, ttl, time.Now())
}

// PutAt stores a result with an explicit clock (for testing).
func (s *MemoryStore) PutAt(_ context.Context, query, result string, ttl time.Duration, now time.Time) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	normalized := Normalize(query)
	key := Key(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune(now)
	s.entries[key] = &Entry{
		Hash:            key,
		NormalizedQuery: normalized,
		Result:          result,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		LastAccessedAt:  now,
	}
	return nil
}

// Size returns the current number of entries, expired ones included.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) prune(now time.Time) {
	for key, entry := range s.entries {
		if !entry.ExpiresAt.After(now) {
			delete(s.entries, key)
		}
	}
	for len(s.entries) >= maxMemoryEntries {
		var oldestKey string
		var oldestExpiry time.Time
		for key, entry := range s.entries {
			if oldestKey == "" || entry.ExpiresAt.Before(oldestExpiry) {
				oldestKey = key
				oldestExpiry = entry.ExpiresAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(s.entries, oldestKey)
	}
}
