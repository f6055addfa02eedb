package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps summaries in process memory. Suitable for tests and
// database-less deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	summaries map[string]map[string]Summary // userID -> conversationID -> summary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{summaries: make(map[string]map[string]Summary)}
}

// Save inserts or replaces a conversation's summary.
func (m *MemoryStore) Save(_ context.Context, userID, conversationID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.summaries[userID] == nil {
		m.summaries[userID] = make(map[string]Summary)
	}
	m.summaries[userID][conversationID] = Summary{
		ConversationID: conversationID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, userID string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Summary, 0, len(m.summaries[userID]))
	for _, summary := range m.summaries[userID] {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
