package conversations

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/relay/pkg/models"
)

// maxMessagesPerConversation limits messages kept per conversation to
// prevent unbounded memory growth; oldest messages are trimmed.
const maxMessagesPerConversation = 1000

// MemoryStore provides an in-memory Store implementation for tests and
// local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]*models.Message{},
	}
}

func (m *MemoryStore) Create(_ context.Context, conversation *models.Conversation) error {
	if conversation == nil {
		return errors.New("conversation is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *conversation
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to the caller.
	conversation.ID = clone.ID
	conversation.CreatedAt = clone.CreatedAt
	conversation.UpdatedAt = clone.UpdatedAt
	m.conversations[clone.ID] = &clone
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conversation, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *conversation
	return &clone, nil
}

func (m *MemoryStore) List(_ context.Context, userID string, limit int) ([]*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Conversation
	for _, conversation := range m.conversations {
		if conversation.UserID == userID {
			clone := *conversation
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}

	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.ConversationID = conversationID
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt

	messages := append(m.messages[conversationID], &clone)
	if len(messages) > maxMessagesPerConversation {
		messages = messages[len(messages)-maxMessagesPerConversation:]
	}
	m.messages[conversationID] = messages

	conversation.MessageCount = len(messages)
	conversation.UpdatedAt = clone.CreatedAt
	return nil
}

func (m *MemoryStore) History(_ context.Context, conversationID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}

	messages := m.messages[conversationID]
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	out := make([]*models.Message, len(messages))
	for i, msg := range messages {
		clone := *msg
		out[i] = &clone
	}
	return out, nil
}
