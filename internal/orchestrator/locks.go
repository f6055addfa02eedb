package orchestrator

import "sync"

// conversationLocks serializes pipeline runs per conversation id.
// Interleaved appends from two concurrent runs would corrupt message
// order, so a second request for a busy conversation is rejected
// rather than queued.
type conversationLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{active: map[string]struct{}{}}
}

// tryAcquire claims the conversation, reporting false when a run is
// already in flight.
func (l *conversationLocks) tryAcquire(conversationID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[conversationID]; busy {
		return false
	}
	l.active[conversationID] = struct{}{}
	return true
}

func (l *conversationLocks) release(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, conversationID)
}
