// Package memory provides long-term recall of conversation summaries.
package memory

import (
	"context"
	"time"
)

// Summary is a condensed record of a past conversation.
type Summary struct {
	ConversationID string
	Content        string
	CreatedAt      time.Time
}

// Recaller returns a small number of recent conversation summaries for a
// user, newest first. Failures are treated as a degraded-context condition
// by callers, never as fatal.
type Recaller interface {
	Recent(ctx context.Context, userID string, limit int) ([]Summary, error)
}
