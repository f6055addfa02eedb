// Package conversations persists chat threads and their message history.
package conversations

import (
	"context"
	"errors"

	"github.com/haasonsaas/relay/pkg/models"
)

// ErrNotFound is returned when a conversation id does not resolve.
var ErrNotFound = errors.New("conversation not found")

// Store is the interface for conversation persistence. Conversations are
// append-only from the pipeline's point of view: messages are immutable
// once written and History returns them in insertion order, which is the
// only ordering guarantee the pipeline relies on.
type Store interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	List(ctx context.Context, userID string, limit int) ([]*models.Conversation, error)

	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error
	History(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
}
