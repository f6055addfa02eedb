package skills

import (
	"context"
	"errors"

	"github.com/haasonsaas/relay/pkg/models"
)

// ErrNotFound is returned when a skill id does not resolve.
var ErrNotFound = errors.New("skill not found")

// Registry resolves skills and tracks per-conversation activation.
//
// Activation always captures the immediately preceding active skill so the
// switch history stays reconstructable. At most one skill is active per
// conversation at any time.
type Registry interface {
	// Get returns a skill by id, or ErrNotFound.
	Get(ctx context.Context, skillID string) (*Skill, error)

	// Default returns the user's default skill, or nil when none is set.
	Default(ctx context.Context, userID string) (*Skill, error)

	// Assigned returns the skills assigned to a user ordered by Position.
	// Auto-switch evaluation follows this order.
	Assigned(ctx context.Context, userID string) ([]*Skill, error)

	// Active returns the conversation's active skill, or nil.
	Active(ctx context.Context, conversationID string) (*models.ActiveSkill, error)

	// Activate makes the skill active on the conversation, replacing any
	// previously active skill and recording it as the predecessor.
	Activate(ctx context.Context, conversationID string, skill *Skill, trigger models.TriggerKind) (*models.ActiveSkill, error)

	// Deactivate clears the conversation's active skill.
	Deactivate(ctx context.Context, conversationID string) error

	// RecordUsage accumulates completion metrics against a skill.
	RecordUsage(ctx context.Context, skillID string, usage Usage) error
}
