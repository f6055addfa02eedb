package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/rag"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/pkg/models"
)

// defaultMemoryLimit bounds how many past-conversation summaries are
// folded into the prompt.
const defaultMemoryLimit = 5

// Assembler builds the enriched system prompt for one request from the
// active skill, recent memory summaries, and retrieved documents.
//
// Every enrichment step is optional: a failing collaborator is logged
// and skipped, and the assembler always returns at least the caller's
// base system message.
type Assembler struct {
	skills      skills.Registry
	memory      memory.Recaller
	rag         rag.Retriever
	logger      *slog.Logger
	memoryLimit int
	now         func() time.Time
}

// AssemblerOptions configures an Assembler. Skills, Memory, and RAG may
// each be nil to disable that enrichment.
type AssemblerOptions struct {
	Skills      skills.Registry
	Memory      memory.Recaller
	RAG         rag.Retriever
	Logger      *slog.Logger
	MemoryLimit int
	Now         func() time.Time
}

// NewAssembler creates a context assembler.
func NewAssembler(opts AssemblerOptions) *Assembler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = defaultMemoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assembler{
		skills:      opts.Skills,
		memory:      opts.Memory,
		rag:         opts.RAG,
		logger:      opts.Logger,
		memoryLimit: opts.MemoryLimit,
		now:         opts.Now,
	}
}

// AssembleRequest carries the inputs for one prompt build.
type AssembleRequest struct {
	UserID         string
	ConversationID string
	BaseSystem     string
	LatestUserText string

	// PreselectSkillID activates a specific skill when the conversation
	// has none yet. It takes precedence over the user's default skill.
	PreselectSkillID string
}

// AssembledContext is the result of a prompt build.
type AssembledContext struct {
	System string

	// Skill is the conversation's active skill after resolution, nil
	// when none applies.
	Skill *models.ActiveSkill
}

// Assemble resolves the active skill and merges memory, skill content,
// the base message, and RAG context into one system prompt. It never
// returns an error; degraded enrichment is logged and skipped.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) *AssembledContext {
	active := a.resolveSkill(ctx, req)

	sections := make([]string, 0, 4)

	if block := a.memoryBlock(ctx, req.UserID); block != "" {
		sections = append(sections, block)
	}
	if active != nil && active.Content != "" {
		sections = append(sections, fmt.Sprintf("## Active skill: %s\n%s", active.Name, active.Content))
	}
	if req.BaseSystem != "" {
		sections = append(sections, req.BaseSystem)
	}
	if block := a.ragBlock(ctx, req.UserID, req.LatestUserText); block != "" {
		sections = append(sections, block)
	}

	system := strings.Join(sections, "\n\n")
	if system == "" {
		system = req.BaseSystem
	}
	return &AssembledContext{System: system, Skill: active}
}

// resolveSkill applies the activation precedence: an existing active
// skill persists, an explicit pre-selection beats the user default on
// new conversations, and at most one auto-switch is applied per message
// with the first matching assigned skill winning.
func (a *Assembler) resolveSkill(ctx context.Context, req AssembleRequest) *models.ActiveSkill {
	if a.skills == nil {
		return nil
	}

	active, err := a.skills.Active(ctx, req.ConversationID)
	if err != nil {
		a.logger.Warn("active skill lookup failed", "conversation_id", req.ConversationID, "error", err)
		active = nil
	}

	if active == nil {
		if skill := a.initialSkill(ctx, req); skill != nil {
			trigger := models.TriggerAuto
			if req.PreselectSkillID != "" {
				trigger = models.TriggerManual
			}
			activated, err := a.skills.Activate(ctx, req.ConversationID, skill, trigger)
			if err != nil {
				a.logger.Warn("skill activation failed", "skill_id", skill.ID, "error", err)
				return nil
			}
			active = activated
		}
	}

	if switched := a.autoSwitch(ctx, req, active); switched != nil {
		active = switched
	}
	return active
}

func (a *Assembler) initialSkill(ctx context.Context, req AssembleRequest) *skills.Skill {
	if req.PreselectSkillID != "" {
		skill, err := a.skills.Get(ctx, req.PreselectSkillID)
		if err != nil {
			a.logger.Warn("preselected skill not found", "skill_id", req.PreselectSkillID, "error", err)
		} else {
			return skill
		}
	}

	skill, err := a.skills.Default(ctx, req.UserID)
	if err != nil {
		a.logger.Warn("default skill lookup failed", "user_id", req.UserID, "error", err)
		return nil
	}
	return skill
}

func (a *Assembler) autoSwitch(ctx context.Context, req AssembleRequest, active *models.ActiveSkill) *models.ActiveSkill {
	assigned, err := a.skills.Assigned(ctx, req.UserID)
	if err != nil {
		a.logger.Warn("assigned skills lookup failed", "user_id", req.UserID, "error", err)
		return nil
	}

	now := a.now()
	for _, skill := range assigned {
		if active != nil && skill.ID == active.SkillID {
			continue
		}
		for _, rule := range skill.Triggers {
			if !rule.Matches(req.LatestUserText, now) {
				continue
			}
			activated, err := a.skills.Activate(ctx, req.ConversationID, skill, models.TriggerAuto)
			if err != nil {
				a.logger.Warn("auto-switch activation failed", "skill_id", skill.ID, "error", err)
				return nil
			}
			a.logger.Info("skill auto-switched",
				"conversation_id", req.ConversationID,
				"skill_id", skill.ID,
				"rule", rule.Kind)
			return activated
		}
	}
	return nil
}

func (a *Assembler) memoryBlock(ctx context.Context, userID string) string {
	if a.memory == nil {
		return ""
	}
	summaries, err := a.memory.Recent(ctx, userID, a.memoryLimit)
	if err != nil {
		a.logger.Warn("memory recall failed", "user_id", userID, "error", err)
		return ""
	}
	if len(summaries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Relevant context from past conversations:")
	for _, summary := range summaries {
		b.WriteString("\n- ")
		b.WriteString(summary.Content)
	}
	return b.String()
}

func (a *Assembler) ragBlock(ctx context.Context, userID, query string) string {
	if a.rag == nil || query == "" {
		return ""
	}
	content, err := a.rag.Retrieve(ctx, userID, query)
	if errors.Is(err, rag.ErrNoResults) {
		return ""
	}
	if err != nil {
		a.logger.Warn("rag retrieval failed", "user_id", userID, "error", err)
		return ""
	}
	return "## Relevant documents:\n" + content
}
