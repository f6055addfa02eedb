package skills

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// MemoryRegistry is an in-memory Registry implementation for tests and
// local runs.
type MemoryRegistry struct {
	mu          sync.RWMutex
	skills      map[string]*Skill
	assignments map[string][]string // userID -> skill IDs
	defaults    map[string]string   // userID -> skill ID
	active      map[string]*models.ActiveSkill
	usage       map[string]*UsageRecord
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		skills:      make(map[string]*Skill),
		assignments: make(map[string][]string),
		defaults:    make(map[string]string),
		active:      make(map[string]*models.ActiveSkill),
		usage:       make(map[string]*UsageRecord),
	}
}

// AddSkill registers a skill definition.
func (r *MemoryRegistry) AddSkill(skill *Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *skill
	r.skills[skill.ID] = &clone
}

// Assign attaches a skill to a user. Marking it default replaces any
// existing default for that user.
func (r *MemoryRegistry) Assign(userID, skillID string, isDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[userID] = append(r.assignments[userID], skillID)
	if isDefault {
		r.defaults[userID] = skillID
	}
}

func (r *MemoryRegistry) Get(_ context.Context, skillID string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[skillID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *skill
	return &clone, nil
}

func (r *MemoryRegistry) Default(_ context.Context, userID string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.defaults[userID]
	if !ok {
		return nil, nil
	}
	skill, ok := r.skills[id]
	if !ok {
		return nil, nil
	}
	clone := *skill
	return &clone, nil
}

func (r *MemoryRegistry) Assigned(_ context.Context, userID string) ([]*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Skill, 0, len(r.assignments[userID]))
	for _, id := range r.assignments[userID] {
		if skill, ok := r.skills[id]; ok {
			clone := *skill
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (r *MemoryRegistry) Active(_ context.Context, conversationID string) (*models.ActiveSkill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active, ok := r.active[conversationID]
	if !ok {
		return nil, nil
	}
	clone := *active
	return &clone, nil
}

func (r *MemoryRegistry) Activate(_ context.Context, conversationID string, skill *Skill, trigger models.TriggerKind) (*models.ActiveSkill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := ""
	if current, ok := r.active[conversationID]; ok {
		previous = current.SkillID
	}

	active := &models.ActiveSkill{
		SkillID:         skill.ID,
		Name:            skill.Name,
		Content:         skill.Content,
		Trigger:         trigger,
		PreviousSkillID: previous,
		ActivatedAt:     time.Now(),
	}
	r.active[conversationID] = active
	clone := *active
	return &clone, nil
}

func (r *MemoryRegistry) Deactivate(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, conversationID)
	return nil
}

func (r *MemoryRegistry) RecordUsage(_ context.Context, skillID string, usage Usage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.usage[skillID]
	if !ok {
		record = &UsageRecord{SkillID: skillID}
		r.usage[skillID] = record
	}
	record.Requests++
	if usage.Success {
		record.Successes++
	}
	record.TotalTokens += int64(usage.Tokens)
	record.ToolCalls += int64(usage.ToolCalls)
	record.LastUsedAt = time.Now()
	return nil
}

// UsageFor returns the accumulated usage for a skill, or nil.
func (r *MemoryRegistry) UsageFor(skillID string) *UsageRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.usage[skillID]
	if !ok {
		return nil
	}
	clone := *record
	return &clone
}
