// Package skills provides named personas that can be layered into a
// conversation's system prompt and swapped mid-conversation, either
// explicitly or through auto-switch trigger rules.
package skills

import (
	"regexp"
	"strings"
	"time"
)

// Skill is a named instruction set assignable to a user.
type Skill struct {
	ID          string        `json:"id" yaml:"id"`
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description"`
	Content     string        `json:"content" yaml:"content"`
	IsDefault   bool          `json:"is_default,omitempty" yaml:"is_default"`
	Triggers    []TriggerRule `json:"triggers,omitempty" yaml:"triggers"`
	// Position orders skills for auto-switch evaluation (lower first).
	Position int `json:"position" yaml:"position"`
}

// TriggerRuleKind identifies how a trigger rule matches.
type TriggerRuleKind string

const (
	// TriggerKeyword matches when the user text contains any keyword.
	TriggerKeyword TriggerRuleKind = "keyword"
	// TriggerRegex matches the user text against a regular expression.
	TriggerRegex TriggerRuleKind = "regex"
	// TriggerHours matches when the current hour falls in [StartHour, EndHour).
	TriggerHours TriggerRuleKind = "hours"
)

// TriggerRule declares an auto-switch condition for a skill.
type TriggerRule struct {
	Kind     TriggerRuleKind `json:"kind" yaml:"kind"`
	Keywords []string        `json:"keywords,omitempty" yaml:"keywords"`
	Pattern  string          `json:"pattern,omitempty" yaml:"pattern"`
	// StartHour/EndHour bound time-based rules; EndHour < StartHour wraps
	// past midnight (e.g. 22..6).
	StartHour int `json:"start_hour,omitempty" yaml:"start_hour"`
	EndHour   int `json:"end_hour,omitempty" yaml:"end_hour"`
}

// Matches reports whether the rule fires for the given user text at the
// given time. Invalid rules (bad regex, empty keyword list) never match.
func (r TriggerRule) Matches(text string, now time.Time) bool {
	switch r.Kind {
	case TriggerKeyword:
		lowered := strings.ToLower(text)
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lowered, kw) {
				return true
			}
		}
		return false

	case TriggerRegex:
		if r.Pattern == "" {
			return false
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(text)

	case TriggerHours:
		hour := now.Hour()
		if r.StartHour == r.EndHour {
			return false
		}
		if r.StartHour < r.EndHour {
			return hour >= r.StartHour && hour < r.EndHour
		}
		return hour >= r.StartHour || hour < r.EndHour
	}
	return false
}

// Usage captures completion metrics recorded against a skill after a
// request finishes while the skill is active.
type Usage struct {
	Success   bool
	Tokens    int
	ToolCalls int
}

// UsageRecord is the accumulated usage for one skill.
type UsageRecord struct {
	SkillID      string
	Requests     int64
	Successes    int64
	TotalTokens  int64
	ToolCalls    int64
	LastUsedAt   time.Time
}
