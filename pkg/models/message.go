package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a message content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one element of a multimodal message body.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	// ImageURL is either an https URL or a data URI.
	ImageURL string `json:"image_url,omitempty"`
}

// Message is a single entry in a conversation transcript.
// Messages are immutable once persisted; insertion order is the only
// ordering guarantee the pipeline relies on.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	Parts          []Part     `json:"parts,omitempty"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToolCall represents an LLM's request to execute a tool.
// Input may arrive as a JSON object or as a string-encoded JSON document
// depending on the backend; both forms are normalized before dispatch.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution. Content is a
// JSON-serializable payload, or an error message when IsError is set.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Conversation represents one chat thread owned by a user.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title,omitempty"`
	ActiveSkillID string    `json:"active_skill_id,omitempty"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TriggerKind records how a skill became active on a conversation.
type TriggerKind string

const (
	TriggerManual  TriggerKind = "manual"
	TriggerAuto    TriggerKind = "auto"
	TriggerCommand TriggerKind = "command"
)

// ActiveSkill is the skill currently layered into a conversation's
// system prompt. PreviousSkillID captures the skill that was active
// immediately before this activation so switch history stays
// reconstructable.
type ActiveSkill struct {
	SkillID         string      `json:"skill_id"`
	Name            string      `json:"name"`
	Content         string      `json:"-"`
	Trigger         TriggerKind `json:"trigger"`
	PreviousSkillID string      `json:"previous_skill_id,omitempty"`
	ActivatedAt     time.Time   `json:"activated_at"`
}
