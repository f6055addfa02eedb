package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/relay/pkg/models"
)

// LLMProvider is the interface implemented by chat model backends.
//
// Implementations must be safe for concurrent use; the pipeline issues
// Complete for tool-calling rounds and a single Stream call for the
// final answer.
type LLMProvider interface {
	// Name returns the provider name for logging and metrics.
	Name() string

	// Complete performs a non-streaming completion. The response may
	// request tool invocations via Completion.ToolCalls.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// Stream performs a streaming completion and returns a channel of
	// text deltas. The channel is closed when the response ends; a
	// delta with a non-nil Err terminates the stream.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamDelta, error)
}

// CompletionRequest carries one LLM call's full context.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []CompletionMessage
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float32
}

// CompletionMessage is one turn of conversation context sent to the
// provider. Parts carries multimodal content for user turns; ToolCalls
// and ToolCallID carry the tool protocol for assistant and tool turns.
type CompletionMessage struct {
	Role       models.Role
	Content    string
	Parts      []models.Part
	ToolCalls  []models.ToolCall
	ToolCallID string
}

// Completion is a non-streaming provider response.
type Completion struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
	Usage        Usage
}

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamDelta is one increment of a streaming response.
type StreamDelta struct {
	Content string
	Err     error
}

// ToolSpec describes a tool advertised to the provider.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Tool is an executable capability the loop can dispatch to.
//
// Execute returns the result payload as a string; a non-nil error marks
// the result as failed but never aborts the round.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// messageFromModel converts a stored message to provider context.
func messageFromModel(msg *models.Message) CompletionMessage {
	return CompletionMessage{
		Role:       msg.Role,
		Content:    msg.Content,
		Parts:      msg.Parts,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
	}
}
