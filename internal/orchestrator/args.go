package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/relay/pkg/models"
)

var emptyArgs = json.RawMessage(`{}`)

// NormalizeToolCall fills a server-generated id when the provider omits
// one and coerces the argument payload into a JSON object.
func NormalizeToolCall(call models.ToolCall) models.ToolCall {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	call.Input = NormalizeArguments(call.Input)
	return call
}

// NormalizeArguments accepts the argument encodings seen across LLM
// backends and returns a JSON object in every case:
//
//   - a native JSON object passes through unchanged
//   - a JSON string wrapping an object is unwrapped
//   - anything else (empty, malformed, non-object) becomes {}
func NormalizeArguments(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return emptyArgs
	}

	switch trimmed[0] {
	case '{':
		return trimmed
	case '"':
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return emptyArgs
		}
		inner = strings.TrimSpace(inner)
		if strings.HasPrefix(inner, "{") && json.Valid([]byte(inner)) {
			return json.RawMessage(inner)
		}
		return emptyArgs
	default:
		return emptyArgs
	}
}
