package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestNormalizeArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"native_object", `{"query":"go"}`, `{"query":"go"}`},
		{"object_with_whitespace", "  {\"a\":1}\n", `{"a":1}`},
		{"string_encoded_object", `"{\"query\":\"go\"}"`, `{"query":"go"}`},
		{"string_encoded_with_padding", `"  {\"a\":1} "`, `{"a":1}`},
		{"empty", ``, `{}`},
		{"null", `null`, `{}`},
		{"bare_string", `"hello"`, `{}`},
		{"array", `[1,2]`, `{}`},
		{"number", `42`, `{}`},
		{"garbage", `{not json`, `{}`},
		{"string_wrapping_garbage", `"{not json"`, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeArguments(json.RawMessage(tt.raw))
			if string(got) != tt.want {
				t.Errorf("NormalizeArguments(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeToolCallGeneratesID(t *testing.T) {
	call := NormalizeToolCall(models.ToolCall{Name: "search_web", Input: json.RawMessage(`{}`)})
	if call.ID == "" {
		t.Error("expected a generated id")
	}

	call = NormalizeToolCall(models.ToolCall{ID: "call-7", Name: "search_web", Input: nil})
	if call.ID != "call-7" {
		t.Errorf("id = %q, want call-7", call.ID)
	}
	if string(call.Input) != `{}` {
		t.Errorf("nil input should normalize to {}, got %s", call.Input)
	}
}
