package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// stubTool is a func-backed Tool for tests.
type stubTool struct {
	name string
	fn   func(ctx context.Context, input json.RawMessage) (string, error)
}

func (t stubTool) Name() string            { return t.name }
func (t stubTool) Description() string     { return "stub tool" }
func (t stubTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t stubTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return t.fn(ctx, input)
}

func newTestExecutor(t *testing.T, timeout time.Duration, tools ...Tool) *Executor {
	t.Helper()
	registry := NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	return NewExecutor(registry, ExecutorOptions{Timeout: timeout})
}

func TestExecuteSuccess(t *testing.T) {
	executor := newTestExecutor(t, time.Second, stubTool{
		name: "echo",
		fn: func(_ context.Context, input json.RawMessage) (string, error) {
			return string(input), nil
		},
	})

	result := executor.Execute(context.Background(), models.ToolCall{
		ID: "call-1", Name: "echo", Input: json.RawMessage(`{"x":1}`),
	})
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if result.ToolCallID != "call-1" || result.Content != `{"x":1}` {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	executor := newTestExecutor(t, time.Second)

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c", Name: "nope"})
	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	if !strings.Contains(result.Content, "tool not available") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestExecuteHandlerError(t *testing.T) {
	executor := newTestExecutor(t, time.Second, stubTool{
		name: "boom",
		fn: func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("backend unavailable")
		},
	})

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c", Name: "boom"})
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Content, "backend unavailable") {
		t.Errorf("content = %q", result.Content)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Errorf("error payload is not JSON: %v", err)
	}
}

func TestExecuteRecoverPanic(t *testing.T) {
	executor := newTestExecutor(t, time.Second, stubTool{
		name: "panics",
		fn: func(context.Context, json.RawMessage) (string, error) {
			panic("oh no")
		},
	})

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c", Name: "panics"})
	if !result.IsError {
		t.Fatal("expected error result from panicking tool")
	}
	if !strings.Contains(result.Content, "panicked") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestExecuteTimeout(t *testing.T) {
	executor := newTestExecutor(t, 20*time.Millisecond, stubTool{
		name: "slow",
		fn: func(ctx context.Context, _ json.RawMessage) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	})

	start := time.Now()
	result := executor.Execute(context.Background(), models.ToolCall{ID: "c", Name: "slow"})
	if !result.IsError {
		t.Fatal("expected timeout result")
	}
	if !strings.Contains(result.Content, "timed out") {
		t.Errorf("content = %q", result.Content)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout was not enforced promptly")
	}
}

func TestExecuteTruncatesOversizedOutput(t *testing.T) {
	executor := newTestExecutor(t, time.Second, stubTool{
		name: "big",
		fn: func(context.Context, json.RawMessage) (string, error) {
			return strings.Repeat("x", maxToolResultBytes+100), nil
		},
	})

	result := executor.Execute(context.Background(), models.ToolCall{ID: "c", Name: "big"})
	if result.IsError {
		t.Fatalf("unexpected error: %+v", result)
	}
	if len(result.Content) > maxToolResultBytes+len("\n[truncated]") {
		t.Errorf("content not truncated: %d bytes", len(result.Content))
	}
	if !strings.HasSuffix(result.Content, "[truncated]") {
		t.Error("expected truncation marker")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	tool := stubTool{name: "echo", fn: func(context.Context, json.RawMessage) (string, error) { return "", nil }}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := registry.Register(tool); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if err := registry.Register(nil); err == nil {
		t.Error("expected nil tool to be rejected")
	}
}

func TestRegistrySpecsSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		registry.Register(stubTool{name: name, fn: func(context.Context, json.RawMessage) (string, error) { return "", nil }})
	}
	specs := registry.Specs()
	if len(specs) != 3 || specs[0].Name != "alpha" || specs[1].Name != "mid" || specs[2].Name != "zeta" {
		t.Errorf("specs = %+v", specs)
	}
}
