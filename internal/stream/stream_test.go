package stream

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, body string) []Event {
	t.Helper()
	var events []Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("invalid event line %q: %v", line, err)
		}
		events = append(events, event)
	}
	return events
}

func TestWriterEmitsKeepaliveFirst(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := writer.Write(Token("hi")); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := decodeLines(t, rec.Body.String())
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventKeepalive {
		t.Errorf("first event type = %q, want keepalive", events[0].Type)
	}
	if events[1].Type != EventToken || events[1].Content != "hi" {
		t.Errorf("second event = %+v", events[1])
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("content type = %q", got)
	}
}

func TestWriterFlushesPerEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	writer, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if !rec.Flushed {
		t.Error("expected flush after keepalive")
	}
	rec.Flushed = false
	if err := writer.Write(Token("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !rec.Flushed {
		t.Error("expected flush after token event")
	}
}

func TestEventShapes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"token", Token("abc"), `{"type":"token","content":"abc"}`},
		{"tool_call", ToolCall("search_web", json.RawMessage(`{"query":"x"}`)), `{"type":"tool_call","name":"search_web","args":{"query":"x"}}`},
		{"tool_result_ok", ToolResult("search_web", true), `{"type":"tool_result","name":"search_web","success":true}`},
		{"tool_result_failed", ToolResult("run_shell", false), `{"type":"tool_result","name":"run_shell","success":false}`},
		{"done", Done("conv-1"), `{"type":"done","conversationId":"conv-1"}`},
		{"error", ErrorEvent("boom"), `{"type":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(raw) != tt.want {
				t.Errorf("encoded %s, want %s", raw, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	if !Done("c").Terminal() || !ErrorEvent("x").Terminal() {
		t.Error("done and error must be terminal")
	}
	if Token("t").Terminal() || ToolCall("a", nil).Terminal() {
		t.Error("token and tool_call must not be terminal")
	}
}

// Ensure the writer works against a real server connection, not just the
// recorder.
func TestWriterOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writer, err := NewWriter(w)
		if err != nil {
			t.Errorf("new writer: %v", err)
			return
		}
		writer.Write(Token("hello"))
		writer.Write(Done("conv-9"))
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var events []Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("decode: %v", err)
		}
		events = append(events, event)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != EventKeepalive || events[1].Content != "hello" || events[2].ConversationID != "conv-9" {
		t.Errorf("unexpected sequence: %+v", events)
	}
}
