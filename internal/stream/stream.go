// Package stream implements the newline-delimited JSON event protocol
// used to deliver chat responses incrementally.
//
// Each event is a small JSON envelope on its own line. A response carries
// zero or more token and tool events followed by exactly one terminal
// event, either done or error.
//
// NDJSON has no comment syntax, so the immediate keepalive is itself a
// typed event ({"type":"keepalive"}) rather than a comment line. It
// carries no data and clients must ignore it, along with any other
// event type they do not recognize.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Event types on the wire.
const (
	EventKeepalive  = "keepalive"
	EventToken      = "token"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventDone       = "done"
	EventError      = "error"
)

// Event is a single wire-protocol envelope. Fields are populated
// depending on Type; unused fields are omitted from the encoding.
type Event struct {
	Type string `json:"type"`

	// Content carries a text increment for token events.
	Content string `json:"content,omitempty"`

	// Name and Args describe a tool invocation before execution.
	Name string          `json:"name,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`

	// Success reports the tool outcome on tool_result events. The tool
	// payload itself stays server-side in the message history.
	Success *bool `json:"success,omitempty"`

	// ConversationID identifies the thread on the terminal done event.
	ConversationID string `json:"conversationId,omitempty"`

	// Message carries the failure description on terminal error events.
	Message string `json:"message,omitempty"`
}

// Token builds a token event carrying one text increment.
func Token(content string) Event {
	return Event{Type: EventToken, Content: content}
}

// ToolCall builds the pre-execution notification for a tool invocation.
func ToolCall(name string, args json.RawMessage) Event {
	return Event{Type: EventToolCall, Name: name, Args: args}
}

// ToolResult builds the post-execution notification for a tool invocation.
func ToolResult(name string, success bool) Event {
	return Event{Type: EventToolResult, Name: name, Success: &success}
}

// Done builds the terminal success event.
func Done(conversationID string) Event {
	return Event{Type: EventDone, ConversationID: conversationID}
}

// ErrorEvent builds the terminal failure event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Writer encodes events as NDJSON onto an http.ResponseWriter, flushing
// after every line so intermediaries forward increments promptly.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	encoder *json.Encoder
}

// NewWriter prepares w for NDJSON streaming and immediately emits a
// keepalive event, committing the response before any backend work can
// stall it past an intermediary read timeout.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := &Writer{w: w, encoder: json.NewEncoder(w)}
	if flusher, ok := w.(http.Flusher); ok {
		sw.flusher = flusher
	}
	if err := sw.Write(Event{Type: EventKeepalive}); err != nil {
		return nil, fmt.Errorf("write keepalive: %w", err)
	}
	return sw, nil
}

// Write encodes one event followed by a newline and flushes.
func (sw *Writer) Write(event Event) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if err := sw.encoder.Encode(event); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
