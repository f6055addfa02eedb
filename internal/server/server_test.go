package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/relay/internal/conversations"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/internal/searchcache"
	"github.com/haasonsaas/relay/internal/stream"
	"github.com/haasonsaas/relay/internal/tools/websearch"
	"github.com/haasonsaas/relay/pkg/models"
)

// queuedProvider serves scripted completions across requests and streams
// a fixed final answer.
type queuedProvider struct {
	mu          sync.Mutex
	completions []*orchestrator.Completion
	streamText  []string
}

func (p *queuedProvider) Name() string { return "queued" }

func (p *queuedProvider) Complete(context.Context, *orchestrator.CompletionRequest) (*orchestrator.Completion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.completions) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := p.completions[0]
	p.completions = p.completions[1:]
	return next, nil
}

func (p *queuedProvider) Stream(context.Context, *orchestrator.CompletionRequest) (<-chan orchestrator.StreamDelta, error) {
	ch := make(chan orchestrator.StreamDelta)
	go func() {
		defer close(ch)
		for _, chunk := range p.streamText {
			ch <- orchestrator.StreamDelta{Content: chunk}
		}
	}()
	return ch, nil
}

type fixture struct {
	server      *Server
	store       *conversations.MemoryStore
	cache       *searchcache.MemoryStore
	backendHits *atomic.Int64
}

func newFixture(t *testing.T, provider orchestrator.LLMProvider, tokens map[string]string) *fixture {
	t.Helper()

	var backendHits atomic.Int64
	brave := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[{"title":"Lisbon","url":"https://example.com","description":"Sunny, 24C"}]}}`))
	}))
	t.Cleanup(brave.Close)

	cache := searchcache.NewMemoryStore()
	searchTool := websearch.New(websearch.Config{BraveAPIKey: "key", BraveBaseURL: brave.URL}, cache, nil)

	registry := orchestrator.NewRegistry()
	if err := registry.Register(searchTool); err != nil {
		t.Fatalf("register: %v", err)
	}

	store := conversations.NewMemoryStore()
	pipeline, err := orchestrator.NewPipeline(orchestrator.PipelineOptions{
		Provider:  provider,
		Store:     store,
		Assembler: orchestrator.NewAssembler(orchestrator.AssemblerOptions{}),
		Executor:  orchestrator.NewExecutor(registry, orchestrator.ExecutorOptions{Timeout: time.Second}),
		Registry:  registry,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	srv, err := New(Options{Pipeline: pipeline, Store: store, Tokens: tokens})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return &fixture{server: srv, store: store, cache: cache, backendHits: &backendHits}
}

func postChat(t *testing.T, handler http.Handler, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte(body)))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeEvents(t *testing.T, body string) []stream.Event {
	t.Helper()
	var events []stream.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		var event stream.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("invalid event %q: %v", scanner.Text(), err)
		}
		events = append(events, event)
	}
	return events
}

func eventTypes(events []stream.Event) []string {
	out := make([]string, len(events))
	for i, event := range events {
		out[i] = event.Type
	}
	return out
}

func toolCallCompletion() *orchestrator.Completion {
	return &orchestrator.Completion{
		ToolCalls: []models.ToolCall{
			{Name: "search_web", Input: json.RawMessage(`{"query":"What's the weather in Lisbon?"}`)},
		},
	}
}

func TestChatEndToEndWithCacheTransparency(t *testing.T) {
	provider := &queuedProvider{
		completions: []*orchestrator.Completion{
			toolCallCompletion(), {Content: "done"},
			toolCallCompletion(), {Content: "done"},
		},
		streamText: []string{"It is ", "sunny."},
	}
	f := newFixture(t, provider, nil)

	first := postChat(t, f.server.Handler(), "", `{"message":"What's the weather in Lisbon?"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", first.Code, first.Body.String())
	}
	firstEvents := decodeEvents(t, first.Body.String())

	want := []string{
		stream.EventKeepalive, stream.EventToolCall, stream.EventToolResult,
		stream.EventToken, stream.EventToken, stream.EventDone,
	}
	if got := eventTypes(firstEvents); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}

	// An identical request inside the TTL window is served from the
	// cache but produces the same event sequence for the client.
	second := postChat(t, f.server.Handler(), "", `{"message":"What's the weather in Lisbon?"}`)
	secondEvents := decodeEvents(t, second.Body.String())
	if strings.Join(eventTypes(secondEvents), ",") != strings.Join(eventTypes(firstEvents), ",") {
		t.Errorf("cache hit changed the event sequence: %v vs %v",
			eventTypes(secondEvents), eventTypes(firstEvents))
	}

	if f.backendHits.Load() != 1 {
		t.Errorf("search backend hits = %d, want 1 (second served from cache)", f.backendHits.Load())
	}

	entry, err := f.cache.Get(context.Background(), "What's the weather in Lisbon?")
	if err != nil || entry == nil {
		t.Fatalf("cache entry missing: %v", err)
	}
	if entry.HitCount < 2 {
		t.Errorf("hit count = %d, want at least the tool hit plus this probe", entry.HitCount)
	}

	// Tokens concatenate to the full answer.
	var text strings.Builder
	for _, event := range firstEvents {
		if event.Type == stream.EventToken {
			text.WriteString(event.Content)
		}
	}
	if text.String() != "It is sunny." {
		t.Errorf("answer = %q", text.String())
	}

	// Both tool results succeeded.
	for _, events := range [][]stream.Event{firstEvents, secondEvents} {
		for _, event := range events {
			if event.Type == stream.EventToolResult && (event.Success == nil || !*event.Success) {
				t.Errorf("tool result not successful: %+v", event)
			}
		}
	}
}

func TestChatRequiresMessage(t *testing.T) {
	f := newFixture(t, &queuedProvider{}, nil)
	rec := postChat(t, f.server.Handler(), "", `{"message":""}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatAuth(t *testing.T) {
	tokens := map[string]string{"secret-token": "user-1"}
	provider := &queuedProvider{
		completions: []*orchestrator.Completion{{Content: ""}},
		streamText:  []string{"hi"},
	}
	f := newFixture(t, provider, tokens)

	if rec := postChat(t, f.server.Handler(), "", `{"message":"hi"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}
	if rec := postChat(t, f.server.Handler(), "wrong", `{"message":"hi"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	rec := postChat(t, f.server.Handler(), "secret-token", `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	list, err := f.store.List(context.Background(), "user-1", 10)
	if err != nil || len(list) != 1 {
		t.Errorf("conversation not attributed to token's user: %v, %v", list, err)
	}
}

func TestChatUnknownConversation(t *testing.T) {
	f := newFixture(t, &queuedProvider{}, nil)
	rec := postChat(t, f.server.Handler(), "", `{"message":"hi","conversation_id":"nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, &queuedProvider{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestListAndMessages(t *testing.T) {
	provider := &queuedProvider{
		completions: []*orchestrator.Completion{{Content: ""}},
		streamText:  []string{"answer"},
	}
	f := newFixture(t, provider, nil)

	rec := postChat(t, f.server.Handler(), "", `{"message":"first question"}`)
	events := decodeEvents(t, rec.Body.String())
	conversationID := events[len(events)-1].ConversationID
	if conversationID == "" {
		t.Fatalf("no conversation id in %+v", events)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	listRec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK || !strings.Contains(listRec.Body.String(), conversationID) {
		t.Errorf("list response: %d %s", listRec.Code, listRec.Body.String())
	}

	msgReq := httptest.NewRequest(http.MethodGet, "/v1/conversations/"+conversationID+"/messages", nil)
	msgRec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(msgRec, msgReq)
	if msgRec.Code != http.StatusOK || !strings.Contains(msgRec.Body.String(), "first question") {
		t.Errorf("messages response: %d %s", msgRec.Code, msgRec.Body.String())
	}
}
