// Package orchestrator runs the tool-calling chat pipeline: it assembles
// the enriched prompt, loops the LLM against the registered tools, and
// streams the final answer as transport events.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/conversations"
	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/skills"
	"github.com/haasonsaas/relay/internal/stream"
	"github.com/haasonsaas/relay/pkg/models"
)

const (
	// defaultMaxRounds caps tool-calling rounds per request so a model
	// that keeps requesting tools cannot loop forever.
	defaultMaxRounds = 8

	// defaultHistoryLimit bounds how many stored messages are replayed
	// as LLM context.
	defaultHistoryLimit = 100

	// maxTitleLength bounds auto-generated conversation titles.
	maxTitleLength = 80

	// eventBuffer sizes the per-request event channel. The server
	// drains the channel even after a client disconnect, so a full
	// buffer only ever means a momentarily slow reader.
	eventBuffer = 64
)

// Pipeline orchestrates chat requests end to end. Safe for concurrent
// use; concurrent requests for the same conversation are rejected with
// ErrConversationBusy.
type Pipeline struct {
	provider     LLMProvider
	store        conversations.Store
	assembler    *Assembler
	executor     *Executor
	registry     *Registry
	skills       skills.Registry
	logger       *slog.Logger
	metrics      *observability.Metrics
	locks        *conversationLocks
	model        string
	baseSystem   string
	maxTokens    int
	maxRounds    int
	historyLimit int
}

// PipelineOptions configures a Pipeline. Provider, Store, Assembler,
// Executor, and Registry are required; Skills may be nil to disable
// usage recording.
type PipelineOptions struct {
	Provider  LLMProvider
	Store     conversations.Store
	Assembler *Assembler
	Executor  *Executor
	Registry  *Registry
	Skills    skills.Registry
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	Model        string
	BaseSystem   string
	MaxTokens    int
	MaxRounds    int
	HistoryLimit int
}

// NewPipeline creates a pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if opts.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if opts.Assembler == nil {
		return nil, errors.New("assembler is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = defaultMaxRounds
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaultHistoryLimit
	}

	return &Pipeline{
		provider:     opts.Provider,
		store:        opts.Store,
		assembler:    opts.Assembler,
		executor:     opts.Executor,
		registry:     opts.Registry,
		skills:       opts.Skills,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		locks:        newConversationLocks(),
		model:        opts.Model,
		baseSystem:   opts.BaseSystem,
		maxTokens:    opts.MaxTokens,
		maxRounds:    opts.MaxRounds,
		historyLimit: opts.HistoryLimit,
	}, nil
}

// ChatRequest is one user turn submitted to the pipeline.
type ChatRequest struct {
	UserID string

	// ConversationID continues an existing thread; empty starts a new
	// conversation titled from the message.
	ConversationID string

	Message string

	// ImageURLs attaches images to the user turn as multimodal parts.
	ImageURLs []string

	// SkillID pre-selects a skill for new conversations.
	SkillID string
}

// Run executes the pipeline for one request. It returns a channel of
// transport events ending in exactly one done or error event, then
// closes it. The conversation id is claimed for the duration of the
// run; a concurrent request for the same conversation fails with
// ErrConversationBusy.
//
// Cancellation of ctx abandons event emission only: in-flight tool
// executions and LLM calls run to completion and their results are
// persisted.
func (p *Pipeline) Run(ctx context.Context, req ChatRequest) (<-chan stream.Event, string, error) {
	if strings.TrimSpace(req.Message) == "" && len(req.ImageURLs) == 0 {
		return nil, "", loopErr(PhaseInit, 0, errors.New("message is empty"))
	}

	// Upstream work continues even if the caller goes away.
	work := context.WithoutCancel(ctx)

	conversation, err := p.resolveConversation(work, req)
	if err != nil {
		return nil, "", err
	}

	if !p.locks.tryAcquire(conversation.ID) {
		if p.metrics != nil {
			p.metrics.ChatRequests.WithLabelValues("busy").Inc()
		}
		return nil, "", ErrConversationBusy
	}

	events := make(chan stream.Event, eventBuffer)
	go func() {
		defer p.locks.release(conversation.ID)
		defer close(events)
		p.run(work, req, conversation, events)
	}()
	return events, conversation.ID, nil
}

func (p *Pipeline) resolveConversation(ctx context.Context, req ChatRequest) (*models.Conversation, error) {
	if req.ConversationID == "" {
		conversation := &models.Conversation{
			UserID: req.UserID,
			Title:  titleFromMessage(req.Message),
		}
		if err := p.store.Create(ctx, conversation); err != nil {
			return nil, loopErr(PhaseInit, 0, err)
		}
		return conversation, nil
	}

	conversation, err := p.store.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, loopErr(PhaseInit, 0, err)
	}
	if conversation.UserID != req.UserID {
		return nil, loopErr(PhaseInit, 0, conversations.ErrNotFound)
	}
	return conversation, nil
}

func (p *Pipeline) run(ctx context.Context, req ChatRequest, conversation *models.Conversation, events chan<- stream.Event) {
	logger := p.logger.With("conversation_id", conversation.ID, "user_id", req.UserID)
	start := time.Now()

	rounds, toolCalls, usage, err := p.loop(ctx, req, conversation, events)

	outcome := "done"
	if err != nil {
		outcome = "error"
		logger.Error("pipeline failed", "error", err, "rounds", rounds)
		events <- stream.ErrorEvent(err.Error())
	} else {
		events <- stream.Done(conversation.ID)
	}

	if p.metrics != nil {
		p.metrics.ChatRequests.WithLabelValues(outcome).Inc()
		p.metrics.LoopRounds.Observe(float64(rounds))
	}
	logger.Info("pipeline finished",
		"outcome", outcome,
		"rounds", rounds,
		"tool_calls", toolCalls,
		"tokens", usage.InputTokens+usage.OutputTokens,
		"duration_ms", time.Since(start).Milliseconds())
}

// loop drives the state machine: assemble context, call the LLM with
// tools until it stops requesting them, then stream the final answer.
func (p *Pipeline) loop(ctx context.Context, req ChatRequest, conversation *models.Conversation, events chan<- stream.Event) (rounds, toolCalls int, usage Usage, err error) {
	assembled := p.assembler.Assemble(ctx, AssembleRequest{
		UserID:           req.UserID,
		ConversationID:   conversation.ID,
		BaseSystem:       p.baseSystem,
		LatestUserText:   req.Message,
		PreselectSkillID: req.SkillID,
	})

	history, err := p.store.History(ctx, conversation.ID, p.historyLimit)
	if err != nil {
		return 0, 0, usage, loopErr(PhaseInit, 0, err)
	}

	userMsg := newUserMessage(req)
	if err := p.store.AppendMessage(ctx, conversation.ID, userMsg); err != nil {
		return 0, 0, usage, loopErr(PhaseInit, 0, err)
	}

	msgs := make([]CompletionMessage, 0, len(history)+1)
	for _, msg := range history {
		msgs = append(msgs, messageFromModel(msg))
	}
	msgs = append(msgs, messageFromModel(userMsg))

	for {
		completion, completeErr := p.complete(ctx, &CompletionRequest{
			Model:     p.model,
			System:    assembled.System,
			Messages:  msgs,
			Tools:     p.registry.Specs(),
			MaxTokens: p.maxTokens,
		})
		if completeErr != nil {
			err = loopErr(PhaseCallLLM, rounds+1, completeErr)
			p.recordUsage(ctx, assembled, usage, toolCalls, false)
			return rounds, toolCalls, usage, err
		}
		usage.InputTokens += completion.Usage.InputTokens
		usage.OutputTokens += completion.Usage.OutputTokens

		if len(completion.ToolCalls) == 0 {
			// The model is done with tools; the streaming request
			// below produces the answer the client sees.
			break
		}
		if rounds >= p.maxRounds {
			err = loopErr(PhaseExecuteTools, rounds, ErrToolRoundsExceeded)
			p.recordUsage(ctx, assembled, usage, toolCalls, false)
			return rounds, toolCalls, usage, err
		}
		rounds++

		calls := make([]models.ToolCall, len(completion.ToolCalls))
		for i, call := range completion.ToolCalls {
			calls[i] = NormalizeToolCall(call)
		}

		// Persist the assistant's tool-call message before any results
		// so the model sees its own prior call on the next round.
		assistantMsg := &models.Message{
			Role:      models.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: calls,
		}
		if err := p.store.AppendMessage(ctx, conversation.ID, assistantMsg); err != nil {
			p.recordUsage(ctx, assembled, usage, toolCalls, false)
			return rounds, toolCalls, usage, loopErr(PhasePersist, rounds, err)
		}
		msgs = append(msgs, messageFromModel(assistantMsg))

		for _, call := range calls {
			events <- stream.ToolCall(call.Name, call.Input)
			result := p.executor.Execute(ctx, call)
			events <- stream.ToolResult(call.Name, !result.IsError)
			toolCalls++

			toolMsg := &models.Message{
				Role:       models.RoleTool,
				Content:    result.Content,
				ToolCallID: result.ToolCallID,
			}
			if err := p.store.AppendMessage(ctx, conversation.ID, toolMsg); err != nil {
				p.recordUsage(ctx, assembled, usage, toolCalls, false)
				return rounds, toolCalls, usage, loopErr(PhasePersist, rounds, err)
			}
			msgs = append(msgs, messageFromModel(toolMsg))
		}
	}

	final, streamErr := p.streamFinal(ctx, assembled.System, msgs, events)
	if streamErr != nil {
		err = loopErr(PhaseStreamFinal, rounds, streamErr)
		p.recordUsage(ctx, assembled, usage, toolCalls, false)
		return rounds, toolCalls, usage, err
	}

	finalMsg := &models.Message{Role: models.RoleAssistant, Content: final}
	if err := p.store.AppendMessage(ctx, conversation.ID, finalMsg); err != nil {
		p.recordUsage(ctx, assembled, usage, toolCalls, false)
		return rounds, toolCalls, usage, loopErr(PhasePersist, rounds, err)
	}

	p.recordUsage(ctx, assembled, usage, toolCalls, true)
	return rounds, toolCalls, usage, nil
}

// streamFinal issues the one streaming completion, with no tools, and
// relays each text increment as a token event.
func (p *Pipeline) streamFinal(ctx context.Context, system string, msgs []CompletionMessage, events chan<- stream.Event) (string, error) {
	deltas, err := p.provider.Stream(ctx, &CompletionRequest{
		Model:     p.model,
		System:    system,
		Messages:  msgs,
		MaxTokens: p.maxTokens,
	})
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.LLMRequests.WithLabelValues(p.provider.Name(), "stream", status).Inc()
	}
	if err != nil {
		return "", err
	}

	var final strings.Builder
	for delta := range deltas {
		if delta.Err != nil {
			return "", delta.Err
		}
		if delta.Content == "" {
			continue
		}
		final.WriteString(delta.Content)
		events <- stream.Token(delta.Content)
	}
	if final.Len() == 0 {
		return "", errors.New("provider streamed an empty response")
	}
	return final.String(), nil
}

func (p *Pipeline) complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	completion, err := p.provider.Complete(ctx, req)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.LLMRequests.WithLabelValues(p.provider.Name(), "complete", status).Inc()
	}
	return completion, err
}

func (p *Pipeline) recordUsage(ctx context.Context, assembled *AssembledContext, usage Usage, toolCalls int, success bool) {
	if p.skills == nil || assembled.Skill == nil {
		return
	}
	err := p.skills.RecordUsage(ctx, assembled.Skill.SkillID, skills.Usage{
		Success:   success,
		Tokens:    usage.InputTokens + usage.OutputTokens,
		ToolCalls: toolCalls,
	})
	if err != nil {
		p.logger.Warn("skill usage recording failed", "skill_id", assembled.Skill.SkillID, "error", err)
	}
}

func newUserMessage(req ChatRequest) *models.Message {
	msg := &models.Message{Role: models.RoleUser, Content: req.Message}
	if len(req.ImageURLs) == 0 {
		return msg
	}
	parts := make([]models.Part, 0, len(req.ImageURLs)+1)
	if req.Message != "" {
		parts = append(parts, models.Part{Type: models.PartText, Text: req.Message})
	}
	for _, url := range req.ImageURLs {
		parts = append(parts, models.Part{Type: models.PartImage, ImageURL: url})
	}
	msg.Parts = parts
	return msg
}

func titleFromMessage(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if title == "" {
		return "New conversation"
	}
	runes := []rune(title)
	if len(runes) > maxTitleLength {
		title = string(runes[:maxTitleLength-1]) + "…"
	}
	return title
}
