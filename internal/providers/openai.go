// Package providers implements the LLM backends behind the pipeline's
// provider interface.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements orchestrator.LLMProvider on the OpenAI chat
// completions API. Tool-calling rounds use non-streaming completions;
// the final answer uses the streaming endpoint.
//
// Safe for concurrent use.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and compatible
	// gateways. Empty uses the public endpoint.
	BaseURL string

	// Model is the default model when a request does not name one.
	Model string

	// MaxRetries bounds retry attempts for transient failures on
	// non-streaming calls. Zero means 3.
	MaxRetries int
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}

	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(config),
		model:      opts.Model,
		maxRetries: opts.MaxRetries,
		retryDelay: time.Second,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete performs one non-streaming completion with tool calling
// enabled when the request advertises tools.
func (p *OpenAIProvider) Complete(ctx context.Context, req *orchestrator.CompletionRequest) (*orchestrator.Completion, error) {
	chatReq := p.buildRequest(req)

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		resp, lastErr = p.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("openai completion: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai completion after %d attempts: %w", p.maxRetries, lastErr)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	choice := resp.Choices[0]

	completion := &orchestrator.Completion{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: orchestrator.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: json.RawMessage(call.Function.Arguments),
		})
	}
	return completion, nil
}

// Stream performs one streaming completion and relays text deltas.
func (p *OpenAIProvider) Stream(ctx context.Context, req *orchestrator.CompletionRequest) (<-chan orchestrator.StreamDelta, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	upstream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}

	deltas := make(chan orchestrator.StreamDelta)
	go func() {
		defer close(deltas)
		defer upstream.Close()
		for {
			resp, err := upstream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				deltas <- orchestrator.StreamDelta{Err: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if content := resp.Choices[0].Delta.Content; content != "" {
				deltas <- orchestrator.StreamDelta{Content: content}
			}
		}
	}()
	return deltas, nil
}

func (p *OpenAIProvider) buildRequest(req *orchestrator.CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages, req.System),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	return chatReq
}

// convertMessages translates pipeline messages to the OpenAI wire
// format. The system prompt becomes the leading system message; image
// parts use the multi-content form.
func convertMessages(msgs []orchestrator.CompletionMessage, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range msgs {
		converted := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		switch msg.Role {
		case models.RoleUser:
			if parts := convertParts(msg.Parts); parts != nil {
				converted.Content = ""
				converted.MultiContent = parts
			}

		case models.RoleAssistant:
			for _, call := range msg.ToolCalls {
				converted.ToolCalls = append(converted.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}

		case models.RoleTool:
			converted.ToolCallID = msg.ToolCallID
		}

		out = append(out, converted)
	}
	return out
}

func convertParts(parts []models.Part) []openai.ChatMessagePart {
	if len(parts) == 0 {
		return nil
	}
	out := make([]openai.ChatMessagePart, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case models.PartText:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case models.PartImage:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    part.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return out
}

func convertTools(specs []orchestrator.ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(specs))
	for i, spec := range specs {
		var schema map[string]any
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			// A bad schema disables one tool's parameters, not the round.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
