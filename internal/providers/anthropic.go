package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/relay/internal/orchestrator"
	"github.com/haasonsaas/relay/pkg/models"
)

// AnthropicProvider implements orchestrator.LLMProvider on the Anthropic
// Messages API. Unlike OpenAI, the system prompt is a separate request
// parameter and tool results are content blocks inside user messages.
//
// Safe for concurrent use.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

// AnthropicOptions configures an AnthropicProvider.
type AnthropicOptions struct {
	APIKey string

	// BaseURL overrides the API endpoint. Empty uses the public endpoint.
	BaseURL string

	// Model is the default model when a request does not name one.
	Model string
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(opts AnthropicOptions) (*AnthropicProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicProvider{client: &client, model: opts.Model}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete performs one non-streaming message request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *orchestrator.CompletionRequest) (*orchestrator.Completion, error) {
	params := p.buildParams(req)

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	completion := &orchestrator.Completion{
		FinishReason: string(msg.StopReason),
		Usage: orchestrator.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			completion.Content += variant.Text
		case anthropic.ToolUseBlock:
			completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.Input),
			})
		}
	}
	return completion, nil
}

// Stream performs one streaming message request and relays text deltas.
func (p *AnthropicProvider) Stream(ctx context.Context, req *orchestrator.CompletionRequest) (<-chan orchestrator.StreamDelta, error) {
	params := p.buildParams(req)
	upstream := p.client.Messages.NewStreaming(ctx, params)

	deltas := make(chan orchestrator.StreamDelta)
	go func() {
		defer close(deltas)
		for upstream.Next() {
			event := upstream.Current()
			if variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if textDelta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && textDelta.Text != "" {
					deltas <- orchestrator.StreamDelta{Content: textDelta.Text}
				}
			}
		}
		if err := upstream.Err(); err != nil {
			deltas <- orchestrator.StreamDelta{Err: fmt.Errorf("anthropic stream: %w", err)}
		}
	}()
	return deltas, nil
}

func (p *AnthropicProvider) buildParams(req *orchestrator.CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}
	return params
}

func convertAnthropicMessages(msgs []orchestrator.CompletionMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    call.ID,
						Name:  call.Name,
						Input: json.RawMessage(call.Input),
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case models.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: msg.ToolCallID,
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: msg.Content}},
					},
				},
			}))

		default:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts)+1)
			if len(msg.Parts) > 0 {
				for _, part := range msg.Parts {
					switch part.Type {
					case models.PartText:
						blocks = append(blocks, anthropic.NewTextBlock(part.Text))
					case models.PartImage:
						blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: part.ImageURL}))
					}
				}
			} else if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func convertAnthropicTools(specs []orchestrator.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(specs))
	for i, spec := range specs {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if err := json.Unmarshal(spec.Schema, &schema); err != nil {
			schema.Properties = map[string]any{}
		}

		inputSchema := anthropic.ToolInputSchemaParam{Properties: schema.Properties}
		if len(schema.Required) > 0 {
			inputSchema.Required = schema.Required
		}

		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			out[i].OfTool.Description = anthropic.String(spec.Description)
		}
	}
	return out
}
