package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/pkg/models"
)

// defaultToolTimeout bounds a single tool execution when no override is
// configured.
const defaultToolTimeout = 30 * time.Second

// maxToolResultBytes caps the payload stored per tool result; oversized
// output is truncated rather than rejected.
const maxToolResultBytes = 32 * 1024

// Executor dispatches tool calls to registered handlers. Errors never
// escape Execute: unknown tools, handler errors, timeouts, and panics
// all become failed ToolResults so a bad tool call can never abort the
// surrounding round.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Timeout bounds each tool execution. Zero means defaultToolTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, opts ExecutorOptions) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultToolTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Execute runs one tool call and always returns a result.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	result := e.execute(ctx, call)

	status := "success"
	if result.IsError {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	e.logger.Debug("tool executed",
		"tool", call.Name,
		"call_id", call.ID,
		"status", status,
		"duration_ms", time.Since(start).Milliseconds())
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    fmt.Sprintf(`{"error": "tool not available: %s"}`, call.Name),
			IsError:    true,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked",
					"tool", call.Name,
					"panic", r,
					"stack", string(debug.Stack()))
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		content, err := tool.Execute(ctx, call.Input)
		done <- outcome{content: content, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = outcome{err: fmt.Errorf("tool timed out after %s", e.timeout)}
	}

	if out.err != nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    fmt.Sprintf(`{"error": %q}`, out.err.Error()),
			IsError:    true,
		}
	}

	content := out.content
	if len(content) > maxToolResultBytes {
		content = content[:maxToolResultBytes] + "\n[truncated]"
	}
	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    content,
	}
}
