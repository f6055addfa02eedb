// Package shell implements the run_shell tool. Command execution sits
// behind the Runner capability so a disabled or sandboxed implementation
// can be substituted without touching the pipeline.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// defaultTimeout bounds a command when the model does not ask for one.
const defaultTimeout = 30 * time.Second

// maxTimeout caps model-requested timeouts.
const maxTimeout = 5 * time.Minute

// RunResult is the outcome of one command.
type RunResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// Runner executes shell commands. Implementations must honor the
// timeout and must not retry; shell commands are not idempotent.
type Runner interface {
	Run(ctx context.Context, command, cwd string, timeout time.Duration) (*RunResult, error)
}

// HostRunner runs commands directly on the host via /bin/sh.
type HostRunner struct {
	// WorkDir is the default working directory when a call names none.
	WorkDir string
}

func (r *HostRunner) Run(ctx context.Context, command, cwd string, timeout time.Duration) (*RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	if cwd == "" {
		cwd = r.WorkDir
	}
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &RunResult{
		Command: command,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("run command: %w", err)
	}
	return result, nil
}

// DisabledRunner rejects every command. It is the default when shell
// execution is not explicitly enabled in configuration.
type DisabledRunner struct{}

func (DisabledRunner) Run(context.Context, string, string, time.Duration) (*RunResult, error) {
	return nil, errors.New("shell execution is disabled")
}

// Tool exposes a Runner as the run_shell tool.
type Tool struct {
	runner Runner
}

// New creates the shell tool. A nil runner behaves as disabled.
func New(runner Runner) *Tool {
	if runner == nil {
		runner = DisabledRunner{}
	}
	return &Tool{runner: runner}
}

func (t *Tool) Name() string { return "run_shell" }

func (t *Tool) Description() string {
	return "Run a shell command and return its output and exit code."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "Shell command to execute"
			},
			"cwd": {
				"type": "string",
				"description": "Working directory for the command"
			},
			"timeout_seconds": {
				"type": "integer",
				"description": "Timeout in seconds (default 30, max 300)"
			}
		},
		"required": ["command"]
	}`)
}

func (t *Tool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid shell parameters: %w", err)
	}
	if strings.TrimSpace(params.Command) == "" {
		return "", errors.New("command is required")
	}

	timeout := time.Duration(params.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	result, err := t.runner.Run(ctx, params.Command, params.Cwd, timeout)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(payload), nil
}
