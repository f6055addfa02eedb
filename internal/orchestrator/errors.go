package orchestrator

import (
	"errors"
	"fmt"
)

// Phase identifies where in the pipeline an error occurred.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseCallLLM      Phase = "call_llm"
	PhaseExecuteTools Phase = "execute_tools"
	PhaseStreamFinal  Phase = "stream_final"
	PhasePersist      Phase = "persist"
)

// ErrToolRoundsExceeded is returned when the model keeps requesting
// tools past the configured round cap.
var ErrToolRoundsExceeded = errors.New("tool call rounds exceeded")

// ErrConversationBusy is returned when a request targets a conversation
// that already has a pipeline run in flight.
var ErrConversationBusy = errors.New("conversation busy")

// LoopError wraps a pipeline failure with the phase and round it
// occurred in.
type LoopError struct {
	Phase Phase
	Round int
	Err   error
}

func (e *LoopError) Error() string {
	if e.Round > 0 {
		return fmt.Sprintf("%s (round %d): %v", e.Phase, e.Round, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *LoopError) Unwrap() error { return e.Err }

func loopErr(phase Phase, round int, err error) *LoopError {
	return &LoopError{Phase: phase, Round: round, Err: err}
}
