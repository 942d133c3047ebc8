// Package lifecycle tracks one script execution through its states:
//
//  1. Created - the execution was scheduled
//  2. ContextBuilt - the script context was assembled
//  3. Dispatched - the engine is running the script
//  4. one terminal outcome: Completed, TimedOut, MemoryExceeded,
//     SecurityViolation or RuntimeFailed
//  5. ResultExtracted - the result was handed back to the validator
//
// Context or engine construction failures move straight from Created or
// ContextBuilt to RuntimeFailed. Every transition is written to a Journal.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/gofrs/uuid/v5"
	"github.com/robbyt/go-fsm"
)

const (
	StateCreated           = "Created"
	StateContextBuilt      = "ContextBuilt"
	StateDispatched        = "Dispatched"
	StateCompleted         = "Completed"
	StateTimedOut          = "TimedOut"
	StateMemoryExceeded    = "MemoryExceeded"
	StateSecurityViolation = "SecurityViolation"
	StateRuntimeFailed     = "RuntimeFailed"
	StateResultExtracted   = "ResultExtracted"
)

// Transitions lists the allowed moves between states.
var Transitions = map[string][]string{
	StateCreated:      {StateContextBuilt, StateRuntimeFailed},
	StateContextBuilt: {StateDispatched, StateRuntimeFailed},
	StateDispatched: {
		StateCompleted,
		StateTimedOut,
		StateMemoryExceeded,
		StateSecurityViolation,
		StateRuntimeFailed,
	},
	StateCompleted:         {StateResultExtracted},
	StateTimedOut:          {StateResultExtracted},
	StateMemoryExceeded:    {StateResultExtracted},
	StateSecurityViolation: {StateResultExtracted},
	StateRuntimeFailed:     {StateResultExtracted},
	StateResultExtracted:   {},
}

// ErrTransition wraps every rejected state change.
var ErrTransition = errors.New("invalid execution state transition")

// TerminalState maps a result to the terminal state it ends in.
func TerminalState(res *script.Result) string {
	if res == nil {
		return StateRuntimeFailed
	}
	switch res.ErrorKind() {
	case "":
		return StateCompleted
	case script.KindTimeout:
		return StateTimedOut
	case script.KindMemoryLimit:
		return StateMemoryExceeded
	case script.KindSecurity:
		return StateSecurityViolation
	default:
		return StateRuntimeFailed
	}
}

// Execution is the state machine of one script run.
type Execution struct {
	ID     uuid.UUID
	Script string
	Phase  string

	machine *fsm.Machine
	journal *Journal
	logger  *slog.Logger
}

// Start creates an execution in the Created state. handler receives the
// state machine's own diagnostics; nil uses the default handler.
func Start(journal *Journal, handler slog.Handler, id uuid.UUID, scriptName, phase string) (*Execution, error) {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	if id.IsNil() {
		id = uuid.Must(uuid.NewV6())
	}
	machine, err := fsm.New(handler, StateCreated, Transitions)
	if err != nil {
		return nil, fmt.Errorf("%s failed to create state machine: %w", id, err)
	}
	exec := &Execution{
		ID:      id,
		Script:  scriptName,
		Phase:   phase,
		machine: machine,
		journal: journal,
		logger: slog.New(handler).WithGroup("lifecycle").With(
			"id", id, "script", scriptName, "phase", phase),
	}
	exec.record(StateCreated)
	return exec, nil
}

// State returns the current state.
func (e *Execution) State() string {
	return e.machine.GetState()
}

// ContextBuilt marks the script context as assembled.
func (e *Execution) ContextBuilt() error {
	return e.transition(StateContextBuilt)
}

// Dispatched marks the script as handed to its engine.
func (e *Execution) Dispatched() error {
	return e.transition(StateDispatched)
}

// Fail moves a not-yet-dispatched execution to RuntimeFailed.
func (e *Execution) Fail(cause error) error {
	e.logger.Warn("Execution failed before dispatch", "error", cause)
	return e.transition(StateRuntimeFailed)
}

// Finish moves a dispatched execution to the terminal state matching res.
func (e *Execution) Finish(res *script.Result) error {
	return e.transition(TerminalState(res))
}

// Extracted marks the result as consumed.
func (e *Execution) Extracted() error {
	return e.transition(StateResultExtracted)
}

func (e *Execution) transition(state string) error {
	from := e.machine.GetState()
	if err := e.machine.Transition(state); err != nil {
		e.logger.Error("Rejected state change", "from", from, "to", state, "error", err)
		return fmt.Errorf("%w: %s -> %s: %w", ErrTransition, from, state, err)
	}
	e.record(state)
	return nil
}

func (e *Execution) record(state string) {
	if e.journal == nil {
		return
	}
	e.journal.record(e, state)
}
