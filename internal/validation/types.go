// Package validation checks MCP tool responses. Declarative rules (field
// paths, JSON Schema, expected error flag) run alongside pluggable
// validators registered per phase.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
)

// Phase selects when a validator runs relative to the tool call.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// ParsePhase accepts "before" and "after"; empty means after.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "after":
		return PhaseAfter, nil
	case "before":
		return PhaseBefore, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrPhase, s)
	}
}

func (p Phase) String() string {
	return string(p)
}

// Context describes the call being validated.
type Context struct {
	Method             string
	ToolName           string
	RequestID          any
	Request            any
	ServerName         string
	ServerVersion      string
	ServerCapabilities []string
	TestName           string
	TestMetadata       map[string]string
}

// Validator is a pluggable check. data is the request during the before
// phase and the response during the after phase. A returned error means
// the validator could not run; findings go in the Report.
type Validator interface {
	Name() string
	Validate(ctx context.Context, data any, vctx *Context) (*Report, error)
}

// Error is one validation failure.
type Error struct {
	Source   string `json:"source"`
	Field    string `json:"field,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (e Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Expected != "" || e.Actual != "" {
		fmt.Fprintf(&b, ": expected %s, got %s", e.Expected, e.Actual)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e Error) Unwrap() error {
	return ErrValidation
}

// Warning is a finding that does not fail the check outside strict mode.
type Warning struct {
	Source     string `json:"source"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ScriptResult summarizes one script execution.
type ScriptResult struct {
	Name      string            `json:"name"`
	Phase     Phase             `json:"phase"`
	Language  script.Language   `json:"language"`
	Required  bool              `json:"required"`
	Success   bool              `json:"success"`
	Duration  time.Duration     `json:"duration"`
	Output    any               `json:"output,omitempty"`
	Errors    []Error           `json:"errors,omitempty"`
	Warnings  []Warning         `json:"warnings,omitempty"`
	Logs      []script.LogEntry `json:"logs,omitempty"`
	ErrorKind script.ErrorKind  `json:"error_kind,omitempty"`
	Truncated bool              `json:"truncated,omitempty"`
}

// Report is what a validator returns.
type Report struct {
	Errors   []Error
	Warnings []Warning
	Scripts  []ScriptResult
}

// Merge appends other into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
	r.Scripts = append(r.Scripts, other.Scripts...)
}

// Result is the outcome of one pipeline phase.
type Result struct {
	Phase    Phase          `json:"phase"`
	Valid    bool           `json:"valid"`
	Errors   []Error        `json:"errors,omitempty"`
	Warnings []Warning      `json:"warnings,omitempty"`
	Scripts  []ScriptResult `json:"scripts,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Err joins the result's errors, or returns nil when there are none.
func (r *Result) Err() error {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}
