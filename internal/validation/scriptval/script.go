package scriptval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/validation"
)

var (
	// ErrScriptNotFound reports a reference to an undeclared script.
	ErrScriptNotFound = errors.New("validation script not found")
	// ErrInvalidScript reports a script definition that cannot run.
	ErrInvalidScript = errors.New("invalid validation script")
)

// PhaseBoth runs a script in both phases.
const PhaseBoth = "both"

// Script is one declared validation script.
type Script struct {
	Name     string
	Language script.Language
	// Phase is before, after or both; empty means after.
	Phase    string
	Required bool
	Source   string
	// TimeoutMs overrides the configured timeout when non-zero.
	TimeoutMs uint64
}

// Phases expands the declared phase.
func (s Script) Phases() ([]validation.Phase, error) {
	if strings.EqualFold(strings.TrimSpace(s.Phase), PhaseBoth) {
		return []validation.Phase{validation.PhaseBefore, validation.PhaseAfter}, nil
	}
	phase, err := validation.ParsePhase(s.Phase)
	if err != nil {
		return nil, err
	}
	return []validation.Phase{phase}, nil
}

// Validate checks the definition against the languages reg knows.
func (s Script) Validate(reg *script.Registry) error {
	var errs []error
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, fmt.Errorf("%w: name is required", ErrInvalidScript))
	}
	if strings.TrimSpace(s.Source) == "" {
		errs = append(errs, fmt.Errorf("%w: %s: source is empty", ErrInvalidScript, s.Name))
	}
	if reg != nil && !reg.Has(s.Language) {
		errs = append(errs, fmt.Errorf("%w: %s: unsupported language %q", ErrInvalidScript, s.Name, s.Language))
	}
	if _, err := s.Phases(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalidScript, s.Name, err))
	}
	return errors.Join(errs...)
}
