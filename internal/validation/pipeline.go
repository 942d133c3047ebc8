package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/tidwall/gjson"
)

const expectSource = "expect"

// Config tunes how findings turn into a verdict.
type Config struct {
	// StrictMode fails a phase on warnings too.
	StrictMode bool
	// MaxErrors caps the errors kept per phase; zero keeps all.
	MaxErrors int
}

// Expectations are the declarative checks applied to a response.
type Expectations struct {
	// Error is the expected value of the response's isError flag.
	Error  bool           `json:"error"            toml:"error"`
	Schema map[string]any `json:"schema,omitempty" toml:"schema,omitempty"`
	Fields []FieldRule    `json:"fields,omitempty" toml:"fields,omitempty"`
}

// Pipeline runs validators registered for each phase, in registration order.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	phases map[Phase][]Validator
}

// NewPipeline returns an empty pipeline.
func NewPipeline(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		logger: slog.Default().WithGroup("validation.Pipeline"),
		phases: make(map[Phase][]Validator),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds v to phase.
func (p *Pipeline) Register(phase Phase, v Validator) error {
	if v == nil {
		return fmt.Errorf("%w: validator cannot be nil", ErrValidator)
	}
	if phase != PhaseBefore && phase != PhaseAfter {
		return fmt.Errorf("%w: %q", ErrPhase, phase)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases[phase] = append(p.phases[phase], v)
	p.logger.Debug("Validator registered", "phase", phase, "validator", v.Name())
	return nil
}

// Validators lists the validators registered for phase.
func (p *Pipeline) Validators(phase Phase) []Validator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Validator(nil), p.phases[phase]...)
}

// Before runs the before-phase validators against the request.
func (p *Pipeline) Before(ctx context.Context, vctx *Context) (*Result, error) {
	start := time.Now()
	report := &Report{}
	if err := p.runValidators(ctx, PhaseBefore, requestOf(vctx), vctx, report); err != nil {
		return nil, err
	}
	return p.finish(PhaseBefore, report, start), nil
}

// After checks response against exp, then runs the after-phase validators.
func (p *Pipeline) After(ctx context.Context, response any, exp *Expectations, vctx *Context) (*Result, error) {
	start := time.Now()
	data, err := script.NormalizeJSON(response)
	if err != nil {
		return nil, fmt.Errorf("%w: response is not JSON: %w", ErrValidator, err)
	}

	report := &Report{}
	if exp != nil {
		doc, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("%w: encode response: %w", ErrValidator, err)
		}
		report.Errors = append(report.Errors, checkErrorFlag(doc, exp.Error)...)
		report.Errors = append(report.Errors, CheckFields(doc, exp.Fields)...)
		if exp.Schema != nil {
			report.Errors = append(report.Errors, CheckSchema(exp.Schema, data)...)
		}
	}

	if err := p.runValidators(ctx, PhaseAfter, data, vctx, report); err != nil {
		return nil, err
	}
	return p.finish(PhaseAfter, report, start), nil
}

func (p *Pipeline) runValidators(ctx context.Context, phase Phase, data any, vctx *Context, report *Report) error {
	for _, v := range p.Validators(phase) {
		if err := ctx.Err(); err != nil {
			return err
		}
		got, err := v.Validate(ctx, data, vctx)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrValidator, v.Name(), err)
		}
		report.Merge(got)
	}
	return nil
}

func (p *Pipeline) finish(phase Phase, report *Report, start time.Time) *Result {
	res := &Result{
		Phase:    phase,
		Errors:   report.Errors,
		Warnings: report.Warnings,
		Scripts:  report.Scripts,
		Duration: time.Since(start),
	}
	if p.cfg.MaxErrors > 0 && len(res.Errors) > p.cfg.MaxErrors {
		dropped := len(res.Errors) - p.cfg.MaxErrors
		res.Errors = res.Errors[:p.cfg.MaxErrors]
		res.Warnings = append(res.Warnings, Warning{
			Source:  "pipeline",
			Message: fmt.Sprintf("%d further errors omitted", dropped),
		})
	}
	res.Valid = len(res.Errors) == 0 && (!p.cfg.StrictMode || len(res.Warnings) == 0)
	p.logger.Debug("Phase validated",
		"phase", phase, "valid", res.Valid, "errors", len(res.Errors), "warnings", len(res.Warnings))
	return res
}

func checkErrorFlag(doc []byte, want bool) []Error {
	got := gjson.GetBytes(doc, "isError").Bool()
	if got == want {
		return nil
	}
	e := Error{
		Source:   expectSource,
		Field:    "isError",
		Expected: fmt.Sprint(want),
		Actual:   fmt.Sprint(got),
	}
	if got {
		e.Message = "tool reported an error: " + gjson.GetBytes(doc, "content.0.text").String()
	}
	return []Error{e}
}

func requestOf(vctx *Context) any {
	if vctx == nil {
		return nil
	}
	return vctx.Request
}
