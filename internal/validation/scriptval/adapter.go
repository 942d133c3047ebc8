// Package scriptval plugs user validation scripts into the validation
// pipeline. Each phase gets a validator that runs the phase's scripts in
// declaration order, one fresh engine and context per execution.
package scriptval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/lifecycle"
	"github.com/atlanticdynamic/mcpverify/internal/validation"
	"github.com/gofrs/uuid/v5"
)

// Config controls how script outcomes become validation findings.
type Config struct {
	// Script is the sandbox every engine is built with.
	Script script.Config
	// FailOnScriptError turns every script failure into an error, as if
	// every script were required.
	FailOnScriptError bool
	// CaptureLogs copies script logs into each ScriptResult.
	CaptureLogs bool
}

// DefaultConfig returns the default sandbox with log capture on.
func DefaultConfig() Config {
	return Config{Script: script.DefaultConfig(), CaptureLogs: true}
}

// Adapter owns a set of scripts and the registry that runs them.
type Adapter struct {
	cfg      Config
	registry *script.Registry
	scripts  []Script
	byName   map[string]Script
	phases   map[validation.Phase][]Script
	journal  *lifecycle.Journal
	handler  slog.Handler
	logger   *slog.Logger
}

// New validates the scripts and partitions them by phase, keeping
// declaration order. Unknown languages and duplicate names are rejected.
func New(scripts []Script, registry *script.Registry, cfg Config, opts ...Option) (*Adapter, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is nil", ErrInvalidScript)
	}
	if err := cfg.Script.Validate(); err != nil {
		return nil, err
	}

	a := &Adapter{
		cfg:      cfg,
		registry: registry,
		byName:   make(map[string]Script, len(scripts)),
		phases:   make(map[validation.Phase][]Script),
		logger:   slog.Default().WithGroup("scriptval.Adapter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.journal == nil {
		a.journal = lifecycle.NewJournal(nil)
	}

	var errs []error
	for _, s := range scripts {
		if err := s.Validate(registry); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := a.byName[s.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate script name %q", ErrInvalidScript, s.Name))
			continue
		}
		a.byName[s.Name] = s
		a.scripts = append(a.scripts, s)
		phases, _ := s.Phases()
		for _, phase := range phases {
			a.phases[phase] = append(a.phases[phase], s)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return a, nil
}

// Scripts returns the scripts in declaration order.
func (a *Adapter) Scripts() []Script {
	return append([]Script(nil), a.scripts...)
}

// Lookup finds a script by name.
func (a *Adapter) Lookup(name string) (Script, bool) {
	s, ok := a.byName[name]
	return s, ok
}

// Journal returns the lifecycle journal shared by every execution.
func (a *Adapter) Journal() *lifecycle.Journal {
	return a.journal
}

// Select returns an adapter restricted to names, in the given order. It
// shares the registry and journal. An unknown name is ErrScriptNotFound.
func (a *Adapter) Select(names []string) (*Adapter, error) {
	selected := make([]Script, 0, len(names))
	var errs []error
	for _, name := range names {
		s, ok := a.byName[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrScriptNotFound, name))
			continue
		}
		selected = append(selected, s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return New(selected, a.registry, a.cfg, WithJournal(a.journal), WithLogHandler(a.handler))
}

// Check validates the syntax of every script without running any.
func (a *Adapter) Check() error {
	var errs []error
	for _, s := range a.scripts {
		engine, err := a.registry.New(s.Language, a.scriptConfig(s))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		if err := engine.ValidateSyntax(s.Source); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Register adds the before and after validators to p.
func (a *Adapter) Register(p *validation.Pipeline) error {
	for _, phase := range []validation.Phase{validation.PhaseBefore, validation.PhaseAfter} {
		if err := p.Register(phase, a.Phase(phase)); err != nil {
			return err
		}
	}
	return nil
}

// Phase returns the validator for phase.
func (a *Adapter) Phase(phase validation.Phase) validation.Validator {
	return &phaseValidator{adapter: a, phase: phase}
}

type phaseValidator struct {
	adapter *Adapter
	phase   validation.Phase
}

func (v *phaseValidator) Name() string {
	return "script_validator_" + v.phase.String()
}

func (v *phaseValidator) Validate(ctx context.Context, data any, vctx *validation.Context) (*validation.Report, error) {
	if vctx == nil {
		vctx = &validation.Context{}
	}
	report := &validation.Report{}
	for _, s := range v.adapter.phases[v.phase] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sr := v.adapter.run(ctx, s, v.phase, data, vctx)
		report.Errors = append(report.Errors, sr.Errors...)
		report.Warnings = append(report.Warnings, sr.Warnings...)
		report.Scripts = append(report.Scripts, sr)
	}
	return report, nil
}

func (a *Adapter) scriptConfig(s Script) script.Config {
	cfg := a.cfg.Script.Clone()
	if s.TimeoutMs > 0 {
		cfg = cfg.WithTimeout(s.TimeoutMs)
	}
	return cfg
}

func (a *Adapter) buildContext(s Script, phase validation.Phase, data any, vctx *validation.Context, cfg script.Config, id uuid.UUID) (*script.Context, error) {
	extra := make(map[string]string, len(vctx.TestMetadata)+3)
	maps.Copy(extra, vctx.TestMetadata)
	extra["script"] = s.Name
	extra["phase"] = phase.String()
	if vctx.Method != "" {
		extra["method"] = vctx.Method
	}

	testName := vctx.TestName
	if testName == "" {
		testName = s.Name
	}
	meta := script.Metadata{
		TestName:    testName,
		ExecutionID: id,
		ToolName:    vctx.ToolName,
		RequestID:   vctx.RequestID,
		ServerInfo: &script.ServerInfo{
			Name:         vctx.ServerName,
			Version:      vctx.ServerVersion,
			Capabilities: vctx.ServerCapabilities,
		},
		Extra: extra,
	}

	request := vctx.Request
	var response any
	if phase == validation.PhaseAfter {
		response = data
	} else if request == nil {
		request = data
	}
	return script.NewContext(request, response, meta, cfg)
}

// run executes one script and assesses its outcome. Failures never abort
// the phase; they become findings on the ScriptResult.
func (a *Adapter) run(ctx context.Context, s Script, phase validation.Phase, data any, vctx *validation.Context) validation.ScriptResult {
	start := time.Now()
	id := uuid.Must(uuid.NewV4())
	logger := a.logger.With("script", s.Name, "phase", phase, "execution_id", id)

	exec, err := lifecycle.Start(a.journal, a.handler, id, s.Name, phase.String())
	if err != nil {
		logger.Error("Failed to start execution lifecycle", "error", err)
		return a.assess(s, phase, script.Failed(script.NewExecutionError(err.Error()), nil, time.Since(start)))
	}
	step := func(err error) {
		if err != nil {
			logger.Error("Lifecycle transition rejected", "error", err)
		}
	}

	cfg := a.scriptConfig(s)
	sctx, err := a.buildContext(s, phase, data, vctx, cfg, id)
	if err != nil {
		step(exec.Fail(err))
		step(exec.Extracted())
		return a.assess(s, phase, script.Failed(script.AsError(err), nil, time.Since(start)))
	}
	step(exec.ContextBuilt())

	engine, err := a.registry.New(s.Language, cfg)
	if err != nil {
		step(exec.Fail(err))
		step(exec.Extracted())
		return a.assess(s, phase, script.Failed(script.AsError(err), nil, time.Since(start)))
	}
	step(exec.Dispatched())

	logger.Debug("Executing validation script", "language", s.Language)
	res := engine.Execute(ctx, s.Source, sctx)
	step(exec.Finish(res))
	step(exec.Extracted())

	sr := a.assess(s, phase, res)
	logger.Debug("Validation script finished", "success", sr.Success, "duration", sr.Duration)
	return sr
}

// assess applies the required-vs-optional policy to a result.
func (a *Adapter) assess(s Script, phase validation.Phase, res *script.Result) validation.ScriptResult {
	source := "script:" + s.Name
	sr := validation.ScriptResult{
		Name:      s.Name,
		Phase:     phase,
		Language:  s.Language,
		Required:  s.Required,
		Duration:  time.Duration(res.DurationMs) * time.Millisecond,
		Output:    res.Output,
		ErrorKind: res.ErrorKind(),
		Truncated: res.Truncated,
	}
	if a.cfg.CaptureLogs {
		sr.Logs = res.Logs
	}

	var findings []validation.Error
	if !res.Success {
		msg := "script execution failed"
		if res.Error != nil {
			msg = res.Error.Error()
		}
		findings = append(findings, validation.Error{
			Source:   source,
			Expected: "script execution success",
			Actual:   string(res.ErrorKind()),
			Message:  msg,
		})
	} else {
		out := parseOutput(res.Output)
		for _, w := range out.Warnings {
			sr.Warnings = append(sr.Warnings, w.toWarning(source))
		}
		for _, e := range out.ValidationErrors {
			findings = append(findings, e.toError(source))
		}
		if out.failed() && len(findings) == 0 {
			msg := out.Message
			if msg == "" {
				msg = "script reported failure"
			}
			findings = append(findings, validation.Error{Source: source, Message: msg})
		}
	}

	sr.Success = len(findings) == 0
	if sr.Success {
		return sr
	}
	if s.Required || a.cfg.FailOnScriptError {
		sr.Errors = findings
		return sr
	}
	for _, f := range findings {
		sr.Warnings = append(sr.Warnings, validation.Warning{
			Source:  f.Source,
			Field:   f.Field,
			Message: "optional script failed: " + f.Error(),
		})
	}
	return sr
}
