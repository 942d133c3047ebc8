// Package starlarkeng runs validation scripts written in Starlark inside the
// host process. Cancellation is cooperative: a watcher cancels the
// interpreter thread, which stops at its next step.
package starlarkeng

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/governance"
	"github.com/atlanticdynamic/mcpverify/internal/script/hostcap"
	"github.com/atlanticdynamic/mcpverify/internal/script/logcapture"
	"go.starlark.net/starlark"
)

var (
	_ script.Engine      = (*Engine)(nil)
	_ script.Precompiler = (*Engine)(nil)
)

// Engine executes Starlark scripts. Use one Engine per concurrent execution.
type Engine struct {
	cfg            script.Config
	logger         *slog.Logger
	tracker        *governance.Tracker
	maxSteps       uint64
	sampleInterval time.Duration
}

// New validates cfg and returns an engine whose sandbox follows it.
func New(cfg script.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:            cfg.Clone(),
		logger:         slog.Default().WithGroup("starlarkeng.Engine"),
		sampleInterval: governance.DefaultSampleInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracker = governance.NewTracker(e.logger)
	return e, nil
}

// Language returns script.LanguageStarlark.
func (e *Engine) Language() script.Language {
	return script.LanguageStarlark
}

// ValidateSyntax parses and resolves source without executing it.
func (e *Engine) ValidateSyntax(source string) error {
	if _, serr := compile(source); serr != nil {
		return serr
	}
	return nil
}

// Precompile compiles source to Starlark bytecode.
func (e *Engine) Precompile(source string) (*script.CompiledScript, error) {
	prog, serr := compile(source)
	if serr != nil {
		return nil, serr
	}
	data, err := encodeProgram(prog)
	if err != nil {
		return nil, script.NewExecutionError(fmt.Sprintf("encode compiled program: %v", err))
	}
	return script.NewCompiledScript(script.LanguageStarlark, source, data), nil
}

// Execute compiles and runs source.
func (e *Engine) Execute(ctx context.Context, source string, sctx *script.Context) (res *script.Result) {
	start := time.Now()
	defer e.recoverPanic(&res, start)

	prog, serr := compile(source)
	if serr != nil {
		return script.Failed(serr, nil, time.Since(start))
	}
	return e.run(ctx, prog, sctx, start)
}

// ExecutePrecompiled runs a script produced by Precompile.
func (e *Engine) ExecutePrecompiled(ctx context.Context, compiled *script.CompiledScript, sctx *script.Context) (res *script.Result) {
	start := time.Now()
	defer e.recoverPanic(&res, start)

	if serr := script.CheckCompiled(script.LanguageStarlark, compiled); serr != nil {
		return script.Failed(serr, nil, time.Since(start))
	}
	data, ok := compiled.Artifact.([]byte)
	if !ok {
		return script.Failed(script.NewExecutionError("compiled artifact is not Starlark bytecode"), nil, time.Since(start))
	}
	prog, err := decodeProgram(data)
	if err != nil {
		return script.Failed(script.NewExecutionError(fmt.Sprintf("decode compiled program: %v", err)), nil, time.Since(start))
	}
	return e.run(ctx, prog, sctx, start)
}

type outcome struct {
	value any
	err   error
	// convertErr is set when the script ran but its result is not JSON.
	convertErr error
}

// memoryBreach records the first memory limit breach seen by the watcher.
type memoryBreach struct {
	mu     sync.Mutex
	usedMB float64
	hit    bool
}

func (m *memoryBreach) set(used float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hit {
		m.hit, m.usedMB = true, used
	}
}

func (m *memoryBreach) get() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usedMB, m.hit
}

func (e *Engine) run(ctx context.Context, prog *program, sctx *script.Context, start time.Time) *script.Result {
	if sctx == nil {
		return script.Failed(script.NewExecutionError("script context is nil"), nil, time.Since(start))
	}
	limits := e.cfg.Limits(sctx)
	logger := e.logger.With("test", sctx.Metadata.TestName, "execution_id", sctx.Metadata.ExecutionID)

	buf := logcapture.New(logcapture.WithMirror(logger))
	guard := hostcap.NewGuard(hostcap.PolicyFor(e.cfg))
	env := &environment{ctx: ctx, buf: buf, guard: guard}

	predeclared, err := env.build(sctx)
	if err != nil {
		return script.Failed(script.NewSerializationError(err.Error()), nil, time.Since(start))
	}
	if err := env.verify(predeclared); err != nil {
		return script.Failed(script.NewExecutionError(err.Error()), nil, time.Since(start))
	}

	thread := &starlark.Thread{
		Name:  "validation:" + sctx.Metadata.TestName,
		Print: func(_ *starlark.Thread, msg string) { buf.Print(msg) },
	}
	if e.maxSteps > 0 {
		thread.SetMaxExecutionSteps(e.maxSteps)
	}

	breach := &memoryBreach{}
	before := e.tracker.Snapshot()
	watch := governance.StartWatch(ctx, limits.MemoryLimitBytes(), e.sampleInterval, func(used float64) {
		breach.set(used)
		thread.Cancel("memory limit exceeded")
	})

	out, raceErr := governance.Race(ctx, limits.Timeout(), func(runCtx context.Context) (o outcome) {
		stop := context.AfterFunc(runCtx, func() { thread.Cancel("timeout") })
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: fmt.Errorf("interpreter panic: %v", r)}
			}
		}()

		globals, err := prog.prog.Init(thread, predeclared)
		if err != nil {
			return outcome{err: err}
		}
		name := resultVar
		if prog.wrapped {
			name = returnedVar
		}
		value, ok := globals[name]
		if !ok {
			return outcome{}
		}
		converted, err := fromStarlark(value)
		return outcome{value: converted, convertErr: err}
	})

	peak := watch.Stop()
	used := governance.DeltaMB(before, e.tracker.Snapshot())
	if used == nil || peak > *used {
		used = &peak
	}
	elapsed := time.Since(start)
	logs := buf.Extract()

	res := e.classify(out, raceErr, breach, guard, limits, used, logs, elapsed)
	res.MemoryUsedMb = used
	logger.Debug("Script finished", "success", res.Success, "duration_ms", res.DurationMs, "error", res.Error)
	return governance.Finalize(res, limits.MaxOutputSize)
}

func (e *Engine) classify(
	out outcome,
	raceErr error,
	breach *memoryBreach,
	guard *hostcap.Guard,
	limits script.Config,
	used *float64,
	logs []script.LogEntry,
	elapsed time.Duration,
) *script.Result {
	limitMB := uint64(0)
	if limits.MemoryLimitMb != nil {
		limitMB = *limits.MemoryLimitMb
	}

	switch {
	case errors.Is(raceErr, governance.ErrTimeout), errors.Is(raceErr, context.DeadlineExceeded):
		return script.Failed(script.NewTimeoutError(limits.TimeoutMs), logs, elapsed)
	case raceErr != nil:
		return script.Failed(script.NewExecutionError(fmt.Sprintf("execution cancelled: %v", raceErr)), logs, elapsed)
	}
	if usedMB, hit := breach.get(); hit {
		return script.Failed(script.NewMemoryLimitError(usedMB, limitMB), logs, elapsed)
	}
	if serr := guard.SecurityError(); serr != nil {
		return script.Failed(serr, logs, elapsed)
	}
	if out.err != nil {
		return script.Failed(runtimeError(out.err), logs, elapsed)
	}
	if governance.OverLimit(used, limits.MemoryLimitMb) {
		return script.Failed(script.NewMemoryLimitError(*used, limitMB), logs, elapsed)
	}
	if out.convertErr != nil {
		return script.Failed(script.NewSerializationError(out.convertErr.Error()), logs, elapsed)
	}
	output, err := script.NormalizeJSON(out.value)
	if err != nil {
		return script.Failed(script.NewSerializationError(err.Error()), logs, elapsed)
	}
	return script.Succeeded(output, logs, elapsed)
}

func (e *Engine) recoverPanic(res **script.Result, start time.Time) {
	if r := recover(); r != nil {
		e.logger.Error("Starlark engine panic", "panic", r)
		*res = script.Failed(script.NewExecutionError(fmt.Sprintf("engine panic: %v", r)), nil, time.Since(start))
	}
}
