// Package jseng runs validation scripts written in JavaScript on an embedded
// goja runtime. The runtime cannot be preempted cooperatively from inside a
// script, so a timed-out runtime is interrupted and thrown away. Every
// execution gets a fresh runtime.
package jseng

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/governance"
	"github.com/atlanticdynamic/mcpverify/internal/script/hostcap"
	"github.com/atlanticdynamic/mcpverify/internal/script/logcapture"
	"github.com/dop251/goja"
)

const (
	scriptName = "validation.js"
	resultVar  = "result"

	// DefaultMaxCallStackSize bounds recursion depth per runtime.
	DefaultMaxCallStackSize = 1024
)

var (
	_ script.Engine      = (*Engine)(nil)
	_ script.Precompiler = (*Engine)(nil)

	syntaxLineRe  = regexp.MustCompile(`Line (\d+):\d+`)
	compileLineRe = regexp.MustCompile(`:(\d+):\d+`)
	stackLineRe   = regexp.MustCompile(regexp.QuoteMeta(scriptName) + `:(\d+):\d+`)
)

// Engine executes JavaScript scripts.
type Engine struct {
	cfg            script.Config
	logger         *slog.Logger
	tracker        *governance.Tracker
	maxCallStack   int
	sampleInterval time.Duration
}

// New validates cfg and returns a JavaScript engine.
func New(cfg script.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:            cfg.Clone(),
		logger:         slog.Default().WithGroup("jseng.Engine"),
		maxCallStack:   DefaultMaxCallStackSize,
		sampleInterval: governance.DefaultSampleInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tracker = governance.NewTracker(e.logger)
	return e, nil
}

// Language returns script.LanguageJavaScript.
func (e *Engine) Language() script.Language {
	return script.LanguageJavaScript
}

// ValidateSyntax compiles source without running it.
func (e *Engine) ValidateSyntax(source string) error {
	if _, serr := compile(source); serr != nil {
		return serr
	}
	return nil
}

// Precompile compiles source to a reusable goja program.
func (e *Engine) Precompile(source string) (*script.CompiledScript, error) {
	prog, serr := compile(source)
	if serr != nil {
		return nil, serr
	}
	return script.NewCompiledScript(script.LanguageJavaScript, source, prog), nil
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

	if serr := script.CheckCompiled(script.LanguageJavaScript, compiled); serr != nil {
		return script.Failed(serr, nil, time.Since(start))
	}
	prog, ok := compiled.Artifact.(*goja.Program)
	if !ok {
		return script.Failed(script.NewExecutionError("compiled artifact is not a JavaScript program"), nil, time.Since(start))
	}
	return e.run(ctx, prog, sctx, start)
}

// compile accepts a top-level return by retrying inside a function body.
func compile(source string) (*goja.Program, *script.Error) {
	prog, err := goja.Compile(scriptName, source, false)
	if err == nil {
		return prog, nil
	}
	if !strings.Contains(err.Error(), "Illegal return statement") {
		return nil, syntaxError(err)
	}
	prog, err = goja.Compile(scriptName, "(function () {"+source+"\n})()", false)
	if err != nil {
		return nil, syntaxError(err)
	}
	return prog, nil
}

func syntaxError(err error) *script.Error {
	msg := err.Error()
	line := 0
	if m := syntaxLineRe.FindStringSubmatch(msg); m != nil {
		line, _ = strconv.Atoi(m[1])
	} else if m := compileLineRe.FindStringSubmatch(msg); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	return script.NewSyntaxError(msg, line)
}

type outcome struct {
	value      any
	err        error
	convertErr error
}

// memoryInterrupt is the value passed to Interrupt when the watcher fires.
type memoryInterrupt struct{}

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

func (e *Engine) run(ctx context.Context, prog *goja.Program, sctx *script.Context, start time.Time) *script.Result {
	if sctx == nil {
		return script.Failed(script.NewExecutionError("script context is nil"), nil, time.Since(start))
	}
	limits := e.cfg.Limits(sctx)
	logger := e.logger.With("test", sctx.Metadata.TestName, "execution_id", sctx.Metadata.ExecutionID)

	buf := logcapture.New(logcapture.WithMirror(logger))
	guard := hostcap.NewGuard(hostcap.PolicyFor(e.cfg))

	sb, err := newSandbox(ctx, e.maxCallStack, buf, guard)
	if err != nil {
		return script.Failed(script.NewExecutionError(err.Error()), nil, time.Since(start))
	}
	if err := sb.bind(sctx); err != nil {
		return script.Failed(script.NewSerializationError(err.Error()), nil, time.Since(start))
	}

	breach := &memoryBreach{}
	before := e.tracker.Snapshot()
	watch := governance.StartWatch(ctx, limits.MemoryLimitBytes(), e.sampleInterval, func(used float64) {
		breach.set(used)
		sb.vm.Interrupt(memoryInterrupt{})
	})

	out, raceErr := governance.Race(ctx, limits.Timeout(), func(context.Context) (o outcome) {
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: fmt.Errorf("runtime panic: %v", r)}
			}
		}()
		completion, err := sb.vm.RunProgram(prog)
		if err != nil {
			return outcome{err: err}
		}
		if completion == nil || goja.IsUndefined(completion) {
			completion = sb.vm.Get(resultVar)
		}
		value, err := sb.fromJS(completion)
		return outcome{value: value, convertErr: err}
	})
	if raceErr != nil {
		// The runtime goroutine stops at its next instruction; the
		// runtime itself is never reused.
		sb.vm.Interrupt("timeout")
	}

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
	usedMB := 0.0
	if used != nil {
		usedMB = *used
	}

	switch {
	case errors.Is(raceErr, governance.ErrTimeout), errors.Is(raceErr, context.DeadlineExceeded):
		return script.Failed(script.NewTimeoutError(limits.TimeoutMs), logs, elapsed)
	case raceErr != nil:
		return script.Failed(script.NewExecutionError(fmt.Sprintf("execution cancelled: %v", raceErr)), logs, elapsed)
	}
	if peakMB, hit := breach.get(); hit {
		return script.Failed(script.NewMemoryLimitError(peakMB, limitMB), logs, elapsed)
	}
	if serr := guard.SecurityError(); serr != nil {
		return script.Failed(serr, logs, elapsed)
	}
	if out.err != nil {
		if exhausted(out.err) {
			return script.Failed(script.NewMemoryLimitError(usedMB, limitMB), logs, elapsed)
		}
		return script.Failed(runtimeError(out.err), logs, elapsed)
	}
	if governance.OverLimit(used, limits.MemoryLimitMb) {
		return script.Failed(script.NewMemoryLimitError(usedMB, limitMB), logs, elapsed)
	}
	if out.convertErr != nil {
		return script.Failed(script.NewSerializationError(exceptionMessage(out.convertErr)), logs, elapsed)
	}
	return script.Succeeded(out.value, logs, elapsed)
}

// exhausted reports whether err is the runtime refusing to grow a stack or
// an allocation.
func exhausted(err error) bool {
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Maximum call stack size exceeded") ||
		strings.Contains(msg, "Invalid array length") ||
		strings.Contains(msg, "Invalid string length")
}

func runtimeError(err error) *script.Error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return script.NewExecutionError(fmt.Sprintf("interrupted: %v", interrupted.Value()))
	}
	serr := script.NewRuntimeError(exceptionMessage(err))
	if m := stackLineRe.FindStringSubmatch(err.Error()); m != nil {
		serr.Line, _ = strconv.Atoi(m[1])
	}
	return serr
}

func exceptionMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil {
			return v.String()
		}
	}
	return err.Error()
}

func (e *Engine) recoverPanic(res **script.Result, start time.Time) {
	if r := recover(); r != nil {
		e.logger.Error("JavaScript engine panic", "panic", r)
		*res = script.Failed(script.NewExecutionError(fmt.Sprintf("engine panic: %v", r)), nil, time.Since(start))
	}
}
