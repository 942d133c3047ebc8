// Package pyeng runs validation scripts written in Python in a child
// interpreter. The child gets a sanitized environment, its own process
// group and an audit hook that enforces the sandbox policy; a timeout kills
// the whole group.
package pyeng

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/governance"
	"github.com/atlanticdynamic/mcpverify/internal/script/logcapture"
)

// Environment variables read by the runner.
const (
	EnvContextPath = "MCPVERIFY_CONTEXT_PATH"
	EnvResultPath  = "MCPVERIFY_RESULT_PATH"
	EnvAllowFS     = "MCPVERIFY_ALLOW_FS"
	EnvAllowNet    = "MCPVERIFY_ALLOW_NET"
	EnvMemoryLimit = "MCPVERIFY_MEMORY_LIMIT_BYTES"
)

const (
	contextFile = "context.json"
	resultFile  = "result.json"
	scriptFile  = "script.py"
	runnerFile  = "runner.py"

	defaultKillGrace = 2 * time.Second
	maxDiagnostics   = 64 * 1024
)

//go:embed runner.py
var runnerSource []byte

var (
	_ script.Engine      = (*Engine)(nil)
	_ script.Precompiler = (*Engine)(nil)

	logLineRe = regexp.MustCompile(`^\[([A-Za-z]+)\] ?(.*)$`)
	pyLineRe  = regexp.MustCompile(`line (\d+)`)
)

// Engine executes Python scripts in a child process.
type Engine struct {
	cfg         script.Config
	logger      *slog.Logger
	interpreter string
	killGrace   time.Duration
}

// New locates the interpreter and returns an engine. A missing interpreter
// is an ExecutionError.
func New(cfg script.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg.Clone(),
		logger:    slog.Default().WithGroup("pyeng.Engine"),
		killGrace: defaultKillGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	path, err := locate(e.interpreter)
	if err != nil {
		return nil, script.NewExecutionError(fmt.Sprintf("python interpreter not found: %v", err))
	}
	e.interpreter = path
	return e, nil
}

func locate(preferred string) (string, error) {
	candidates := []string{"python3", "python"}
	if preferred != "" {
		candidates = []string{preferred}
	}
	var errs []error
	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err == nil {
			return path, nil
		}
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}

// Language returns script.LanguagePython.
func (e *Engine) Language() script.Language {
	return script.LanguagePython
}

// Interpreter returns the resolved interpreter path.
func (e *Engine) Interpreter() string {
	return e.interpreter
}

// ValidateSyntax compiles source in a child interpreter without running it.
func (e *Engine) ValidateSyntax(source string) error {
	buf := logcapture.New()
	inv, serr := e.invoke(context.Background(), source, nil, e.cfg, buf, true)
	if serr != nil {
		return serr
	}
	switch {
	case inv.timedOut:
		return script.NewTimeoutError(e.cfg.TimeoutMs)
	case inv.envelope == nil:
		return classifyDiagnostics(inv)
	case !inv.envelope.OK:
		return inv.envelope.Error.toScriptError(nil, nil)
	}
	return nil
}

// Precompile checks syntax; the compiled script carries the source.
func (e *Engine) Precompile(source string) (*script.CompiledScript, error) {
	if err := e.ValidateSyntax(source); err != nil {
		return nil, err
	}
	return script.NewCompiledScript(script.LanguagePython, source, nil), nil
}

// Execute runs source in a fresh child interpreter.
func (e *Engine) Execute(ctx context.Context, source string, sctx *script.Context) (res *script.Result) {
	start := time.Now()
	defer e.recoverPanic(&res, start)

	if sctx == nil {
		return script.Failed(script.NewExecutionError("script context is nil"), nil, time.Since(start))
	}
	limits := e.cfg.Limits(sctx)
	logger := e.logger.With("test", sctx.Metadata.TestName, "execution_id", sctx.Metadata.ExecutionID)
	buf := logcapture.New(logcapture.WithMirror(logger))

	inv, serr := e.invoke(ctx, source, sctx, limits, buf, false)
	elapsed := time.Since(start)
	if serr != nil {
		return script.Failed(serr, buf.Extract(), elapsed)
	}

	used := maxRSSMB(inv.state)
	res = classify(inv, limits, used, buf.Extract(), elapsed)
	res.MemoryUsedMb = used
	logger.Debug("Script finished", "success", res.Success, "duration_ms", res.DurationMs, "error", res.Error)
	return governance.Finalize(res, limits.MaxOutputSize)
}

func (e *Engine) recoverPanic(res **script.Result, start time.Time) {
	if r := recover(); r != nil {
		e.logger.Error("Python engine panic", "panic", r)
		*res = script.Failed(script.NewExecutionError(fmt.Sprintf("engine panic: %v", r)), nil, time.Since(start))
	}
}

// ExecutePrecompiled runs a script produced by Precompile.
func (e *Engine) ExecutePrecompiled(ctx context.Context, compiled *script.CompiledScript, sctx *script.Context) *script.Result {
	if serr := script.CheckCompiled(script.LanguagePython, compiled); serr != nil {
		return script.Failed(serr, nil, 0)
	}
	return e.Execute(ctx, compiled.Source, sctx)
}

type envelope struct {
	OK     bool            `json:"ok"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  *envelopeError  `json:"error,omitempty"`
}

type envelopeError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Line      int    `json:"line"`
	Operation string `json:"operation"`
}

func (ee *envelopeError) toScriptError(used *float64, limit *uint64) *script.Error {
	if ee == nil {
		return script.NewExecutionError("runner reported failure without details")
	}
	switch script.ErrorKind(ee.Kind) {
	case script.KindSyntax:
		return script.NewSyntaxError(ee.Message, ee.Line)
	case script.KindRuntime:
		serr := script.NewRuntimeError(ee.Message)
		serr.Line = ee.Line
		return serr
	case script.KindMemoryLimit:
		var limitMB uint64
		if limit != nil {
			limitMB = *limit
		}
		usedMB := float64(limitMB)
		if used != nil && *used > usedMB {
			usedMB = *used
		}
		return script.NewMemoryLimitError(usedMB, limitMB)
	case script.KindSecurity:
		return script.NewSecurityError(ee.Operation)
	case script.KindSerialization:
		return script.NewSerializationError(ee.Message)
	default:
		return script.NewExecutionError(ee.Message)
	}
}

// diagnostics collects stderr lines that are not script log calls.
type diagnostics struct {
	mu sync.Mutex
	sb strings.Builder
}

func (d *diagnostics) add(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sb.Len()+len(line) > maxDiagnostics {
		return
	}
	d.sb.WriteString(line)
	d.sb.WriteByte('\n')
}

func (d *diagnostics) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.TrimSpace(d.sb.String())
}

type invocation struct {
	envelope  *envelope
	diag      string
	state     *os.ProcessState
	waitErr   error
	timedOut  bool
	cancelErr error
}

func (e *Engine) invoke(
	ctx context.Context,
	source string,
	sctx *script.Context,
	limits script.Config,
	buf *logcapture.Buffer,
	check bool,
) (*invocation, *script.Error) {
	dir, err := os.MkdirTemp("", "mcpverify-py-")
	if err != nil {
		return nil, script.NewExecutionError(fmt.Sprintf("create work dir: %v", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("Failed to remove work dir", "dir", dir, "error", err)
		}
	}()

	files := map[string][]byte{
		scriptFile: []byte(source),
		runnerFile: runnerSource,
	}
	if !check {
		payload, err := json.Marshal(map[string]any{
			"request":  sctx.Request,
			"response": sctx.Response,
			"metadata": sctx.MetadataMap(),
		})
		if err != nil {
			return nil, script.NewSerializationError(fmt.Sprintf("encode context: %v", err))
		}
		files[contextFile] = payload
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return nil, script.NewExecutionError(fmt.Sprintf("write %s: %v", name, err))
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout())
	defer cancel()

	args := []string{"-I", "-B", filepath.Join(dir, runnerFile)}
	if check {
		args = append(args, "--check")
	}
	args = append(args, filepath.Join(dir, scriptFile))

	cmd := exec.CommandContext(runCtx, e.interpreter, args...)
	cmd.Dir = dir
	cmd.Env = e.environment(limits, dir)
	cmd.WaitDelay = e.killGrace
	isolate(cmd)

	diag := &diagnostics{}
	stdout := buf.LineWriter(script.LevelInfo, nil)
	stderr := buf.LineWriter(script.LevelInfo, func(line string) (script.LogLevel, string, bool) {
		if m := logLineRe.FindStringSubmatch(line); m != nil {
			return script.ParseLogLevel(m[1]), m[2], true
		}
		diag.add(line)
		return script.LevelWarn, line, true
	})
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, script.NewExecutionError(fmt.Sprintf("start python: %v", err))
	}
	waitErr := cmd.Wait()
	_ = stdout.Close()
	_ = stderr.Close()

	inv := &invocation{state: cmd.ProcessState, waitErr: waitErr, diag: diag.String()}
	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			inv.cancelErr = ctx.Err()
		} else {
			inv.timedOut = true
		}
		return inv, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, resultFile))
	if err == nil && len(data) > 0 {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			e.logger.Warn("Unreadable runner envelope", "error", err)
		} else {
			inv.envelope = &env
		}
	}
	return inv, nil
}

func (e *Engine) environment(limits script.Config, dir string) []string {
	env := governance.SanitizeEnv(os.Environ(), limits.EnvironmentVariables)
	flag := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	return append(env,
		EnvContextPath+"="+filepath.Join(dir, contextFile),
		EnvResultPath+"="+filepath.Join(dir, resultFile),
		EnvAllowFS+"="+flag(limits.AllowFilesystem),
		EnvAllowNet+"="+flag(limits.AllowNetwork),
		EnvMemoryLimit+"="+strconv.FormatUint(limits.MemoryLimitBytes(), 10),
		"PYTHONDONTWRITEBYTECODE=1",
		"PYTHONIOENCODING=utf-8",
	)
}

func classify(inv *invocation, limits script.Config, used *float64, logs []script.LogEntry, elapsed time.Duration) *script.Result {
	switch {
	case inv.timedOut:
		return script.Failed(script.NewTimeoutError(limits.TimeoutMs), logs, elapsed)
	case inv.cancelErr != nil:
		return script.Failed(script.NewExecutionError(fmt.Sprintf("execution cancelled: %v", inv.cancelErr)), logs, elapsed)
	case inv.envelope == nil:
		return script.Failed(classifyDiagnostics(inv), logs, elapsed)
	case !inv.envelope.OK:
		return script.Failed(inv.envelope.Error.toScriptError(used, limits.MemoryLimitMb), logs, elapsed)
	}

	var output any
	if len(inv.envelope.Output) > 0 {
		if err := json.Unmarshal(inv.envelope.Output, &output); err != nil {
			return script.Failed(script.NewSerializationError(err.Error()), logs, elapsed)
		}
	}
	return script.Succeeded(output, logs, elapsed)
}

// classifyDiagnostics handles a child that exited without writing an
// envelope, typically an interpreter crash or a failure before the runner
// took control.
func classifyDiagnostics(inv *invocation) *script.Error {
	diag := inv.diag
	last := diag
	if idx := strings.LastIndexByte(diag, '\n'); idx >= 0 {
		last = diag[idx+1:]
	}
	switch {
	case strings.Contains(diag, "SyntaxError") || strings.Contains(diag, "IndentationError"):
		line := 0
		if m := pyLineRe.FindAllStringSubmatch(diag, -1); len(m) > 0 {
			line, _ = strconv.Atoi(m[len(m)-1][1])
		}
		return script.NewSyntaxError(last, line)
	case strings.Contains(diag, "MemoryError"):
		return script.NewExecutionError("python ran out of memory before the script started")
	case strings.Contains(diag, "Traceback (most recent call last)"):
		return script.NewRuntimeError(last)
	}
	code := -1
	if inv.state != nil {
		code = inv.state.ExitCode()
	}
	msg := fmt.Sprintf("python exited with code %d", code)
	if diag != "" {
		msg += ": " + diag
	} else if inv.waitErr != nil {
		msg += ": " + inv.waitErr.Error()
	}
	return script.NewExecutionError(msg)
}
