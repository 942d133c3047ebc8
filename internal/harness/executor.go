// Package harness runs MCP test cases: before validation of the request,
// the tool call, then declarative and scripted validation of the response.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/validation"
	"github.com/atlanticdynamic/mcpverify/internal/validation/scriptval"
	"golang.org/x/sync/errgroup"
)

// MethodToolsCall is the protocol method every test case exercises.
const MethodToolsCall = "tools/call"

// DefaultConcurrency is how many cases RunAll executes at once by default.
const DefaultConcurrency = 4

// Caller invokes a tool on the server under test. The returned response
// must encode to the protocol's CallToolResult JSON.
type Caller interface {
	CallTool(ctx context.Context, name string, arguments map[string]any) (any, error)
}

// ServerDescriber is implemented by callers that know the connected
// server's identity.
type ServerDescriber interface {
	ServerInfo() ServerInfo
}

// ServerInfo identifies the server under test.
type ServerInfo struct {
	Name         string
	Version      string
	Capabilities []string
}

// TestCase is one tool invocation and the checks applied to it.
type TestCase struct {
	Name      string
	Tool      string
	Arguments map[string]any
	// Scripts names the validation scripts to run, in order.
	Scripts  []string
	Expect   *validation.Expectations
	Metadata map[string]string
}

// TestCaseResult is the outcome of one test case.
type TestCaseResult struct {
	Name     string                    `json:"name"`
	Success  bool                      `json:"success"`
	Duration time.Duration             `json:"duration"`
	Before   *validation.Result        `json:"before,omitempty"`
	After    *validation.Result        `json:"after,omitempty"`
	Scripts  []validation.ScriptResult `json:"scripts,omitempty"`
	Response any                       `json:"response,omitempty"`
	Error    error                     `json:"-"`
}

// MarshalJSON adds the error message under "error".
func (r TestCaseResult) MarshalJSON() ([]byte, error) {
	type plain TestCaseResult
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(r)}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return json.Marshal(out)
}

// Executor runs test cases against one caller.
type Executor struct {
	caller      Caller
	scripts     *scriptval.Adapter
	pipelineCfg validation.Config
	server      *ServerInfo
	concurrency int
	caseTimeout time.Duration
	requestSeq  atomic.Int64

	handler slog.Handler
	logger  *slog.Logger
}

// NewExecutor returns an executor calling tools through caller. scripts
// may be nil when no case references a script.
func NewExecutor(caller Caller, scripts *scriptval.Adapter, opts ...Option) (*Executor, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: caller is nil", ErrCaller)
	}
	e := &Executor{
		caller:      caller,
		scripts:     scripts,
		concurrency: DefaultConcurrency,
		logger:      slog.Default().WithGroup("harness.Executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Executor) serverInfo() ServerInfo {
	if e.server != nil {
		return *e.server
	}
	if d, ok := e.caller.(ServerDescriber); ok {
		return d.ServerInfo()
	}
	return ServerInfo{}
}

// pipeline builds the validation pipeline for tc. Unknown script names
// fail here, before anything runs.
func (e *Executor) pipeline(tc TestCase) (*validation.Pipeline, error) {
	var opts []validation.Option
	if e.handler != nil {
		opts = append(opts, validation.WithLogHandler(e.handler))
	}
	p := validation.NewPipeline(e.pipelineCfg, opts...)
	if len(tc.Scripts) == 0 {
		return p, nil
	}
	if e.scripts == nil {
		return nil, fmt.Errorf("%w: %q", scriptval.ErrScriptNotFound, tc.Scripts[0])
	}
	selected, err := e.scripts.Select(tc.Scripts)
	if err != nil {
		return nil, err
	}
	if err := selected.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Executor) validationContext(tc TestCase, args map[string]any) *validation.Context {
	info := e.serverInfo()
	return &validation.Context{
		Method:             MethodToolsCall,
		ToolName:           tc.Tool,
		RequestID:          e.requestSeq.Add(1),
		Request:            map[string]any{"name": tc.Tool, "arguments": args},
		ServerName:         info.Name,
		ServerVersion:      info.Version,
		ServerCapabilities: info.Capabilities,
		TestName:           tc.Name,
		TestMetadata:       maps.Clone(tc.Metadata),
	}
}

// RunCase executes tc. Failures are reported on the result; RunCase
// itself never fails.
func (e *Executor) RunCase(ctx context.Context, tc TestCase) *TestCaseResult {
	start := time.Now()
	res := &TestCaseResult{Name: tc.Name}
	logger := e.logger.With("case", tc.Name, "tool", tc.Tool)
	defer func() {
		res.Duration = time.Since(start)
		logger.Debug("Test case finished", "success", res.Success, "duration", res.Duration)
	}()

	if tc.Tool == "" {
		res.Error = fmt.Errorf("%w: %s: tool is required", ErrTestCase, tc.Name)
		return res
	}
	if e.caseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.caseTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		res.Error = err
		return res
	}

	p, err := e.pipeline(tc)
	if err != nil {
		logger.Error("Test case configuration rejected", "error", err)
		res.Error = err
		return res
	}
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	vctx := e.validationContext(tc, args)

	before, err := p.Before(ctx, vctx)
	if err != nil {
		res.Error = err
		return res
	}
	res.Before = before
	res.Scripts = append(res.Scripts, before.Scripts...)
	if !before.Valid {
		res.Error = fmt.Errorf("%w: %w", ErrBeforePhase, phaseError(before))
		return res
	}

	logger.Debug("Calling tool")
	response, err := e.caller.CallTool(ctx, tc.Tool, args)
	if err != nil {
		logger.Warn("Tool call failed", "error", err)
		res.Error = fmt.Errorf("%w: %s: %w", ErrToolCall, tc.Tool, err)
		return res
	}
	res.Response = response

	after, err := p.After(ctx, response, tc.Expect, vctx)
	if err != nil {
		res.Error = err
		return res
	}
	res.After = after
	res.Scripts = append(res.Scripts, after.Scripts...)
	res.Success = after.Valid
	if !after.Valid {
		res.Error = phaseError(after)
	}
	return res
}

// phaseError explains why a phase result is not valid.
func phaseError(res *validation.Result) error {
	if err := res.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %d warnings in strict mode", validation.ErrValidation, len(res.Warnings))
}

// RunAll executes cases concurrently and returns their results in input
// order. The error is the context's, when it ended the run early.
func (e *Executor) RunAll(ctx context.Context, cases []TestCase) ([]*TestCaseResult, error) {
	results := make([]*TestCaseResult, len(cases))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, tc := range cases {
		g.Go(func() error {
			results[i] = e.RunCase(ctx, tc)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// Summary counts passed and failed results.
func Summary(results []*TestCaseResult) (passed, failed int) {
	for _, r := range results {
		if r != nil && r.Success {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// Err joins the errors of every failed result.
func Err(results []*TestCaseResult) error {
	var errs []error
	for _, r := range results {
		if r == nil || r.Success {
			continue
		}
		err := r.Error
		if err == nil {
			err = errors.New("failed")
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
	}
	return errors.Join(errs...)
}
