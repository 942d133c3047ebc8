// Package toolserver exposes the script engines as MCP tools, so an MCP
// client can run and syntax-check validation scripts remotely.
//
// Tools:
//
//	run_script      execute a script and return its result as JSON
//	check_script    parse a script without running it
//	list_languages  the languages the registry can run
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/robbyt/go-supervisor/supervisor"
)

var _ supervisor.Runnable = (*Server)(nil)

const (
	ToolRunScript     = "run_script"
	ToolCheckScript   = "check_script"
	ToolListLanguages = "list_languages"
)

// RunScriptInput is the argument object of run_script.
type RunScriptInput struct {
	Language  string `json:"language"             jsonschema:"starlark, javascript or python (aliases accepted)"`
	Source    string `json:"source"               jsonschema:"script source code"`
	Request   any    `json:"request,omitempty"    jsonschema:"request JSON exposed to the script"`
	Response  any    `json:"response,omitempty"   jsonschema:"response JSON exposed to the script"`
	TimeoutMs uint64 `json:"timeout_ms,omitempty" jsonschema:"overrides the configured timeout"`
	TestName  string `json:"test_name,omitempty"  jsonschema:"name recorded in the script metadata"`
}

// CheckScriptInput is the argument object of check_script.
type CheckScriptInput struct {
	Language string `json:"language" jsonschema:"starlark, javascript or python (aliases accepted)"`
	Source   string `json:"source"   jsonschema:"script source code"`
}

// CheckResult is the payload of check_script.
type CheckResult struct {
	Valid bool          `json:"valid"`
	Error *script.Error `json:"error,omitempty"`
}

// Server is an MCP server over one transport. It implements
// supervisor.Runnable.
type Server struct {
	registry  *script.Registry
	cfg       script.Config
	impl      *mcpsdk.Implementation
	transport mcpsdk.Transport
	mcp       *mcpsdk.Server
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

// New builds a server whose scripts run with cfg unless a call overrides
// the timeout.
func New(registry *script.Registry, cfg script.Config, opts ...Option) (*Server, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		registry:  registry,
		cfg:       cfg.Clone(),
		impl:      &mcpsdk.Implementation{Name: "mcpverify", Version: "v1"},
		transport: &mcpsdk.StdioTransport{},
		logger:    slog.Default().WithGroup("toolserver.Server"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcpsdk.NewServer(s.impl, nil)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolRunScript,
		Description: "Run a validation script against a request and response",
	}, s.runScript)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolCheckScript,
		Description: "Check the syntax of a validation script",
	}, s.checkScript)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolListLanguages,
		Description: "List the script languages this server can run",
	}, s.listLanguages)
	return s, nil
}

func (s *Server) String() string {
	return "toolserver.Server"
}

// Run serves until ctx is cancelled, Stop is called or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.mu.Unlock()
		s.doneOnce.Do(func() { close(s.done) })
	}()

	s.logger.Info("Serving script tools", "languages", s.registry.Languages())
	err := s.mcp.Run(runCtx, s.transport)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("tool server: %w", err)
	}
	s.logger.Debug("Tool server stopped")
	return nil
}

// Done is closed once Run has returned, for example after the client
// disconnected.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stop ends a running Run.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) runScript(
	ctx context.Context,
	req *mcpsdk.CallToolRequest,
	in RunScriptInput,
) (*mcpsdk.CallToolResult, any, error) {
	lang, err := script.ParseLanguage(in.Language)
	if err != nil {
		return toolError(err), nil, nil
	}
	cfg := s.cfg.Clone()
	if in.TimeoutMs > 0 {
		cfg = cfg.WithTimeout(in.TimeoutMs)
	}
	if err := cfg.Validate(); err != nil {
		return toolError(err), nil, nil
	}
	engine, err := s.registry.New(lang, cfg)
	if err != nil {
		return toolError(err), nil, nil
	}

	testName := in.TestName
	if testName == "" {
		testName = ToolRunScript
	}
	sctx, err := script.NewContext(in.Request, in.Response, script.Metadata{
		TestName: testName,
		ToolName: ToolRunScript,
	}, cfg)
	if err != nil {
		return toolError(err), nil, nil
	}

	res := engine.Execute(ctx, in.Source, sctx)
	s.logger.Debug("Script executed",
		"language", lang,
		"success", res.Success,
		"kind", res.ErrorKind(),
		"durationMs", res.DurationMs,
	)
	return jsonResult(res)
}

func (s *Server) checkScript(
	ctx context.Context,
	req *mcpsdk.CallToolRequest,
	in CheckScriptInput,
) (*mcpsdk.CallToolResult, any, error) {
	lang, err := script.ParseLanguage(in.Language)
	if err != nil {
		return toolError(err), nil, nil
	}
	engine, err := s.registry.New(lang, s.cfg.Clone())
	if err != nil {
		return toolError(err), nil, nil
	}
	out := CheckResult{Valid: true}
	if err := engine.ValidateSyntax(in.Source); err != nil {
		out = CheckResult{Error: script.AsError(err)}
	}
	return jsonResult(out)
}

func (s *Server) listLanguages(
	ctx context.Context,
	req *mcpsdk.CallToolRequest,
	in struct{},
) (*mcpsdk.CallToolResult, any, error) {
	return jsonResult(map[string]any{"languages": s.registry.Languages()})
}

// jsonResult renders v as a single text content block.
func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return toolError(err), nil, nil
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil, nil
}

func toolError(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}
