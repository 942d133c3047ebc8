// Package mcp connects to the MCP server under test and calls its tools.
// It keeps the SDK session behind a small type so the harness only sees
// plain JSON values.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync/atomic"

	"github.com/atlanticdynamic/mcpverify/internal/harness"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	clientName    = "mcpverify"
	clientVersion = "v1"
)

// Option configures a Client.
type Option func(*Client)

// WithLogHandler sets the slog handler for the Client.
func WithLogHandler(handler slog.Handler) Option {
	return func(c *Client) {
		if handler != nil {
			c.logger = slog.New(handler).WithGroup("mcp.Client")
		}
	}
}

// WithImplementation sets the name and version sent during initialization.
func WithImplementation(name, version string) Option {
	return func(c *Client) {
		if name != "" {
			c.impl.Name = name
		}
		if version != "" {
			c.impl.Version = version
		}
	}
}

// Client is one initialized session with an MCP server.
type Client struct {
	impl    *mcpsdk.Implementation
	session *mcpsdk.ClientSession
	server  harness.ServerInfo
	closed  atomic.Bool
	logger  *slog.Logger
}

// NewCommandTransport launches the server as a child process speaking MCP
// over stdio. env entries are added to the current environment.
func NewCommandTransport(name string, args, env []string, dir string) (mcpsdk.Transport, error) {
	if name == "" {
		return nil, ErrEmptyCommand
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stderr = os.Stderr
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// Connect performs the MCP handshake over transport.
func Connect(ctx context.Context, transport mcpsdk.Transport, opts ...Option) (*Client, error) {
	c := &Client{
		impl:   &mcpsdk.Implementation{Name: clientName, Version: clientVersion},
		logger: slog.Default().WithGroup("mcp.Client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	session, err := mcpsdk.NewClient(c.impl, nil).Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	c.session = session
	c.server = describe(session.InitializeResult())
	c.logger.Debug("Connected", "server", c.server.Name, "version", c.server.Version)
	return c, nil
}

func describe(init *mcpsdk.InitializeResult) harness.ServerInfo {
	var info harness.ServerInfo
	if init == nil {
		return info
	}
	if init.ServerInfo != nil {
		info.Name = init.ServerInfo.Name
		info.Version = init.ServerInfo.Version
	}
	caps := init.Capabilities
	if caps == nil {
		return info
	}
	if caps.Tools != nil {
		info.Capabilities = append(info.Capabilities, "tools")
	}
	if caps.Resources != nil {
		info.Capabilities = append(info.Capabilities, "resources")
	}
	if caps.Prompts != nil {
		info.Capabilities = append(info.Capabilities, "prompts")
	}
	if caps.Logging != nil {
		info.Capabilities = append(info.Capabilities, "logging")
	}
	if caps.Completions != nil {
		info.Capabilities = append(info.Capabilities, "completions")
	}
	return info
}

// ServerInfo reports what the server announced during initialization.
func (c *Client) ServerInfo() harness.ServerInfo {
	info := c.server
	info.Capabilities = slices.Clone(info.Capabilities)
	return info
}

// CallTool calls a tool and returns its result as a JSON object. content
// and isError are always present.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (any, error) {
	if c.closed.Load() {
		return nil, ErrSessionClosed
	}
	if arguments == nil {
		arguments = map[string]any{}
	}
	res, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	out, err := toJSONObject(res)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Tool called", "tool", name, "isError", res.IsError)
	return out, nil
}

func toJSONObject(res *mcpsdk.CallToolResult) (map[string]any, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if _, ok := out["content"]; !ok {
		out["content"] = []any{}
	}
	out["isError"] = res.IsError
	return out, nil
}

// ListTools returns the names of every tool the server offers, sorted.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrSessionClosed
	}
	var names []string
	for tool, err := range c.session.Tools(ctx, nil) {
		if err != nil {
			return nil, err
		}
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	return names, nil
}

// Close ends the session. Closing twice is a no-op.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.session.Close()
}
