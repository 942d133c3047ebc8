package mcp

import "errors"

var (
	ErrConnect         = errors.New("failed to connect to MCP server")
	ErrSessionClosed   = errors.New("MCP session is closed")
	ErrEmptyCommand    = errors.New("server command is empty")
	ErrInvalidResponse = errors.New("invalid tool response")
)
