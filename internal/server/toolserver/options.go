package toolserver

import (
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Option represents a functional option for configuring Server.
type Option func(*Server)

// WithLogHandler sets a custom slog handler for the Server instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(s *Server) {
		if handler != nil {
			s.logger = slog.New(handler).WithGroup("toolserver.Server")
		}
	}
}

// WithTransport replaces the stdio transport. Tests use in-memory transports.
func WithTransport(transport mcpsdk.Transport) Option {
	return func(s *Server) {
		if transport != nil {
			s.transport = transport
		}
	}
}

// WithImplementation sets the name and version announced to clients.
func WithImplementation(name, version string) Option {
	return func(s *Server) {
		if name != "" {
			s.impl.Name = name
		}
		if version != "" {
			s.impl.Version = version
		}
	}
}
