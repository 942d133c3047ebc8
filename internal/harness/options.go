package harness

import (
	"log/slog"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/validation"
)

// Option represents a functional option for configuring Executor.
type Option func(*Executor)

// WithLogHandler sets a custom slog handler for the Executor and the
// pipelines it builds.
func WithLogHandler(handler slog.Handler) Option {
	return func(e *Executor) {
		if handler != nil {
			e.handler = handler
			e.logger = slog.New(handler).WithGroup("harness.Executor")
		}
	}
}

// WithPipelineConfig sets the strict mode and error cap of every case.
func WithPipelineConfig(cfg validation.Config) Option {
	return func(e *Executor) {
		e.pipelineCfg = cfg
	}
}

// WithServerInfo describes the server under test to scripts. It replaces
// whatever the caller reports.
func WithServerInfo(info ServerInfo) Option {
	return func(e *Executor) {
		e.server = &info
	}
}

// WithConcurrency caps how many cases RunAll executes at once.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithCaseTimeout bounds each case, scripts and tool call included.
func WithCaseTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.caseTimeout = d
		}
	}
}
