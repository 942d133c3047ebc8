package jseng

import (
	"log/slog"
	"time"
)

// Option represents a functional option for configuring Engine.
type Option func(*Engine)

// WithLogHandler sets a custom slog handler for the Engine instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(e *Engine) {
		if handler != nil {
			e.logger = slog.New(handler).WithGroup("jseng.Engine")
		}
	}
}

// WithLogger sets a logger for the Engine instance.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxCallStackSize bounds JavaScript recursion depth.
func WithMaxCallStackSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxCallStack = n
		}
	}
}

// WithSampleInterval sets how often heap growth is checked during a run.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sampleInterval = d
		}
	}
}
