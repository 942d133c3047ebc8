package starlarkeng

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
			e.logger = slog.New(handler).WithGroup("starlarkeng.Engine")
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

// WithMaxSteps caps the interpreter steps of one execution. Zero means no cap.
func WithMaxSteps(steps uint64) Option {
	return func(e *Engine) {
		e.maxSteps = steps
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
