package pyeng

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
			e.logger = slog.New(handler).WithGroup("pyeng.Engine")
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

// WithInterpreter pins the interpreter instead of searching PATH.
func WithInterpreter(path string) Option {
	return func(e *Engine) {
		if path != "" {
			e.interpreter = path
		}
	}
}

// WithKillGrace sets how long pipes stay open after the child is killed.
func WithKillGrace(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.killGrace = d
		}
	}
}
