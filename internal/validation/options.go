package validation

import "log/slog"

// Option represents a functional option for configuring Pipeline.
type Option func(*Pipeline)

// WithLogHandler sets a custom slog handler for the Pipeline instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(p *Pipeline) {
		if handler != nil {
			p.logger = slog.New(handler).WithGroup("validation.Pipeline")
		}
	}
}

// WithLogger sets a logger for the Pipeline instance.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}
