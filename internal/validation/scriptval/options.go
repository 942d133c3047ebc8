package scriptval

import (
	"log/slog"

	"github.com/atlanticdynamic/mcpverify/internal/script/lifecycle"
)

// Option represents a functional option for configuring Adapter.
type Option func(*Adapter)

// WithLogHandler sets a custom slog handler for the Adapter instance.
func WithLogHandler(handler slog.Handler) Option {
	return func(a *Adapter) {
		if handler != nil {
			a.handler = handler
			a.logger = slog.New(handler).WithGroup("scriptval.Adapter")
		}
	}
}

// WithJournal records lifecycle transitions in journal instead of a
// private one.
func WithJournal(journal *lifecycle.Journal) Option {
	return func(a *Adapter) {
		if journal != nil {
			a.journal = journal
		}
	}
}
