package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/robbyt/go-loglater"
)

const stateChangeMessage = "Execution state changed"

// Event is one recorded transition.
type Event struct {
	Time        time.Time
	ExecutionID string
	Script      string
	Phase       string
	State       string
}

// Journal keeps every transition of every execution it is given, in the
// order they happened. It is safe for concurrent use.
type Journal struct {
	collector *loglater.LogCollector
	logger    *slog.Logger
}

// NewJournal returns a journal that also forwards records to handler. A nil
// handler keeps the records in memory only. Records are written at info
// level, so a forwarding handler must have info enabled.
func NewJournal(handler slog.Handler) *Journal {
	if handler == nil {
		handler = slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	collector := loglater.NewLogCollector(handler)
	return &Journal{
		collector: collector,
		logger:    slog.New(collector),
	}
}

func (j *Journal) record(e *Execution, state string) {
	j.logger.LogAttrs(context.Background(), slog.LevelInfo, stateChangeMessage,
		slog.String("execution_id", e.ID.String()),
		slog.String("script", e.Script),
		slog.String("phase", e.Phase),
		slog.String("state", state),
	)
}

// Events returns the recorded transitions in order.
func (j *Journal) Events() []Event {
	records := j.collector.GetLogs()
	events := make([]Event, 0, len(records))
	for _, rec := range records {
		if rec.Message != stateChangeMessage {
			continue
		}
		ev := Event{Time: rec.Time}
		for _, attr := range rec.Attrs {
			switch attr.Key {
			case "execution_id":
				ev.ExecutionID = attr.Value.String()
			case "script":
				ev.Script = attr.Value.String()
			case "phase":
				ev.Phase = attr.Value.String()
			case "state":
				ev.State = attr.Value.String()
			}
		}
		events = append(events, ev)
	}
	return events
}

// Index returns the position of the first event for scriptName reaching
// state, or -1.
func (j *Journal) Index(scriptName, state string) int {
	for i, ev := range j.Events() {
		if ev.Script == scriptName && ev.State == state {
			return i
		}
	}
	return -1
}

// Replay writes every recorded event to handler.
func (j *Journal) Replay(handler slog.Handler) error {
	return j.collector.PlayLogs(handler)
}
