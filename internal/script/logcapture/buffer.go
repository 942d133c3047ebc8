// Package logcapture collects the textual output of a running script as
// structured log entries.
package logcapture

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
)

// DefaultMaxEntries bounds a buffer; older entries are evicted first.
const DefaultMaxEntries = 1000

// Buffer is a bounded, thread-safe log sink. Each execution owns a fresh one.
type Buffer struct {
	mu      sync.Mutex
	entries []script.LogEntry
	max     int
	dropped int
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxEntries overrides DefaultMaxEntries.
func WithMaxEntries(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.max = n
		}
	}
}

// WithMirror also writes every captured entry to logger at debug level.
func WithMirror(logger *slog.Logger) Option {
	return func(b *Buffer) {
		b.logger = logger
	}
}

// New returns an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		max: DefaultMaxEntries,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Capture appends one entry, evicting the oldest when full.
func (b *Buffer) Capture(level script.LogLevel, message string) {
	entry := script.LogEntry{Level: level, Message: message, Timestamp: b.now()}

	b.mu.Lock()
	if len(b.entries) >= b.max {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
		b.dropped++
	}
	b.entries = append(b.entries, entry)
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Debug("Script output", "level", level, "message", message)
	}
}

// Print records one print call: arguments joined by a tab, at info level.
func (b *Buffer) Print(args ...string) {
	b.Capture(script.LevelInfo, strings.Join(args, "\t"))
}

// Extract returns the buffered entries in emission order and clears the buffer.
func (b *Buffer) Extract() []script.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]script.LogEntry, len(b.entries))
	copy(out, b.entries)
	b.entries = b.entries[:0]
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns how many entries were evicted.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// LineWriter returns an io.Writer that turns each written line into an
// entry. classify picks the level and message for a line; nil means the
// line is kept verbatim at the given level. Close flushes a trailing
// partial line.
func (b *Buffer) LineWriter(level script.LogLevel, classify func(line string) (script.LogLevel, string, bool)) *LineWriter {
	return &LineWriter{buf: b, level: level, classify: classify}
}

// LineWriter splits a byte stream into log entries.
type LineWriter struct {
	mu       sync.Mutex
	buf      *Buffer
	level    script.LogLevel
	classify func(line string) (script.LogLevel, string, bool)
	pending  bytes.Buffer
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.Write(p)
	for {
		data := w.pending.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return len(p), nil
		}
		line := string(bytes.TrimRight(data[:idx], "\r"))
		w.pending.Next(idx + 1)
		w.emit(line)
	}
}

// Close flushes an unterminated final line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending.Len() > 0 {
		w.emit(w.pending.String())
		w.pending.Reset()
	}
	return nil
}

func (w *LineWriter) emit(line string) {
	if w.classify == nil {
		w.buf.Capture(w.level, line)
		return
	}
	if level, msg, keep := w.classify(line); keep {
		w.buf.Capture(level, msg)
	}
}
