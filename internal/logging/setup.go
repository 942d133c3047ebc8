// Package logging builds the slog handlers used by the CLI and the tool
// server. Text output goes through charmbracelet/log.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/atlanticdynamic/mcpverify/internal/logging/writers"
	"github.com/charmbracelet/log"
)

// levelSpec is what a level name turns on.
type levelSpec struct {
	level     slog.Level
	caller    bool
	timestamp bool
}

// parseLevel maps a level name to its settings. "trace" is debug with
// caller and timestamp reporting; unknown names mean info.
func parseLevel(name string) levelSpec {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return levelSpec{level: slog.LevelDebug, caller: true, timestamp: true}
	case "debug":
		return levelSpec{level: slog.LevelDebug, timestamp: true}
	case "warn", "warning":
		return levelSpec{level: slog.LevelWarn}
	case "error":
		return levelSpec{level: slog.LevelError}
	default:
		return levelSpec{level: slog.LevelInfo}
	}
}

// SetupHandlerText returns a charmbracelet/log handler writing to writer,
// stderr when nil.
func SetupHandlerText(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}
	lvl := parseLevel(logLevel)
	return log.NewWithOptions(writer, log.Options{
		ReportTimestamp: lvl.timestamp,
		ReportCaller:    lvl.caller,
		Level:           log.Level(lvl.level),
	})
}

// SetupHandlerJSON returns a JSON handler writing to writer, stdout when
// nil.
func SetupHandlerJSON(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stdout
	}
	lvl := parseLevel(logLevel)
	return slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     lvl.level,
		AddSource: lvl.caller,
	})
}

// New opens output and builds a handler of the given format ("text" or
// "json", empty means text). The returned closer releases the output.
func New(format, level, output string) (slog.Handler, io.Closer, error) {
	w, err := writers.Open(output)
	if err != nil {
		return nil, nil, err
	}
	switch strings.ToLower(format) {
	case "", "text", "txt":
		return SetupHandlerText(level, w), w, nil
	case "json":
		return SetupHandlerJSON(level, w), w, nil
	default:
		_ = w.Close()
		return nil, nil, fmt.Errorf("unknown log format: %s", format)
	}
}

// SetupLogger installs a text handler on stderr as the default logger.
func SetupLogger(logLevel string) {
	slog.SetDefault(slog.New(SetupHandlerText(logLevel, nil)))
}
