package script

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LogLevel is the severity of a captured log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// ParseLogLevel maps a level name to a LogLevel. Unknown names map to info.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "err", "fatal":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is one line of script output.
type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Level)), e.Message)
}

// Result is what every engine returns for every execution.
type Result struct {
	Success      bool       `json:"success"`
	Output       any        `json:"output"`
	Logs         []LogEntry `json:"logs"`
	DurationMs   uint64     `json:"duration_ms"`
	MemoryUsedMb *float64   `json:"memory_used_mb,omitempty"`
	Error        *Error     `json:"error,omitempty"`
	Truncated    bool       `json:"truncated,omitempty"`
}

// Succeeded builds a successful result.
func Succeeded(output any, logs []LogEntry, elapsed time.Duration) *Result {
	return &Result{
		Success:    true,
		Output:     output,
		Logs:       nonNilLogs(logs),
		DurationMs: DurationMillis(elapsed),
	}
}

// Failed builds a failed result carrying err.
func Failed(err *Error, logs []LogEntry, elapsed time.Duration) *Result {
	return &Result{
		Success:    false,
		Logs:       nonNilLogs(logs),
		DurationMs: DurationMillis(elapsed),
		Error:      err,
	}
}

// ErrorKind returns the error kind or the empty string on success.
func (r *Result) ErrorKind() ErrorKind {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Kind
}

// OutputJSON encodes the output value.
func (r *Result) OutputJSON() ([]byte, error) {
	return json.Marshal(r.Output)
}

// DurationMillis rounds up to whole milliseconds with a floor of one, so a
// completed execution never reports zero.
func DurationMillis(d time.Duration) uint64 {
	if d <= 0 {
		return 1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		return 1
	}
	return uint64(ms)
}

func nonNilLogs(logs []LogEntry) []LogEntry {
	if logs == nil {
		return []LogEntry{}
	}
	return logs
}
