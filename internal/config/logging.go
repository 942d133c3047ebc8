package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/atlanticdynamic/mcpverify/internal/logging/writers"
)

// LoggingConfig contains logging-related configuration options
type LoggingConfig struct {
	Format LogFormat `toml:"format"`
	Level  LogLevel  `toml:"level"`
	// Output is stdout, stderr, or a file path (optionally file://).
	Output string `toml:"output" env_interpolation:"yes"`
}

// LogFormat represents the logging output format
type LogFormat string

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LogFormatUnspecified LogFormat = ""
	LogFormatText        LogFormat = "text"
	LogFormatJSON        LogFormat = "json"
)

const (
	LogLevelUnspecified LogLevel = ""
	LogLevelTrace       LogLevel = "trace"
	LogLevelDebug       LogLevel = "debug"
	LogLevelInfo        LogLevel = "info"
	LogLevelWarn        LogLevel = "warn"
	LogLevelError       LogLevel = "error"
)

func (f LogFormat) String() string {
	return string(f)
}

func (l LogLevel) String() string {
	return string(l)
}

// UnmarshalText accepts "txt" as an alias of text.
func (f *LogFormat) UnmarshalText(text []byte) error {
	parsed, err := LogFormatFromString(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// UnmarshalText accepts "warning" as an alias of warn.
func (l *LogLevel) UnmarshalText(text []byte) error {
	parsed, err := LogLevelFromString(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LogFormatFromString converts a string to a LogFormat
func LogFormatFromString(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return LogFormatJSON, nil
	case "text", "txt":
		return LogFormatText, nil
	case "":
		return LogFormatUnspecified, nil
	default:
		return LogFormatUnspecified, fmt.Errorf("%w: unknown log format: %s", ErrInvalidValue, format)
	}
}

// LogLevelFromString converts a string to a LogLevel
func LogLevelFromString(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "":
		return LogLevelUnspecified, nil
	default:
		return LogLevelUnspecified, fmt.Errorf("%w: unknown log level: %s", ErrInvalidValue, level)
	}
}

// Validate checks the format, level and output.
func (lc LoggingConfig) Validate() error {
	var errs []error
	if _, err := LogFormatFromString(lc.Format.String()); err != nil {
		errs = append(errs, fmt.Errorf("logging.format: %w", err))
	}
	if _, err := LogLevelFromString(lc.Level.String()); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if err := writers.Validate(lc.Output); err != nil {
		errs = append(errs, fmt.Errorf("%w: logging.output: %w", ErrInvalidValue, err))
	}
	return errors.Join(errs...)
}
