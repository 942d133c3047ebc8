package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as a Go duration string in TOML,
// such as "30s" or "1m30s".
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// AsDuration converts a config.Duration to a time.Duration
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// MarshalText writes the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a duration string; empty means zero.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %w", ErrInvalidValue, text, err)
	}
	*d = Duration(parsed)
	return nil
}
