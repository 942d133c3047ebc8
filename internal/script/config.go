// Package script holds the vocabulary shared by every script engine: the
// sandbox configuration, the per-execution context handed to a script, the
// normalized result, and the error taxonomy.
package script

import (
	"fmt"
	"maps"
	"time"
)

const (
	// DefaultTimeoutMs is the wall-clock budget of a single execution.
	DefaultTimeoutMs uint64 = 5000
	// DefaultMemoryLimitMb is the memory ceiling of a single execution.
	DefaultMemoryLimitMb uint64 = 100
	// DefaultMaxOutputSize caps the encoded output and the captured logs, in bytes.
	DefaultMaxOutputSize = 1 << 20

	permissiveTimeoutMs     uint64 = 30000
	permissiveMemoryLimitMb uint64 = 500
	permissiveMaxOutputSize        = 10 << 20
)

// Config describes the sandbox one engine instance runs scripts in.
type Config struct {
	TimeoutMs            uint64            `json:"timeout_ms"`
	MemoryLimitMb        *uint64           `json:"memory_limit_mb,omitempty"`
	MaxOutputSize        int               `json:"max_output_size"`
	AllowNetwork         bool              `json:"allow_network"`
	AllowFilesystem      bool              `json:"allow_filesystem"`
	EnvironmentVariables map[string]string `json:"environment_variables,omitempty"`
}

// DefaultConfig returns the restrictive configuration used when nothing else is set.
func DefaultConfig() Config {
	limit := DefaultMemoryLimitMb
	return Config{
		TimeoutMs:     DefaultTimeoutMs,
		MemoryLimitMb: &limit,
		MaxOutputSize: DefaultMaxOutputSize,
	}
}

// PermissiveConfig returns a configuration with generous limits and both
// network and filesystem access enabled. Intended for trusted scripts only.
func PermissiveConfig() Config {
	limit := permissiveMemoryLimitMb
	return Config{
		TimeoutMs:       permissiveTimeoutMs,
		MemoryLimitMb:   &limit,
		MaxOutputSize:   permissiveMaxOutputSize,
		AllowNetwork:    true,
		AllowFilesystem: true,
	}
}

// Validate reports the first invalid value as an execution error.
func (c Config) Validate() error {
	if c.TimeoutMs == 0 {
		return NewExecutionError("invalid script config: timeout_ms must be greater than zero")
	}
	if c.MemoryLimitMb != nil && *c.MemoryLimitMb == 0 {
		return NewExecutionError("invalid script config: memory_limit_mb must be greater than zero")
	}
	if c.MaxOutputSize <= 0 {
		return NewExecutionError("invalid script config: max_output_size must be greater than zero")
	}
	return nil
}

// Timeout returns the timeout as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// MemoryLimitBytes returns the memory ceiling in bytes, or zero when unlimited.
func (c Config) MemoryLimitBytes() uint64 {
	if c.MemoryLimitMb == nil {
		return 0
	}
	return *c.MemoryLimitMb << 20
}

// WithTimeout returns a copy of the config using the given timeout.
func (c Config) WithTimeout(ms uint64) Config {
	out := c.Clone()
	out.TimeoutMs = ms
	return out
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	if c.MemoryLimitMb != nil {
		limit := *c.MemoryLimitMb
		out.MemoryLimitMb = &limit
	}
	if c.EnvironmentVariables != nil {
		out.EnvironmentVariables = maps.Clone(c.EnvironmentVariables)
	}
	return out
}

// Limits picks the per-execution limits: the context's embedded config
// when it validates, the engine's own config otherwise. Sandbox flags and
// environment always come from the engine config.
func (c Config) Limits(sctx *Context) Config {
	out := c.Clone()
	if sctx == nil || sctx.Config.Validate() != nil {
		return out
	}
	out.TimeoutMs = sctx.Config.TimeoutMs
	out.MaxOutputSize = sctx.Config.MaxOutputSize
	if sctx.Config.MemoryLimitMb != nil {
		limit := *sctx.Config.MemoryLimitMb
		out.MemoryLimitMb = &limit
	}
	return out
}

func (c Config) String() string {
	memory := "unlimited"
	if c.MemoryLimitMb != nil {
		memory = fmt.Sprintf("%dMB", *c.MemoryLimitMb)
	}
	return fmt.Sprintf(
		"Config(timeout=%dms, memory=%s, output=%dB, network=%t, filesystem=%t)",
		c.TimeoutMs, memory, c.MaxOutputSize, c.AllowNetwork, c.AllowFilesystem,
	)
}
