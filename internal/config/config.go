// Package config holds the operator configuration of mcpverify: logging,
// the script sandbox, the Python interpreter and the case runner. It is
// read from a versioned TOML file; every field has a default.
package config

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/harness"
	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/engines"
	"github.com/atlanticdynamic/mcpverify/internal/validation"
	"github.com/atlanticdynamic/mcpverify/internal/validation/scriptval"
)

const (
	// VersionLatest is the only supported config file version.
	VersionLatest = "v1"
	// VersionUnknown marks a config whose version was never set.
	VersionUnknown = "unknown"

	ProfileDefault    = "default"
	ProfilePermissive = "permissive"
)

// Config is the complete operator configuration.
type Config struct {
	Version string        `toml:"version"`
	Logging LoggingConfig `toml:"logging"`
	Scripts ScriptsConfig `toml:"scripts"`
	Python  PythonConfig  `toml:"python"`
	Runner  RunnerConfig  `toml:"runner"`
}

// ScriptsConfig is the sandbox every validation script runs in. Unset
// limits fall back to the chosen profile.
type ScriptsConfig struct {
	// Profile selects the base limits: "default" or "permissive".
	Profile           string            `toml:"profile"`
	TimeoutMs         uint64            `toml:"timeout_ms"`
	MemoryLimitMb     *uint64           `toml:"memory_limit_mb"`
	MaxOutputSize     int               `toml:"max_output_size"`
	AllowNetwork      *bool             `toml:"allow_network"`
	AllowFilesystem   *bool             `toml:"allow_filesystem"`
	FailOnScriptError bool              `toml:"fail_on_script_error"`
	CaptureLogs       *bool             `toml:"capture_logs"`
	Environment       map[string]string `toml:"environment"          env_interpolation:"yes"`
}

// PythonConfig locates the interpreter of the Python engine.
type PythonConfig struct {
	Interpreter string `toml:"interpreter" env_interpolation:"yes"`
}

// RunnerConfig tunes how suites are executed.
type RunnerConfig struct {
	Concurrency int      `toml:"concurrency"`
	CaseTimeout Duration `toml:"case_timeout"`
	StrictMode  bool     `toml:"strict_mode"`
	MaxErrors   int      `toml:"max_errors"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Version: VersionLatest,
		Logging: LoggingConfig{Format: LogFormatText, Level: LogLevelInfo, Output: "stderr"},
		Scripts: ScriptsConfig{Profile: ProfileDefault},
		Runner:  RunnerConfig{Concurrency: harness.DefaultConcurrency},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	if c.Version == "" {
		c.Version = VersionUnknown
	}
	if c.Version != VersionLatest {
		return fmt.Errorf("%w: %s", ErrUnsupportedConfigVer, c.Version)
	}

	var errs []error
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Scripts.Profile {
	case "", ProfileDefault, ProfilePermissive:
	default:
		errs = append(errs, fmt.Errorf("%w: scripts.profile %q", ErrInvalidValue, c.Scripts.Profile))
	}
	if c.Scripts.MemoryLimitMb != nil && *c.Scripts.MemoryLimitMb == 0 {
		errs = append(errs, fmt.Errorf("%w: scripts.memory_limit_mb must be greater than zero", ErrInvalidValue))
	}
	if c.Scripts.MaxOutputSize < 0 {
		errs = append(errs, fmt.Errorf("%w: scripts.max_output_size cannot be negative", ErrInvalidValue))
	}
	if c.Runner.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("%w: runner.concurrency cannot be negative", ErrInvalidValue))
	}
	if c.Runner.CaseTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: runner.case_timeout cannot be negative", ErrInvalidValue))
	}
	if c.Runner.MaxErrors < 0 {
		errs = append(errs, fmt.Errorf("%w: runner.max_errors cannot be negative", ErrInvalidValue))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToValidateConfig, err)
	}
	return nil
}

// ScriptConfig builds the sandbox configuration from the profile and the
// overrides that were set.
func (c *Config) ScriptConfig() script.Config {
	s := c.Scripts
	cfg := script.DefaultConfig()
	if s.Profile == ProfilePermissive {
		cfg = script.PermissiveConfig()
	}
	if s.TimeoutMs > 0 {
		cfg.TimeoutMs = s.TimeoutMs
	}
	if s.MemoryLimitMb != nil {
		limit := *s.MemoryLimitMb
		cfg.MemoryLimitMb = &limit
	}
	if s.MaxOutputSize > 0 {
		cfg.MaxOutputSize = s.MaxOutputSize
	}
	if s.AllowNetwork != nil {
		cfg.AllowNetwork = *s.AllowNetwork
	}
	if s.AllowFilesystem != nil {
		cfg.AllowFilesystem = *s.AllowFilesystem
	}
	if len(s.Environment) > 0 {
		cfg.EnvironmentVariables = maps.Clone(s.Environment)
	}
	return cfg
}

// ValidatorConfig builds the script validator configuration.
func (c *Config) ValidatorConfig() scriptval.Config {
	capture := true
	if c.Scripts.CaptureLogs != nil {
		capture = *c.Scripts.CaptureLogs
	}
	return scriptval.Config{
		Script:            c.ScriptConfig(),
		FailOnScriptError: c.Scripts.FailOnScriptError,
		CaptureLogs:       capture,
	}
}

// PipelineConfig builds the validation pipeline configuration.
func (c *Config) PipelineConfig() validation.Config {
	return validation.Config{StrictMode: c.Runner.StrictMode, MaxErrors: c.Runner.MaxErrors}
}

// EngineOptions builds the options of the default engine registry.
func (c *Config) EngineOptions() engines.Options {
	return engines.Options{PythonInterpreter: c.Python.Interpreter}
}

// ExecutorOptions builds the executor options the runner section asks for.
func (c *Config) ExecutorOptions() []harness.Option {
	opts := []harness.Option{
		harness.WithPipelineConfig(c.PipelineConfig()),
		harness.WithConcurrency(c.Runner.Concurrency),
	}
	if c.Runner.CaseTimeout > 0 {
		opts = append(opts, harness.WithCaseTimeout(time.Duration(c.Runner.CaseTimeout)))
	}
	return opts
}
