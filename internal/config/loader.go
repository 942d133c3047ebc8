package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/atlanticdynamic/mcpverify/internal/interpolation"
	gotoml "github.com/pelletier/go-toml/v2"
)

// Load reads and validates the TOML config at path. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if ext := filepath.Ext(path); ext != ".toml" {
		return nil, fmt.Errorf("%w: '%s', only .toml is supported", ErrUnsupportedExtension, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	cfg, err := FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FromBytes decodes TOML over the defaults, expands ${VAR} references in
// tagged fields and validates the result. Unknown keys are rejected.
func FromBytes(data []byte) (*Config, error) {
	var versionCheck struct {
		Version string `toml:"version"`
	}
	if err := gotoml.Unmarshal(data, &versionCheck); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	if versionCheck.Version == "" {
		versionCheck.Version = VersionLatest
	}
	if versionCheck.Version != VersionLatest {
		return nil, fmt.Errorf("version %s is not supported: %w", versionCheck.Version, ErrUnsupportedConfigVer)
	}

	cfg := Default()
	dec := gotoml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *gotoml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s", ErrFailedToLoadConfig, strict.String())
		}
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	cfg.Version = versionCheck.Version

	if err := interpolation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
