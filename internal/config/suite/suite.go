// Package suite loads test suite files: the server to launch, the
// validation scripts, and the test cases that call tools and reference
// scripts by name.
//
// A suite is TOML:
//
//	name = "echo server"
//
//	[server]
//	command = "./echo-server"
//	args = ["--stdio"]
//
//	[[scripts]]
//	name = "echo_matches"
//	language = "starlark"
//	execution_phase = "after"
//	required = true
//	source_file = "scripts/echo_matches.star"
//
//	[[cases]]
//	name = "echo hello"
//	tool = "echo"
//	input = { message = "hello" }
//	scripts = ["echo_matches"]
//
//	[cases.expect]
//	error = false
//
//	[[cases.expect.fields]]
//	path = "$.content[0].text"
//	equals = "hello"
package suite

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/atlanticdynamic/mcpverify/internal/config/errz"
	"github.com/atlanticdynamic/mcpverify/internal/harness"
	"github.com/atlanticdynamic/mcpverify/internal/interpolation"
	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/validation"
	"github.com/atlanticdynamic/mcpverify/internal/validation/scriptval"
	gotoml "github.com/pelletier/go-toml/v2"
)

// Suite is one loaded suite file.
type Suite struct {
	Name    string   `toml:"name"    env_interpolation:"yes"`
	Server  Server   `toml:"server"`
	Scripts []Script `toml:"scripts"`
	Cases   []Case   `toml:"cases"`

	// BaseDir is where relative paths resolve; the suite file's directory.
	BaseDir string `toml:"-"`
}

// Server describes how to launch the MCP server under test over stdio.
type Server struct {
	Command string            `toml:"command" env_interpolation:"yes"`
	Args    []string          `toml:"args"    env_interpolation:"yes"`
	Env     map[string]string `toml:"env"     env_interpolation:"yes"`
	Dir     string            `toml:"dir"     env_interpolation:"yes"`
}

// Script is a validation script declaration.
type Script struct {
	Name     string `toml:"name"`
	Language string `toml:"language"`
	// Phase is before, after or both; empty means after.
	Phase      string `toml:"execution_phase"`
	Required   bool   `toml:"required"`
	Source     string `toml:"source"`
	SourceFile string `toml:"source_file" env_interpolation:"yes"`
	TimeoutMs  uint64 `toml:"timeout_ms"`
}

// Case is one tool invocation.
type Case struct {
	Name     string                   `toml:"name"`
	Tool     string                   `toml:"tool"`
	Input    map[string]any           `toml:"input"`
	Scripts  []string                 `toml:"scripts"`
	Metadata map[string]string        `toml:"metadata" env_interpolation:"yes"`
	Expect   *validation.Expectations `toml:"expect"`
}

// Load reads, resolves and validates the suite at path.
func Load(path string) (*Suite, error) {
	if ext := filepath.Ext(path); ext != ".toml" {
		return nil, fmt.Errorf("%w: '%s', only .toml is supported", errz.ErrUnsupportedExtension, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errz.ErrFailedToLoadConfig, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errz.ErrFailedToLoadConfig, err)
	}
	s, err := FromBytes(data, filepath.Dir(abs))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// FromBytes decodes a suite whose relative paths resolve against baseDir.
// Script source files are read before validation.
func FromBytes(data []byte, baseDir string) (*Suite, error) {
	s := &Suite{}
	dec := gotoml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		var strict *gotoml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s", errz.ErrFailedToLoadConfig, strict.String())
		}
		return nil, fmt.Errorf("%w: %w", errz.ErrFailedToLoadConfig, err)
	}
	s.BaseDir = baseDir

	if err := interpolation.Struct(s); err != nil {
		return nil, fmt.Errorf("%w: %w", errz.ErrFailedToLoadConfig, err)
	}
	if err := s.resolveSources(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Suite) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || s.BaseDir == "" {
		return path
	}
	return filepath.Join(s.BaseDir, path)
}

// resolveSources inlines every source_file.
func (s *Suite) resolveSources() error {
	var errs []error
	for i := range s.Scripts {
		sc := &s.Scripts[i]
		if sc.SourceFile == "" {
			continue
		}
		if sc.Source != "" {
			errs = append(errs, fmt.Errorf("%w: script %q", errz.ErrAmbiguousSource, sc.Name))
			continue
		}
		data, err := os.ReadFile(s.resolve(sc.SourceFile))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: script %q: %w", errz.ErrSourceFile, sc.Name, err))
			continue
		}
		sc.Source = string(data)
	}
	return errors.Join(errs...)
}

// Validate reports every problem in the suite at once.
func (s *Suite) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Server.Command) == "" {
		errs = append(errs, fmt.Errorf("%w: server.command", errz.ErrMissingRequiredField))
	}

	scripts := make(map[string]bool, len(s.Scripts))
	for i, sc := range s.Scripts {
		if err := sc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scripts[%d]: %w", i, err))
		}
		if sc.Name == "" {
			continue
		}
		if scripts[sc.Name] {
			errs = append(errs, fmt.Errorf("%w: script %q", errz.ErrDuplicateName, sc.Name))
		}
		scripts[sc.Name] = true
	}

	if len(s.Cases) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one case", errz.ErrMissingRequiredField))
	}
	cases := make(map[string]bool, len(s.Cases))
	for i, c := range s.Cases {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("cases[%d]: %w", i, errz.ErrEmptyName))
		} else if cases[c.Name] {
			errs = append(errs, fmt.Errorf("%w: case %q", errz.ErrDuplicateName, c.Name))
		}
		cases[c.Name] = true
		if c.Tool == "" {
			errs = append(errs, fmt.Errorf("%w: case %q: tool", errz.ErrMissingRequiredField, c.Name))
		}
		for _, ref := range c.Scripts {
			if !scripts[ref] {
				errs = append(errs, fmt.Errorf("%w: case %q: %w: %q",
					errz.ErrInvalidReference, c.Name, scriptval.ErrScriptNotFound, ref))
			}
		}
		if c.Expect != nil {
			for _, rule := range c.Expect.Fields {
				if _, err := validation.GJSONPath(rule.Path); err != nil {
					errs = append(errs, fmt.Errorf("case %q: %w", c.Name, err))
				}
			}
			if c.Expect.Schema != nil {
				if _, err := validation.CompileSchema(c.Expect.Schema); err != nil {
					errs = append(errs, fmt.Errorf("case %q: %w", c.Name, err))
				}
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", errz.ErrFailedToValidateConfig, err)
	}
	return nil
}

// Validate checks one declaration.
func (sc Script) Validate() error {
	var errs []error
	if strings.TrimSpace(sc.Name) == "" {
		errs = append(errs, errz.ErrEmptyName)
	}
	if _, err := script.ParseLanguage(sc.Language); err != nil {
		errs = append(errs, fmt.Errorf("%w: %q", errz.ErrUnknownLanguage, sc.Language))
	}
	if strings.TrimSpace(sc.Source) == "" {
		errs = append(errs, fmt.Errorf("%w: %q", errz.ErrEmptySource, sc.Name))
	}
	if !strings.EqualFold(strings.TrimSpace(sc.Phase), scriptval.PhaseBoth) {
		if _, err := validation.ParsePhase(sc.Phase); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", errz.ErrInvalidValue, err))
		}
	}
	return errors.Join(errs...)
}

// ValidationScripts converts the declarations for the script validator.
func (s *Suite) ValidationScripts() ([]scriptval.Script, error) {
	out := make([]scriptval.Script, 0, len(s.Scripts))
	for _, sc := range s.Scripts {
		lang, err := script.ParseLanguage(sc.Language)
		if err != nil {
			return nil, err
		}
		out = append(out, scriptval.Script{
			Name:      sc.Name,
			Language:  lang,
			Phase:     sc.Phase,
			Required:  sc.Required,
			Source:    sc.Source,
			TimeoutMs: sc.TimeoutMs,
		})
	}
	return out, nil
}

// TestCases converts the cases for the executor. Suite-level metadata is
// added under "suite".
func (s *Suite) TestCases() []harness.TestCase {
	out := make([]harness.TestCase, 0, len(s.Cases))
	for _, c := range s.Cases {
		meta := make(map[string]string, len(c.Metadata)+1)
		maps.Copy(meta, c.Metadata)
		if s.Name != "" {
			meta["suite"] = s.Name
		}
		out = append(out, harness.TestCase{
			Name:      c.Name,
			Tool:      c.Tool,
			Arguments: c.Input,
			Scripts:   append([]string(nil), c.Scripts...),
			Expect:    c.Expect,
			Metadata:  meta,
		})
	}
	return out
}

// Command returns the server command with its working directory resolved.
func (s *Suite) Command() (name string, args []string, env []string, dir string) {
	name = s.Server.Command
	if strings.ContainsRune(name, filepath.Separator) && !filepath.IsAbs(name) {
		name = s.resolve(name)
	}
	dir = s.BaseDir
	if s.Server.Dir != "" {
		dir = s.resolve(s.Server.Dir)
	}
	for _, k := range slices.Sorted(maps.Keys(s.Server.Env)) {
		env = append(env, k+"="+s.Server.Env[k])
	}
	return name, append([]string(nil), s.Server.Args...), env, dir
}
