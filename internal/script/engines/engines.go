// Package engines wires the built-in script engines into a registry.
package engines

import (
	"log/slog"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/engines/jseng"
	"github.com/atlanticdynamic/mcpverify/internal/script/engines/pyeng"
	"github.com/atlanticdynamic/mcpverify/internal/script/engines/starlarkeng"
)

// Options tune the built-in engines.
type Options struct {
	// LogHandler receives engine diagnostics; nil uses slog.Default.
	LogHandler slog.Handler
	// PythonInterpreter pins the interpreter; empty searches PATH.
	PythonInterpreter string
}

// NewRegistry returns a registry holding Starlark, JavaScript and Python.
// The Python factory reports a missing interpreter when an engine is
// requested, not here.
func NewRegistry(opts Options) (*script.Registry, error) {
	reg := script.NewRegistry()
	if err := Register(reg, opts); err != nil {
		return nil, err
	}
	return reg, nil
}

// Register adds the built-in factories to reg.
func Register(reg *script.Registry, opts Options) error {
	factories := map[script.Language]script.Factory{
		script.LanguageStarlark: func(cfg script.Config) (script.Engine, error) {
			return starlarkeng.New(cfg, starlarkeng.WithLogHandler(opts.LogHandler))
		},
		script.LanguageJavaScript: func(cfg script.Config) (script.Engine, error) {
			return jseng.New(cfg, jseng.WithLogHandler(opts.LogHandler))
		},
		script.LanguagePython: func(cfg script.Config) (script.Engine, error) {
			return pyeng.New(cfg,
				pyeng.WithLogHandler(opts.LogHandler),
				pyeng.WithInterpreter(opts.PythonInterpreter),
			)
		},
	}
	for _, lang := range []script.Language{script.LanguageStarlark, script.LanguageJavaScript, script.LanguagePython} {
		if err := reg.Register(lang, factories[lang]); err != nil {
			return err
		}
	}
	return nil
}
