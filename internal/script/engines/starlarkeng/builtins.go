package starlarkeng

import (
	"context"
	"fmt"
	"slices"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/script/hostcap"
	"github.com/atlanticdynamic/mcpverify/internal/script/logcapture"
	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Names every script can see, in addition to the Starlark universe.
var predeclaredNames = []string{
	"context", "request", "response", "metadata",
	"log", "expect", "print",
	"json", "math", "time", "fs", "http",
}

// deniedBuiltin marks a builtin that stands in for a removed capability.
type deniedBuiltin struct {
	*starlark.Builtin
}

// environment assembles the predeclared names of one execution.
type environment struct {
	ctx   context.Context
	buf   *logcapture.Buffer
	guard *hostcap.Guard
}

func (env *environment) build(sctx *script.Context) (starlark.StringDict, error) {
	request, err := toStarlark(sctx.Request)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	response, err := toStarlark(sctx.Response)
	if err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}
	metadata, err := toStarlark(sctx.MetadataMap())
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	logFn := starlark.NewBuiltin("log", env.log)
	expectFn := starlark.NewBuiltin("expect", expect)

	contextStruct := starlarkstruct.FromStringDict(starlark.String("context"), starlark.StringDict{
		"request":  request,
		"response": response,
		"metadata": metadata,
		"log":      logFn,
		"expect":   expectFn,
	})
	contextStruct.Freeze()

	return starlark.StringDict{
		"context":  contextStruct,
		"request":  request,
		"response": response,
		"metadata": metadata,
		"log":      logFn,
		"expect":   expectFn,
		"print":    starlark.NewBuiltin("print", env.print),
		"json":     starjson.Module,
		"math":     starmath.Module,
		"time":     startime.Module,
		"fs":       env.fsModule(),
		"http":     env.httpModule(),
	}, nil
}

// verify checks that every capability the policy removes is backed by a
// denial stub before the script runs.
func (env *environment) verify(globals starlark.StringDict) error {
	checks := []struct {
		module  string
		allowed bool
	}{
		{"fs", env.guard.FilesystemAllowed()},
		{"http", env.guard.NetworkAllowed()},
	}
	for _, check := range checks {
		if check.allowed {
			continue
		}
		mod, ok := globals[check.module].(*starlarkstruct.Module)
		if !ok {
			return fmt.Errorf("sandbox module %q missing", check.module)
		}
		for name, member := range mod.Members {
			if _, denied := member.(deniedBuiltin); !denied {
				return fmt.Errorf("sandbox member %s.%s is not denied", check.module, name)
			}
		}
	}
	return nil
}

func (env *environment) print(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, valueString(arg))
	}
	env.buf.Print(parts...)
	return starlark.None, nil
}

func (env *environment) log(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		level   string
		message starlark.Value
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "level", &level, "message", &message); err != nil {
		return nil, err
	}
	env.buf.Capture(script.ParseLogLevel(level), valueString(message))
	return starlark.None, nil
}

func expect(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		cond    starlark.Value
		message = "expectation failed"
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "condition", &cond, "message?", &message); err != nil {
		return nil, err
	}
	if !cond.Truth() {
		return nil, fmt.Errorf("assertion failed: %s", message)
	}
	return starlark.True, nil
}

func (env *environment) deny(operation string) starlark.Value {
	return deniedBuiltin{starlark.NewBuiltin(operation, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, env.guard.Deny(operation)
	})}
}

func (env *environment) fsModule() *starlarkstruct.Module {
	if !env.guard.FilesystemAllowed() {
		return &starlarkstruct.Module{Name: "fs", Members: starlark.StringDict{
			"read":   env.deny(hostcap.OpFileRead),
			"write":  env.deny(hostcap.OpFileWrite),
			"exists": env.deny(hostcap.OpFileExists),
		}}
	}
	return &starlarkstruct.Module{Name: "fs", Members: starlark.StringDict{
		"read": starlark.NewBuiltin("fs.read", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
				return nil, err
			}
			content, err := env.guard.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return starlark.String(content), nil
		}),
		"write": starlark.NewBuiltin("fs.write", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path, content string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
				return nil, err
			}
			return starlark.None, env.guard.WriteFile(path, content)
		}),
		"exists": starlark.NewBuiltin("fs.exists", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
				return nil, err
			}
			ok, err := env.guard.Exists(path)
			if err != nil {
				return nil, err
			}
			return starlark.Bool(ok), nil
		}),
	}}
}

func (env *environment) httpModule() *starlarkstruct.Module {
	if !env.guard.NetworkAllowed() {
		return &starlarkstruct.Module{Name: "http", Members: starlark.StringDict{
			"get": env.deny(hostcap.OpHTTPGet),
		}}
	}
	return &starlarkstruct.Module{Name: "http", Members: starlark.StringDict{
		"get": starlark.NewBuiltin("http.get", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var url string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url); err != nil {
				return nil, err
			}
			resp, err := env.guard.HTTPGet(env.ctx, url)
			if err != nil {
				return nil, err
			}
			return starlarkstruct.FromStringDict(starlark.String("response"), starlark.StringDict{
				"status": starlark.MakeInt(resp.Status),
				"body":   starlark.String(resp.Body),
				"ok":     starlark.Bool(resp.Status >= 200 && resp.Status < 300),
			}), nil
		}),
	}}
}

func isPredeclared(name string) bool {
	return slices.Contains(predeclaredNames, name)
}
