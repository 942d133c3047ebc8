package jseng

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newContext(t *testing.T, request, response any) *script.Context {
	t.Helper()
	sctx, err := script.NewContext(request, response, script.Metadata{
		TestName: "javascript test",
		ToolName: "echo",
		ServerInfo: &script.ServerInfo{
			Name:    "test-server",
			Version: "1.2.3",
		},
	}, script.DefaultConfig())
	require.NoError(t, err)
	return sctx
}

func newEngine(t *testing.T, cfg script.Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

func TestExecuteSuccess(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	tests := []struct {
		name   string
		source string
		want   any
	}{
		{
			name:   "top level return",
			source: `return { success: true, message: "ok" };`,
			want:   map[string]any{"success": true, "message": "ok"},
		},
		{
			name:   "completion value",
			source: `({ count: request.items.length })`,
			want:   map[string]any{"count": float64(3)},
		},
		{
			name:   "result global",
			source: `var result = { sum: request.items.reduce(function (a, b) { return a + b; }, 0) };`,
			want:   map[string]any{"sum": float64(6)},
		},
		{
			name:   "assert returns true",
			source: `return assert(request.items.length === 3, "three items") && expect(true);`,
			want:   true,
		},
		{
			name:   "no result",
			source: `var x = 1;`,
			want:   nil,
		},
		{
			name: "context object and helpers",
			source: `
const doubled = context.request.items.map((x) => x * 2);
assert(doubled[0] === 2, "first item");
expect(metadata.tool_name === "echo");
return { doubled, server: metadata.server_info.name };
`,
			want: map[string]any{
				"doubled": []any{float64(2), float64(4), float64(6)},
				"server":  "test-server",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sctx := newContext(t, map[string]any{"items": []any{1, 2, 3}}, nil)
			res := e.Execute(t.Context(), tt.source, sctx)
			require.Nil(t, res.Error, "unexpected error: %v", res.Error)
			assert.True(t, res.Success)
			assert.Positive(t, res.DurationMs)
			assert.Equal(t, tt.want, res.Output)
		})
	}
}

func TestExecuteResponse(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	sctx := newContext(t, map[string]any{}, map[string]any{"content": []any{map[string]any{"text": "hi"}}})
	res := e.Execute(t.Context(), `return { text: response.content[0].text };`, sctx)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, map[string]any{"text": "hi"}, res.Output)

	res = e.Execute(t.Context(), `return response === null;`, newContext(t, map[string]any{}, nil))
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, true, res.Output)
}

func TestConsoleCapturesLogs(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	source := `
console.log("first", 1);
console.warn({ a: 1 });
console.error("third");
print("fourth", "x");
log("debug", "fifth");
`
	res := e.Execute(t.Context(), source, newContext(t, nil, nil))
	require.True(t, res.Success, "error: %v", res.Error)
	require.Len(t, res.Logs, 5)

	assert.Equal(t, script.LogEntry{Level: script.LevelInfo, Message: "first 1", Timestamp: res.Logs[0].Timestamp}, res.Logs[0])
	assert.Equal(t, script.LevelWarn, res.Logs[1].Level)
	assert.JSONEq(t, `{"a":1}`, res.Logs[1].Message)
	assert.Equal(t, script.LevelError, res.Logs[2].Level)
	assert.Equal(t, "fourth\tx", res.Logs[3].Message)
	assert.Equal(t, script.LevelDebug, res.Logs[4].Level)
}

func TestTimeout(t *testing.T) {
	cfg := script.DefaultConfig().WithTimeout(100)
	e := newEngine(t, cfg)
	sctx := newContext(t, nil, nil)
	sctx.Config = cfg

	start := time.Now()
	res := e.Execute(t.Context(), `while (true) {}`, sctx)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, script.NewTimeoutError(100), res.Error)

	next := e.Execute(t.Context(), `return { success: true };`, sctx)
	assert.True(t, next.Success, "engine must be usable after a timeout: %v", next.Error)
}

func TestDynamicCodeIsDenied(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	tests := []struct {
		name   string
		source string
		op     string
	}{
		{"eval", `eval("1 + 1")`, "eval"},
		{"function constructor", `new Function("return 1")()`, "Function"},
		{"constructor escape", `(function () {}).constructor("return this")()`, "Function"},
		{"arrow constructor escape", `(() => 1).constructor("return 1")()`, "Function"},
		{"generator constructor escape", `(function* () {}).constructor("yield 1")`, "Function"},
		{"read file", `fs.readFile("/etc/passwd")`, "fs.read"},
		{"write file", `fs.writeFile("/tmp/x", "y")`, "fs.write"},
		{"network", `http.get("http://example.com")`, "http.get"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(t.Context(), tt.source, newContext(t, nil, nil))
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.ErrorIs(t, res.Error, script.ErrSecurity)
			assert.Equal(t, tt.op, res.Error.Operation)
		})
	}
}

func TestCaughtDenialIsStillReported(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	source := `
try { eval("1"); } catch (e) {}
return { success: true };
`
	res := e.Execute(t.Context(), source, newContext(t, nil, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindSecurity, res.Error.Kind)
}

func TestFilesystemAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	e := newEngine(t, script.PermissiveConfig())
	res := e.Execute(t.Context(), `return fs.readFile(request.path);`, newContext(t, map[string]any{"path": path}, nil))
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, "payload", res.Output)
}

func TestSyntaxErrors(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	tests := []struct {
		name   string
		source string
	}{
		{"unclosed paren", "var x = 1;\nvar y = (;\n"},
		{"bad token in returning script", "return {\n  a: ,\n};"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(t.Context(), tt.source, newContext(t, nil, nil))
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, script.KindSyntax, res.Error.Kind)
			assert.Equal(t, 2, res.Error.Line)
			assert.ErrorIs(t, e.ValidateSyntax(tt.source), script.ErrSyntax)
		})
	}

	assert.NoError(t, e.ValidateSyntax(`return { ok: true };`))
}

func TestRuntimeError(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	res := e.Execute(t.Context(), "var x = 1;\nthrow new Error(\"boom\");\n", newContext(t, nil, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindRuntime, res.Error.Kind)
	assert.Equal(t, "Error: boom", res.Error.Message)
	assert.Equal(t, 2, res.Error.Line)

	res = e.Execute(t.Context(), `assert(1 === 2, "math broke")`, newContext(t, nil, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindRuntime, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "assertion failed: math broke")

	res = e.Execute(t.Context(), `undefinedFunction()`, newContext(t, nil, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindRuntime, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "ReferenceError")
}

func TestContextIsImmutable(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	source := `"use strict";
request.items.push(4);
`
	res := e.Execute(t.Context(), source, newContext(t, map[string]any{"items": []any{1}}, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindRuntime, res.Error.Kind)

	res = e.Execute(t.Context(), `request.items[0] = 9; return request.items[0];`, newContext(t, map[string]any{"items": []any{1}}, nil))
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, float64(1), res.Output)
}

func TestStackExhaustion(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	tests := []struct {
		name   string
		source string
	}{
		{"unbounded recursion", `function f(n) { return f(n + 1) + 1; } f(0);`},
		{"recursion at top level return", `function g() { return g(); } return g();`},
		{"invalid array length", `new Array(-1);`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(t.Context(), tt.source, newContext(t, nil, nil))
			require.NotNil(t, res.Error)
			assert.Equal(t, script.KindMemoryLimit, res.Error.Kind, "message: %s", res.Error.Message)
			assert.ErrorIs(t, res.Error, script.ErrMemoryLimit)
		})
	}
}

func TestUnserializableResult(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	res := e.Execute(t.Context(), `var o = {}; o.self = o; return o;`, newContext(t, nil, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindSerialization, res.Error.Kind)
}

func TestMemoryLimit(t *testing.T) {
	limit := uint64(8)
	cfg := script.DefaultConfig()
	cfg.MemoryLimitMb = &limit
	e := newEngine(t, cfg)
	sctx := newContext(t, nil, nil)
	sctx.Config = cfg

	source := `
var chunks = [];
for (var i = 0; i < 100000000; i++) {
	chunks.push("x".repeat(4096) + i);
}
`
	res := e.Execute(t.Context(), source, sctx)
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindMemoryLimit, res.Error.Kind)
	assert.Equal(t, limit, res.Error.LimitMb)
}

func TestOutputTruncation(t *testing.T) {
	cfg := script.DefaultConfig()
	cfg.MaxOutputSize = 64
	e := newEngine(t, cfg)
	sctx := newContext(t, nil, nil)
	sctx.Config = cfg

	res := e.Execute(t.Context(), `return { data: "y".repeat(500) };`, sctx)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.True(t, res.Truncated)
	assert.Equal(t, true, res.Output.(map[string]any)["truncated"])
}

func TestPrecompile(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	compiled, err := e.Precompile(`return { n: request.n + 1 };`)
	require.NoError(t, err)
	assert.Equal(t, script.LanguageJavaScript, compiled.Language)

	for n := range 3 {
		res := e.ExecutePrecompiled(t.Context(), compiled, newContext(t, map[string]any{"n": n}, nil))
		require.True(t, res.Success, "error: %v", res.Error)
		assert.Equal(t, map[string]any{"n": float64(n + 1)}, res.Output)
	}

	_, err = e.Precompile("function (")
	assert.ErrorIs(t, err, script.ErrSyntax)

	res := e.ExecutePrecompiled(t.Context(), script.NewCompiledScript(script.LanguageStarlark, "", nil), newContext(t, nil, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindExecution, res.Error.Kind)
}

func TestNoStateLeaksBetweenRuns(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	res := e.Execute(t.Context(), `globalThis.leak = 42; return 1;`, newContext(t, nil, nil))
	require.True(t, res.Success, "error: %v", res.Error)

	res = e.Execute(t.Context(), `return typeof leak;`, newContext(t, nil, nil))
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, "undefined", res.Output)
}
