package starlarkeng

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
		TestName: "starlark test",
		ToolName: "echo",
		ServerInfo: &script.ServerInfo{
			Name:         "test-server",
			Version:      "1.2.3",
			Capabilities: []string{"tools"},
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

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := script.DefaultConfig()
	cfg.TimeoutMs = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, script.ErrExecution)
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
			source: `return {"success": True, "message": "ok"}`,
			want:   map[string]any{"success": true, "message": "ok"},
		},
		{
			name:   "result global",
			source: "result = {\"count\": len(request[\"items\"])}\n",
			want:   map[string]any{"count": float64(3)},
		},
		{
			name:   "no result",
			source: "x = 1\n",
			want:   nil,
		},
		{
			name: "return inside control flow",
			source: `
total = 0
for item in request["items"]:
    total += item
if total > 5:
    return {"total": total}
return {"total": 0}
`,
			want: map[string]any{"total": float64(6)},
		},
		{
			name: "helper functions and context struct",
			source: `
def double(x):
    return x * 2

expect(context.request["items"][0] == 1, "first item")
return {"doubled": double(context.request["items"][2]), "tool": metadata["tool_name"]}
`,
			want: map[string]any{"doubled": float64(6), "tool": "echo"},
		},
		{
			name:   "json module",
			source: `return json.decode(json.encode({"a": [1, 2]}))`,
			want:   map[string]any{"a": []any{float64(1), float64(2)}},
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

	res := e.Execute(t.Context(), `return {"text": response["content"][0]["text"], "has": response != None}`, sctx)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, map[string]any{"text": "hi", "has": true}, res.Output)

	before := newContext(t, map[string]any{}, nil)
	res = e.Execute(t.Context(), `return response == None`, before)
	require.True(t, res.Success)
	assert.Equal(t, true, res.Output)
}

func TestPrintCapturesLogs(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	source := `
print("first")
print("second", 2)
print("third")
`
	res := e.Execute(t.Context(), source, newContext(t, nil, nil))
	require.True(t, res.Success)
	require.Len(t, res.Logs, 3)
	assert.Equal(t, "first", res.Logs[0].Message)
	assert.Equal(t, "second\t2", res.Logs[1].Message)
	assert.Equal(t, "third", res.Logs[2].Message)
	for _, entry := range res.Logs {
		assert.Equal(t, script.LevelInfo, entry.Level)
	}
}

func TestLogHelper(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	res := e.Execute(t.Context(), `log("warning", "careful")`, newContext(t, nil, nil))
	require.True(t, res.Success)
	require.Len(t, res.Logs, 1)
	assert.Equal(t, script.LevelWarn, res.Logs[0].Level)
	assert.Equal(t, "careful", res.Logs[0].Message)
}

func TestTimeout(t *testing.T) {
	cfg := script.DefaultConfig().WithTimeout(100)
	e := newEngine(t, cfg)
	sctx := newContext(t, nil, nil)
	sctx.Config = cfg

	start := time.Now()
	res := e.Execute(t.Context(), "while True:\n    pass\n", sctx)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, script.NewTimeoutError(100), res.Error)

	next := e.Execute(t.Context(), `return {"success": True}`, sctx)
	assert.True(t, next.Success, "engine must be usable after a timeout: %v", next.Error)
}

func TestSecurityDenial(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	tests := []struct {
		name   string
		source string
		op     string
	}{
		{"read file", `fs.read("/etc/passwd")`, "fs.read"},
		{"write file", `fs.write("/tmp/x", "data")`, "fs.write"},
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

func TestFilesystemAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o600))

	e := newEngine(t, script.PermissiveConfig())
	res := e.Execute(t.Context(), `return fs.read(request["path"])`, newContext(t, map[string]any{"path": path}, nil))
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, "payload", res.Output)
}

func TestSyntaxErrors(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	tests := []struct {
		name   string
		source string
		line   int
	}{
		{"bad token", "x = 1\ny = (\n", 3},
		{"unknown name", "x = 1\nreturn undefined_name\n", 2},
		{"bad indent", "if True:\nprint('x')\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Execute(t.Context(), tt.source, newContext(t, nil, nil))
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, script.KindSyntax, res.Error.Kind)
			assert.Positive(t, res.Error.Line)
			assert.LessOrEqual(t, res.Error.Line, tt.line)

			assert.ErrorIs(t, e.ValidateSyntax(tt.source), script.ErrSyntax)
		})
	}

	assert.NoError(t, e.ValidateSyntax(`return {"ok": True}`))
}

func TestRuntimeError(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	res := e.Execute(t.Context(), "x = 1\nfail(\"boom\")\n", newContext(t, nil, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindRuntime, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "boom")
	assert.Equal(t, 2, res.Error.Line)

	res = e.Execute(t.Context(), `expect(1 == 2, "math broke")`, newContext(t, nil, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindRuntime, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "math broke")
}

func TestContextIsImmutable(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	res := e.Execute(t.Context(), `request["items"].append(4)`, newContext(t, map[string]any{"items": []any{1}}, nil))
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindRuntime, res.Error.Kind)
}

func TestUnserializableResult(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	res := e.Execute(t.Context(), `return {"fn": len}`, newContext(t, nil, nil))
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
chunks = []
for i in range(100000000):
    chunks.append("x" * 4096 + str(i))
`
	res := e.Execute(t.Context(), source, sctx)
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindMemoryLimit, res.Error.Kind)
	assert.Equal(t, limit, res.Error.LimitMb)
	assert.Greater(t, res.Error.UsedMb, float64(limit))
}

func TestOutputTruncation(t *testing.T) {
	cfg := script.DefaultConfig()
	cfg.MaxOutputSize = 64
	e := newEngine(t, cfg)
	sctx := newContext(t, nil, nil)
	sctx.Config = cfg

	res := e.Execute(t.Context(), `return {"data": "y" * 500}`, sctx)
	require.True(t, res.Success)
	assert.True(t, res.Truncated)
	assert.Equal(t, true, res.Output.(map[string]any)["truncated"])
}

func TestPrecompile(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())

	compiled, err := e.Precompile(`return {"n": request["n"] + 1}`)
	require.NoError(t, err)
	assert.Equal(t, script.LanguageStarlark, compiled.Language)

	for n := range 3 {
		res := e.ExecutePrecompiled(t.Context(), compiled, newContext(t, map[string]any{"n": n}, nil))
		require.True(t, res.Success, "error: %v", res.Error)
		assert.Equal(t, map[string]any{"n": float64(n + 1)}, res.Output)
	}

	_, err = e.Precompile("def (")
	assert.ErrorIs(t, err, script.ErrSyntax)

	res := e.ExecutePrecompiled(t.Context(), script.NewCompiledScript(script.LanguagePython, "", nil), newContext(t, nil, nil))
	assert.Equal(t, script.KindExecution, res.Error.Kind)
}

func TestNilContext(t *testing.T) {
	e := newEngine(t, script.DefaultConfig())
	res := e.Execute(t.Context(), "x = 1", nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, script.KindExecution, res.Error.Kind)
}
