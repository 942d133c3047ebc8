package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atlanticdynamic/mcpverify/internal/config/errz"
	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/atlanticdynamic/mcpverify/internal/validation/scriptval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const echoSuite = `
name = "echo ${MCPVERIFY_SUITE_ENV:local}"

[server]
command = "bin/echo-server"
args = ["--stdio", "--token=${MCPVERIFY_SUITE_TOKEN:none}"]
env = { ECHO_MODE = "strict", A_FIRST = "1" }

[[scripts]]
name = "echo_matches"
language = "starlark"
required = true
source_file = "scripts/echo.star"

[[scripts]]
name = "request_shape"
language = "js"
execution_phase = "before"
timeout_ms = 250
source = "return { success: typeof request.arguments.message === 'string' };"

[[cases]]
name = "echo hello"
tool = "echo"
input = { message = "hello", repeat = 2 }
scripts = ["request_shape", "echo_matches"]
metadata = { owner = "qa" }

[cases.expect]
error = false
schema = { type = "object", required = ["content"] }

[[cases.expect.fields]]
path = "$.content[0].text"
equals = "hello"

[[cases.expect.fields]]
path = "$.structuredContent.count"
type = "integer"
required = false

[[cases]]
name = "unknown tool"
tool = "nope"

[cases.expect]
error = true
`

func writeSuite(t *testing.T, body string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	path := filepath.Join(dir, "suite.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("MCPVERIFY_SUITE_TOKEN", "abc")
	starSource := `result = {"success": response["content"][0]["text"] == request["arguments"]["message"]}`
	path := writeSuite(t, echoSuite, map[string]string{"scripts/echo.star": starSource})

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "echo local", s.Name)
	assert.Equal(t, filepath.Dir(path), s.BaseDir)
	require.Len(t, s.Scripts, 2)
	assert.Equal(t, starSource, s.Scripts[0].Source)
	require.Len(t, s.Cases, 2)

	name, args, env, dir := s.Command()
	assert.Equal(t, filepath.Join(filepath.Dir(path), "bin", "echo-server"), name)
	assert.Equal(t, []string{"--stdio", "--token=abc"}, args)
	assert.Equal(t, []string{"A_FIRST=1", "ECHO_MODE=strict"}, env)
	assert.Equal(t, filepath.Dir(path), dir)

	scripts, err := s.ValidationScripts()
	require.NoError(t, err)
	assert.Equal(t, []scriptval.Script{
		{Name: "echo_matches", Language: script.LanguageStarlark, Required: true, Source: starSource},
		{
			Name:      "request_shape",
			Language:  script.LanguageJavaScript,
			Phase:     "before",
			Source:    "return { success: typeof request.arguments.message === 'string' };",
			TimeoutMs: 250,
		},
	}, scripts)

	cases := s.TestCases()
	require.Len(t, cases, 2)
	first := cases[0]
	assert.Equal(t, "echo", first.Tool)
	assert.Equal(t, "hello", first.Arguments["message"])
	assert.Equal(t, []string{"request_shape", "echo_matches"}, first.Scripts)
	assert.Equal(t, map[string]string{"owner": "qa", "suite": "echo local"}, first.Metadata)
	require.NotNil(t, first.Expect)
	require.Len(t, first.Expect.Fields, 2)
	assert.True(t, first.Expect.Fields[0].IsRequired())
	assert.False(t, first.Expect.Fields[1].IsRequired())
	assert.NotNil(t, first.Expect.Schema)

	assert.True(t, cases[1].Expect.Error)
	assert.Empty(t, cases[1].Scripts)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		files   map[string]string
		wantErr error
		wantMsg string
	}{
		{
			name:    "missing source file",
			body:    "[server]\ncommand = \"x\"\n[[scripts]]\nname = \"a\"\nlanguage = \"starlark\"\nsource_file = \"gone.star\"\n[[cases]]\nname = \"c\"\ntool = \"t\"",
			wantErr: errz.ErrSourceFile,
		},
		{
			name:    "source and source file",
			body:    "[server]\ncommand = \"x\"\n[[scripts]]\nname = \"a\"\nlanguage = \"starlark\"\nsource = \"result = 1\"\nsource_file = \"a.star\"\n[[cases]]\nname = \"c\"\ntool = \"t\"",
			files:   map[string]string{"a.star": "result = 1"},
			wantErr: errz.ErrAmbiguousSource,
		},
		{
			name:    "unknown key",
			body:    "[server]\ncommand = \"x\"\nshell = true",
			wantErr: errz.ErrFailedToLoadConfig,
			wantMsg: "shell",
		},
		{
			name:    "unknown script reference",
			body:    "[server]\ncommand = \"x\"\n[[cases]]\nname = \"c\"\ntool = \"t\"\nscripts = [\"ghost\"]",
			wantErr: scriptval.ErrScriptNotFound,
			wantMsg: "ghost",
		},
		{
			name:    "unknown language",
			body:    "[server]\ncommand = \"x\"\n[[scripts]]\nname = \"a\"\nlanguage = \"lua\"\nsource = \"x\"\n[[cases]]\nname = \"c\"\ntool = \"t\"",
			wantErr: errz.ErrUnknownLanguage,
		},
		{
			name:    "bad phase",
			body:    "[server]\ncommand = \"x\"\n[[scripts]]\nname = \"a\"\nlanguage = \"py\"\nexecution_phase = \"during\"\nsource = \"x\"\n[[cases]]\nname = \"c\"\ntool = \"t\"",
			wantErr: errz.ErrInvalidValue,
		},
		{
			name:    "duplicate names",
			body:    "[server]\ncommand = \"x\"\n[[scripts]]\nname = \"a\"\nlanguage = \"py\"\nsource = \"x\"\n[[scripts]]\nname = \"a\"\nlanguage = \"py\"\nsource = \"y\"\n[[cases]]\nname = \"c\"\ntool = \"t\"\n[[cases]]\nname = \"c\"\ntool = \"t\"",
			wantErr: errz.ErrDuplicateName,
			wantMsg: `case "c"`,
		},
		{
			name:    "missing server and cases",
			body:    `name = "empty"`,
			wantErr: errz.ErrMissingRequiredField,
			wantMsg: "at least one case",
		},
		{
			name:    "bad field path",
			body:    "[server]\ncommand = \"x\"\n[[cases]]\nname = \"c\"\ntool = \"t\"\n[[cases.expect.fields]]\npath = \"$..text\"",
			wantErr: errz.ErrFailedToValidateConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSuite(t, tt.body, tt.files)
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoadRejectsExtension(t *testing.T) {
	_, err := Load("suite.yaml")
	assert.ErrorIs(t, err, errz.ErrUnsupportedExtension)
}

func TestCommandKeepsBareNames(t *testing.T) {
	s := &Suite{BaseDir: "/suites", Server: Server{Command: "python3", Dir: "work"}}
	name, args, env, dir := s.Command()
	assert.Equal(t, "python3", name)
	assert.Empty(t, args)
	assert.Empty(t, env)
	assert.Equal(t, filepath.Join("/suites", "work"), dir)
}
