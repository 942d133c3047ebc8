package writers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		output   string
		wantKind Kind
		wantPath string
		wantErr  bool
	}{
		{output: "", wantKind: KindStdout},
		{output: "stdout", wantKind: KindStdout},
		{output: "stderr", wantKind: KindStderr},
		{output: "file:///var/log/mcpverify.log", wantKind: KindFile, wantPath: "/var/log/mcpverify.log"},
		{output: "file:logs/run.log", wantKind: KindFile, wantPath: "logs/run.log"},
		{output: "/tmp/out.log", wantKind: KindFile, wantPath: "/tmp/out.log"},
		{output: `C:\logs\out.log`, wantKind: KindFile, wantPath: `C:\logs\out.log`},
		{output: "file://", wantErr: true},
		{output: "https://example.com/logs", wantErr: true},
		{output: "syslog", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.output, func(t *testing.T) {
			t.Parallel()
			kind, path, err := Parse(tt.output)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedOutput)
				assert.ErrorIs(t, Validate(tt.output), ErrUnsupportedOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestOpenStandardStreams(t *testing.T) {
	t.Parallel()
	for _, output := range []string{"", "stdout", "stderr"} {
		w, err := Open(output)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "dir", "run.log")

	w, err := Open("file://" + path)
	require.NoError(t, err)
	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = Open(path)
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestOpenUnsupported(t *testing.T) {
	t.Parallel()
	_, err := Open("kafka://broker/topic")
	assert.ErrorIs(t, err, ErrUnsupportedOutput)
}
