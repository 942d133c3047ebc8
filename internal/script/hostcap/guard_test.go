package hostcap

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeniedOperations(t *testing.T) {
	g := NewGuard(PolicyFor(script.DefaultConfig()))

	_, err := g.ReadFile("/etc/hostname")
	require.ErrorIs(t, err, ErrDenied)
	assert.ErrorIs(t, g.WriteFile(filepath.Join(t.TempDir(), "x"), "data"), ErrDenied)
	_, err = g.Exists("/")
	assert.ErrorIs(t, err, ErrDenied)
	_, err = g.HTTPGet(t.Context(), "http://127.0.0.1:1")
	assert.ErrorIs(t, err, ErrDenied)

	op, ok := g.Violation()
	assert.True(t, ok)
	assert.Equal(t, OpFileRead, op, "first violation wins")

	se := g.SecurityError()
	require.NotNil(t, se)
	assert.ErrorIs(t, se, script.ErrSecurity)
	assert.Equal(t, OpFileRead, se.Operation)
}

func TestAllowedFilesystem(t *testing.T) {
	g := NewGuard(PolicyFor(script.PermissiveConfig()))
	path := filepath.Join(t.TempDir(), "note.txt")

	require.NoError(t, g.WriteFile(path, "hello"))
	content, err := g.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", content)

	exists, err := g.Exists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, os.Remove(path))
	exists, err = g.Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Nil(t, g.SecurityError())
}

func TestAllowedNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pong":true}`))
	}))
	defer srv.Close()

	g := NewGuard(Policy{AllowNetwork: true, MaxBytes: 5})
	resp, err := g.HTTPGet(t.Context(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, `{"pon`, resp.Body, "body is capped at MaxBytes")
}
