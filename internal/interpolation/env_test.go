package interpolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(vars map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestExpandWith(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		vars    map[string]string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: ""},
		{name: "plain text", input: "python3", want: "python3"},
		{name: "single", input: "${PY}", vars: map[string]string{"PY": "/usr/bin/python3"}, want: "/usr/bin/python3"},
		{name: "embedded", input: "--root=${ROOT}/srv", vars: map[string]string{"ROOT": "/opt"}, want: "--root=/opt/srv"},
		{name: "default used", input: "${LEVEL:info}", want: "info"},
		{name: "default ignored when set", input: "${LEVEL:info}", vars: map[string]string{"LEVEL": "debug"}, want: "debug"},
		{name: "empty default", input: "a${SUFFIX:}b", want: "ab"},
		{name: "set to empty", input: "a${SUFFIX}b", vars: map[string]string{"SUFFIX": ""}, want: "ab"},
		{name: "undefined", input: "${NOPE}", want: "${NOPE}", wantErr: true},
		{
			name:    "partially undefined",
			input:   "${A}/${B}/${C}",
			vars:    map[string]string{"A": "1", "C": "3"},
			want:    "1/${B}/3",
			wantErr: true,
		},
		{name: "bare dollar untouched", input: "$HOME", want: "$HOME"},
		{name: "digit start untouched", input: "${1X}", want: "${1X}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExpandWith(tt.input, mapLookup(tt.vars))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUndefinedVariable)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandUsesEnvironment(t *testing.T) {
	t.Setenv("MCPVERIFY_INTERP_TEST", "from-env")
	got, err := Expand("value=${MCPVERIFY_INTERP_TEST}")
	require.NoError(t, err)
	assert.Equal(t, "value=from-env", got)
}

func TestExpandReportsEveryMissingName(t *testing.T) {
	t.Parallel()
	_, err := ExpandWith("${FIRST} ${SECOND}", mapLookup(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FIRST")
	assert.Contains(t, err.Error(), "SECOND")
}
