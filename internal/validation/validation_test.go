package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePhase(t *testing.T) {
	for in, want := range map[string]Phase{"": PhaseAfter, "after": PhaseAfter, "Before": PhaseBefore} {
		got, err := ParsePhase(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePhase("during")
	assert.ErrorIs(t, err, ErrPhase)
}

func TestGJSONPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$", "@this"},
		{"$.content[0].text", "content.0.text"},
		{"content.0.text", "content.0.text"},
		{"$['structured.content'].value", `structured\.content.value`},
		{"$.content[*].type", "content.#.type"},
		{"$.content[*]", "content"},
		{"$.isError", "isError"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := GJSONPath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"$..name", "$.a[", "$.a[?(@.x)]"} {
		_, err := GJSONPath(bad)
		assert.ErrorIs(t, err, ErrPath, bad)
	}
}

func TestCheckFields(t *testing.T) {
	doc := []byte(`{
		"content": [{"type": "text", "text": "Echo: hello"}, {"type": "text", "text": "second"}],
		"isError": false,
		"meta": {"count": 2, "ratio": 0.5}
	}`)
	optional := false

	tests := []struct {
		name  string
		rule  FieldRule
		fails bool
	}{
		{"exists", FieldRule{Path: "$.content[0].text"}, false},
		{"missing", FieldRule{Path: "$.content[5].text"}, true},
		{"missing optional", FieldRule{Path: "$.nope", Required: &optional}, false},
		{"equals string", FieldRule{Path: "$.content[0].text", Equals: "Echo: hello"}, false},
		{"equals int", FieldRule{Path: "$.meta.count", Equals: 2}, false},
		{"equals mismatch", FieldRule{Path: "$.meta.count", Equals: 3}, true},
		{"equals array", FieldRule{Path: "$.content[*].type", Equals: []string{"text", "text"}}, false},
		{"type string", FieldRule{Path: "$.content[0].text", Type: "string"}, false},
		{"type integer", FieldRule{Path: "$.meta.count", Type: "integer"}, false},
		{"type integer fails on float", FieldRule{Path: "$.meta.ratio", Type: "integer"}, true},
		{"type array", FieldRule{Path: "$.content", Type: "array"}, false},
		{"type boolean", FieldRule{Path: "$.isError", Type: "boolean"}, false},
		{"type mismatch", FieldRule{Path: "$.meta", Type: "array"}, true},
		{"pattern", FieldRule{Path: "$.content[0].text", Pattern: `^Echo: \w+$`}, false},
		{"pattern mismatch", FieldRule{Path: "$.content[1].text", Pattern: `^Echo`}, true},
		{"bad pattern", FieldRule{Path: "$.content[1].text", Pattern: `(`}, true},
		{"bad path", FieldRule{Path: "$..text"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := CheckFields(doc, []FieldRule{tt.rule})
			if tt.fails {
				require.NotEmpty(t, errs)
				assert.Equal(t, tt.rule.Path, errs[0].Field)
				assert.ErrorIs(t, errs[0], ErrValidation)
			} else {
				assert.Empty(t, errs)
			}
		})
	}
}

func TestCheckSchema(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"content"},
		"properties": map[string]any{
			"content": map[string]any{"type": "array", "minItems": 1},
		},
	}
	assert.Empty(t, CheckSchema(schema, map[string]any{"content": []any{"x"}}))

	errs := CheckSchema(schema, map[string]any{"content": []any{}})
	require.Len(t, errs, 1)
	assert.Equal(t, schemaSource, errs[0].Source)

	errs = CheckSchema(map[string]any{"type": 12}, map[string]any{})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, ErrSchema.Error())
}

type recordingValidator struct {
	name   string
	seen   *[]string
	report *Report
	err    error
}

func (v *recordingValidator) Name() string { return v.name }

func (v *recordingValidator) Validate(_ context.Context, data any, _ *Context) (*Report, error) {
	*v.seen = append(*v.seen, v.name)
	if v.err != nil {
		return nil, v.err
	}
	if v.report != nil {
		return v.report, nil
	}
	if data == nil {
		return &Report{Warnings: []Warning{{Source: v.name, Message: "no data"}}}, nil
	}
	return &Report{}, nil
}

func TestPipelineOrdering(t *testing.T) {
	var seen []string
	p := NewPipeline(Config{})
	require.NoError(t, p.Register(PhaseAfter, &recordingValidator{name: "after-1", seen: &seen}))
	require.NoError(t, p.Register(PhaseBefore, &recordingValidator{name: "before-1", seen: &seen}))
	require.NoError(t, p.Register(PhaseAfter, &recordingValidator{name: "after-2", seen: &seen}))
	require.NoError(t, p.Register(PhaseBefore, &recordingValidator{name: "before-2", seen: &seen}))

	vctx := &Context{Method: "tools/call", Request: map[string]any{"name": "echo"}}
	before, err := p.Before(t.Context(), vctx)
	require.NoError(t, err)
	assert.True(t, before.Valid)
	assert.Equal(t, PhaseBefore, before.Phase)

	after, err := p.After(t.Context(), map[string]any{"content": []any{}}, nil, vctx)
	require.NoError(t, err)
	assert.True(t, after.Valid)

	assert.Equal(t, []string{"before-1", "before-2", "after-1", "after-2"}, seen)
}

func TestPipelineRegisterRejects(t *testing.T) {
	p := NewPipeline(Config{})
	assert.ErrorIs(t, p.Register(PhaseAfter, nil), ErrValidator)
	var seen []string
	assert.ErrorIs(t, p.Register(Phase("during"), &recordingValidator{name: "x", seen: &seen}), ErrPhase)
}

func TestPipelineAfterExpectations(t *testing.T) {
	p := NewPipeline(Config{})
	response := map[string]any{
		"content": []any{map[string]any{"type": "text", "text": "boom"}},
		"isError": true,
	}

	res, err := p.After(t.Context(), response, &Expectations{}, &Context{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "isError", res.Errors[0].Field)
	assert.Contains(t, res.Errors[0].Message, "boom")

	res, err = p.After(t.Context(), response, &Expectations{
		Error:  true,
		Fields: []FieldRule{{Path: "$.content[0].text", Equals: "boom"}},
		Schema: map[string]any{"type": "object", "required": []any{"content"}},
	}, &Context{})
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestPipelineStrictModeAndMaxErrors(t *testing.T) {
	var seen []string
	warn := &recordingValidator{name: "warn", seen: &seen, report: &Report{
		Warnings: []Warning{{Source: "warn", Message: "meh"}},
	}}

	lenient := NewPipeline(Config{})
	require.NoError(t, lenient.Register(PhaseAfter, warn))
	res, err := lenient.After(t.Context(), map[string]any{}, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	strict := NewPipeline(Config{StrictMode: true})
	require.NoError(t, strict.Register(PhaseAfter, warn))
	res, err = strict.After(t.Context(), map[string]any{}, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Valid)

	capped := NewPipeline(Config{MaxErrors: 1})
	res, err = capped.After(t.Context(), map[string]any{}, &Expectations{Fields: []FieldRule{
		{Path: "a"}, {Path: "b"}, {Path: "c"},
	}}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Errors, 1)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1].Message, "2 further errors omitted")
	assert.ErrorIs(t, res.Err(), ErrValidation)
}

func TestPipelineValidatorFailure(t *testing.T) {
	var seen []string
	boom := errors.New("boom")
	p := NewPipeline(Config{})
	require.NoError(t, p.Register(PhaseBefore, &recordingValidator{name: "broken", seen: &seen, err: boom}))

	_, err := p.Before(t.Context(), &Context{})
	assert.ErrorIs(t, err, ErrValidator)
	assert.ErrorIs(t, err, boom)
}

func TestPipelineHonorsCancellation(t *testing.T) {
	var seen []string
	p := NewPipeline(Config{})
	require.NoError(t, p.Register(PhaseBefore, &recordingValidator{name: "never", seen: &seen}))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := p.Before(ctx, &Context{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, seen)
}
