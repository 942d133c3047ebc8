package scriptval

import (
	"encoding/json"
	"fmt"

	"github.com/atlanticdynamic/mcpverify/internal/validation"
)

// structuredOutput is the optional shape a script may return.
type structuredOutput struct {
	Success          *bool           `json:"success"`
	Message          string          `json:"message"`
	ValidationErrors []outputError   `json:"validation_errors"`
	Warnings         []outputWarning `json:"warnings"`
}

type outputError struct {
	Field    string `json:"field"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Message  string `json:"message"`
}

type outputWarning struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// parseOutput reads the structured fields of a script's output. Outputs
// that are not objects, or objects of another shape, carry no findings.
func parseOutput(output any) structuredOutput {
	var out structuredOutput
	obj, ok := output.(map[string]any)
	if !ok {
		return out
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		// Ill-typed fields are ignored rather than failing the script.
		var loose struct {
			Success *bool  `json:"success"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &loose)
		return structuredOutput{Success: loose.Success, Message: loose.Message}
	}
	return out
}

func (o structuredOutput) failed() bool {
	return (o.Success != nil && !*o.Success) || len(o.ValidationErrors) > 0
}

func (o outputError) toError(source string) validation.Error {
	return validation.Error{
		Source:   source,
		Field:    o.Field,
		Expected: stringify(o.Expected),
		Actual:   stringify(o.Actual),
		Message:  o.Message,
	}
}

func (o outputWarning) toWarning(source string) validation.Warning {
	return validation.Warning{
		Source:     source,
		Field:      o.Field,
		Message:    o.Message,
		Suggestion: o.Suggestion,
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
