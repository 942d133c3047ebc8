package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/atlanticdynamic/mcpverify/internal/script"
	"github.com/tidwall/gjson"
)

const fieldsSource = "fields"

// FieldRule checks the value at a JSONPath-style path. Path accepts
// $.a.b[0], $['key'], a.b[*].c and plain gjson paths.
type FieldRule struct {
	Path    string `json:"path"               toml:"path"`
	Equals  any    `json:"equals,omitempty"   toml:"equals,omitempty"`
	Type    string `json:"type,omitempty"     toml:"type,omitempty"`
	Pattern string `json:"pattern,omitempty"  toml:"pattern,omitempty"`
	// Required defaults to true; a missing optional field is skipped.
	Required *bool `json:"required,omitempty" toml:"required,omitempty"`
}

// IsRequired reports whether the field must exist.
func (r FieldRule) IsRequired() bool {
	return r.Required == nil || *r.Required
}

var gjsonEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`,
)

// GJSONPath translates a JSONPath expression into gjson syntax.
func GJSONPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	if p == "" {
		return "@this", nil
	}

	var parts []string
	for i := 0; i < len(p); {
		switch p[i] {
		case '.':
			if i+1 < len(p) && p[i+1] == '.' {
				return "", fmt.Errorf("%w: recursive descent is not supported in %q", ErrPath, path)
			}
			i++
		case '[':
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed bracket in %q", ErrPath, path)
			}
			inner := strings.TrimSpace(p[i+1 : i+end])
			i += end + 1
			switch {
			case inner == "*":
				parts = append(parts, "#")
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
				parts = append(parts, gjsonEscaper.Replace(inner[1:len(inner)-1]))
			default:
				if _, err := strconv.Atoi(inner); err != nil {
					return "", fmt.Errorf("%w: unsupported selector [%s] in %q", ErrPath, inner, path)
				}
				parts = append(parts, inner)
			}
		default:
			j := i
			for j < len(p) && p[j] != '.' && p[j] != '[' {
				j++
			}
			name := p[i:j]
			if name == "*" {
				parts = append(parts, "#")
			} else {
				parts = append(parts, gjsonEscaper.Replace(name))
			}
			i = j
		}
	}
	// A trailing wildcard selects the array itself.
	for len(parts) > 0 && parts[len(parts)-1] == "#" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return "@this", nil
	}
	return strings.Join(parts, "."), nil
}

// CheckFields evaluates rules against a JSON document.
func CheckFields(doc []byte, rules []FieldRule) []Error {
	var errs []Error
	for _, rule := range rules {
		errs = append(errs, checkField(doc, rule)...)
	}
	return errs
}

func checkField(doc []byte, rule FieldRule) []Error {
	fail := func(expected, actual, msg string) []Error {
		return []Error{{Source: fieldsSource, Field: rule.Path, Expected: expected, Actual: actual, Message: msg}}
	}

	path, err := GJSONPath(rule.Path)
	if err != nil {
		return fail("", "", err.Error())
	}
	res := gjson.GetBytes(doc, path)
	if !res.Exists() {
		if rule.IsRequired() {
			return fail("field to exist", "missing", "")
		}
		return nil
	}

	var errs []Error
	if rule.Type != "" {
		if actual := jsonType(res); !typeMatches(rule.Type, actual, res) {
			errs = append(errs, fail(rule.Type, actual, "")...)
		}
	}
	if rule.Equals != nil {
		want, err := script.NormalizeJSON(rule.Equals)
		if err != nil {
			errs = append(errs, fail("", "", fmt.Sprintf("expected value is not JSON: %v", err))...)
		} else if got := res.Value(); !reflect.DeepEqual(want, got) {
			errs = append(errs, fail(render(want), res.Raw, "")...)
		}
	}
	if rule.Pattern != "" {
		re, err := regexp.Compile(rule.Pattern)
		switch {
		case err != nil:
			errs = append(errs, fail("", "", fmt.Sprintf("invalid pattern: %v", err))...)
		case !re.MatchString(res.String()):
			errs = append(errs, fail("match "+rule.Pattern, res.String(), "")...)
		}
	}
	return errs
}

func jsonType(res gjson.Result) string {
	switch res.Type {
	case gjson.Null:
		return "null"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.Number:
		return "number"
	case gjson.String:
		return "string"
	default:
		if res.IsArray() {
			return "array"
		}
		return "object"
	}
}

func typeMatches(want, actual string, res gjson.Result) bool {
	want = strings.ToLower(want)
	if want == "integer" {
		return actual == "number" && res.Num == float64(int64(res.Num))
	}
	if want == "bool" {
		want = "boolean"
	}
	return want == actual
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
