// Package interpolation expands ${VAR} and ${VAR:default} references in
// configuration strings.
package interpolation

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// ErrUndefinedVariable reports a reference with no value and no default.
var ErrUndefinedVariable = errors.New("environment variable not defined")

// referencePattern matches ${NAME} and ${NAME:default}. The colon is
// captured so that ${NAME:} yields an empty default.
var referencePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:)?([^}]*)\}`)

// LookupFunc resolves a variable name.
type LookupFunc func(name string) (string, bool)

// Expand resolves references against the process environment.
func Expand(input string) (string, error) {
	return ExpandWith(input, os.LookupEnv)
}

// ExpandWith resolves references with lookup. Undefined references
// without a default are left in place and reported together.
func ExpandWith(input string, lookup LookupFunc) (string, error) {
	if input == "" {
		return "", nil
	}
	var missing []error
	out := referencePattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := referencePattern.FindStringSubmatch(match)
		name, hasDefault, fallback := parts[1], parts[2] == ":", parts[3]
		if value, ok := lookup(name); ok {
			return value
		}
		if hasDefault {
			return fallback
		}
		missing = append(missing, fmt.Errorf("%w: %s", ErrUndefinedVariable, name))
		return match
	})
	return out, errors.Join(missing...)
}
