package script

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Language identifies the runtime a script is written for.
type Language string

const (
	LanguageStarlark   Language = "starlark"
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
)

// ParseLanguage accepts canonical names and common aliases.
func ParseLanguage(name string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "starlark", "star", "bzl":
		return LanguageStarlark, nil
	case "javascript", "js", "ecmascript":
		return LanguageJavaScript, nil
	case "python", "py", "python3":
		return LanguagePython, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, name)
	}
}

// UnmarshalText lets config decoders accept aliases.
func (l *Language) UnmarshalText(text []byte) error {
	lang, err := ParseLanguage(string(text))
	if err != nil {
		return err
	}
	*l = lang
	return nil
}

func (l Language) String() string {
	return string(l)
}

// Engine runs scripts of one language inside a sandbox fixed at construction.
//
// Concurrency: an engine handles one execution at a time; use one engine
// per concurrent execution.
//
// Errors: Execute never returns a Go error and never panics. Every failure
// is reported through Result.Error with Result.Success false.
//
// Context: Execute honors ctx cancellation in addition to the configured
// timeout.
type Engine interface {
	Language() Language
	Execute(ctx context.Context, source string, sctx *Context) *Result
	// ValidateSyntax parses source without running it. A non-nil error is an *Error.
	ValidateSyntax(source string) error
}

// Precompiler is implemented by engines that can compile once and run many times.
type Precompiler interface {
	Precompile(source string) (*CompiledScript, error)
	ExecutePrecompiled(ctx context.Context, compiled *CompiledScript, sctx *Context) *Result
}

// CompiledScript is an engine-specific compiled artifact. It is only valid
// for engines of the same language and lives in memory only.
type CompiledScript struct {
	Language Language
	Source   string
	Hash     string
	Artifact any
}

// NewCompiledScript wraps an engine artifact with its source digest.
func NewCompiledScript(lang Language, source string, artifact any) *CompiledScript {
	sum := sha256.Sum256([]byte(source))
	return &CompiledScript{
		Language: lang,
		Source:   source,
		Hash:     hex.EncodeToString(sum[:]),
		Artifact: artifact,
	}
}

// CheckCompiled verifies compiled belongs to lang.
func CheckCompiled(lang Language, compiled *CompiledScript) *Error {
	if compiled == nil {
		return NewExecutionError("compiled script is nil")
	}
	if compiled.Language != lang {
		return NewExecutionError(fmt.Sprintf(
			"compiled script is for %s, engine runs %s", compiled.Language, lang))
	}
	return nil
}
