package script

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind names one variant of the script error taxonomy.
type ErrorKind string

const (
	KindSyntax        ErrorKind = "syntax"
	KindRuntime       ErrorKind = "runtime"
	KindTimeout       ErrorKind = "timeout"
	KindMemoryLimit   ErrorKind = "memory_limit"
	KindSecurity      ErrorKind = "security"
	KindExecution     ErrorKind = "execution"
	KindSerialization ErrorKind = "serialization"
)

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrScript        = errors.New("script error")
	ErrSyntax        = fmt.Errorf("%w: syntax error", ErrScript)
	ErrRuntime       = fmt.Errorf("%w: runtime error", ErrScript)
	ErrTimeout       = fmt.Errorf("%w: timeout", ErrScript)
	ErrMemoryLimit   = fmt.Errorf("%w: memory limit exceeded", ErrScript)
	ErrSecurity      = fmt.Errorf("%w: security violation", ErrScript)
	ErrExecution     = fmt.Errorf("%w: execution error", ErrScript)
	ErrSerialization = fmt.Errorf("%w: serialization error", ErrScript)

	ErrUnknownLanguage = errors.New("unknown script language")
)

var kindSentinels = map[ErrorKind]error{
	KindSyntax:        ErrSyntax,
	KindRuntime:       ErrRuntime,
	KindTimeout:       ErrTimeout,
	KindMemoryLimit:   ErrMemoryLimit,
	KindSecurity:      ErrSecurity,
	KindExecution:     ErrExecution,
	KindSerialization: ErrSerialization,
}

// Error is the tagged variant every engine failure is mapped into. Only the
// fields belonging to Kind are populated:
//
//	syntax:        Message, Line
//	runtime:       Message (Line when the engine knows it)
//	timeout:       TimeoutMs
//	memory_limit:  UsedMb, LimitMb
//	security:      Operation
//	execution:     Message
//	serialization: Message
type Error struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Line      int       `json:"line,omitempty"`
	TimeoutMs uint64    `json:"timeout_ms,omitempty"`
	UsedMb    float64   `json:"used_mb,omitempty"`
	LimitMb   uint64    `json:"limit_mb,omitempty"`
	Operation string    `json:"operation,omitempty"`
}

func NewSyntaxError(message string, line int) *Error {
	return &Error{Kind: KindSyntax, Message: message, Line: line}
}

func NewRuntimeError(message string) *Error {
	return &Error{Kind: KindRuntime, Message: message}
}

func NewTimeoutError(timeoutMs uint64) *Error {
	return &Error{Kind: KindTimeout, TimeoutMs: timeoutMs}
}

func NewMemoryLimitError(usedMb float64, limitMb uint64) *Error {
	return &Error{Kind: KindMemoryLimit, UsedMb: usedMb, LimitMb: limitMb}
}

func NewSecurityError(operation string) *Error {
	return &Error{Kind: KindSecurity, Operation: operation}
}

func NewExecutionError(message string) *Error {
	return &Error{Kind: KindExecution, Message: message}
}

func NewSerializationError(message string) *Error {
	return &Error{Kind: KindSerialization, Message: message}
}

// Error renders an actionable one-line diagnostic.
func (e *Error) Error() string {
	switch e.Kind {
	case KindSyntax:
		if e.Line > 0 {
			return fmt.Sprintf("syntax error at line %d: %s", e.Line, e.Message)
		}
		return "syntax error: " + e.Message
	case KindRuntime:
		if e.Line > 0 {
			return fmt.Sprintf("runtime error at line %d: %s", e.Line, e.Message)
		}
		return "runtime error: " + e.Message
	case KindTimeout:
		return fmt.Sprintf("script timed out after %dms", e.TimeoutMs)
	case KindMemoryLimit:
		return fmt.Sprintf("memory limit exceeded: used %.2fMB, limit %dMB", e.UsedMb, e.LimitMb)
	case KindSecurity:
		return fmt.Sprintf("security violation: %s is not allowed", e.Operation)
	case KindExecution:
		return "execution error: " + e.Message
	case KindSerialization:
		return "serialization error: " + e.Message
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
}

// Unwrap returns the sentinel for the error's kind.
func (e *Error) Unwrap() error {
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		return sentinel
	}
	return ErrScript
}

// AsError extracts an *Error from err, wrapping foreign errors as execution errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return NewExecutionError(err.Error())
}

// ParseErrorKind maps a kind name, as written in JSON, to an ErrorKind.
func ParseErrorKind(name string) (ErrorKind, bool) {
	kind := ErrorKind(strings.ToLower(strings.TrimSpace(name)))
	_, ok := kindSentinels[kind]
	return kind, ok
}
