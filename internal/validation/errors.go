package validation

import "errors"

var (
	// ErrValidation is wrapped by every validation Error.
	ErrValidation = errors.New("validation failed")
	// ErrValidator reports a validator that could not run at all.
	ErrValidator = errors.New("validator failed")
	// ErrPhase reports an unknown execution phase.
	ErrPhase = errors.New("invalid execution phase")
	// ErrPath reports a field path that cannot be evaluated.
	ErrPath = errors.New("invalid field path")
	// ErrSchema reports a schema that cannot be compiled.
	ErrSchema = errors.New("invalid schema")
)
