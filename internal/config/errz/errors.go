// Package errz provides shared error definitions for the config package and its subpackages.
package errz

import "errors"

// Top-level error categories
var (
	ErrFailedToLoadConfig     = errors.New("failed to load config")
	ErrFailedToValidateConfig = errors.New("failed to validate config")
	ErrUnsupportedConfigVer   = errors.New("unsupported config version")
	ErrUnsupportedExtension   = errors.New("unsupported file extension")
)

// Validation specific errors
var (
	ErrDuplicateName        = errors.New("duplicate name")
	ErrEmptyName            = errors.New("empty name")
	ErrInvalidReference     = errors.New("invalid reference")
	ErrInvalidValue         = errors.New("invalid value")
	ErrMissingRequiredField = errors.New("missing required field")
)

// Script specific errors
var (
	ErrUnknownLanguage = errors.New("unknown script language")
	ErrEmptySource     = errors.New("empty script source")
	ErrAmbiguousSource = errors.New("script has both source and source_file")
	ErrSourceFile      = errors.New("failed to read script source file")
)
