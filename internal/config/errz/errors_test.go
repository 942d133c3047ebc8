package errz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsAreDistinct(t *testing.T) {
	all := []error{
		ErrFailedToLoadConfig, ErrFailedToValidateConfig, ErrUnsupportedConfigVer, ErrUnsupportedExtension,
		ErrDuplicateName, ErrEmptyName, ErrInvalidReference, ErrInvalidValue, ErrMissingRequiredField,
		ErrUnknownLanguage, ErrEmptySource, ErrAmbiguousSource, ErrSourceFile,
	}
	for i, a := range all {
		for j, b := range all {
			if i != j {
				assert.NotErrorIs(t, a, b, "%v must not match %v", a, b)
			}
		}
	}
}

func TestWrappedErrorsMatch(t *testing.T) {
	inner := fmt.Errorf("%w: scripts[2]: %q", ErrDuplicateName, "schema_check")
	outer := fmt.Errorf("%w: %w", ErrFailedToValidateConfig, errors.Join(inner, ErrEmptySource))

	assert.ErrorIs(t, outer, ErrFailedToValidateConfig)
	assert.ErrorIs(t, outer, ErrDuplicateName)
	assert.ErrorIs(t, outer, ErrEmptySource)
	assert.NotErrorIs(t, outer, ErrUnknownLanguage)
	assert.Contains(t, outer.Error(), "schema_check")
}
