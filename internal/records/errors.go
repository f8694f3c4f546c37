package records

import (
	"errors"
	"fmt"

	"bridgeinspect/internal/taxonomy"
)

// Engine failure kinds. Callers match them with errors.Is.
var (
	ErrUnknownEntityType       = taxonomy.ErrUnknownEntityType
	ErrValidation              = errors.New("validation failed")
	ErrParentNotFound          = errors.New("parent not found")
	ErrNotFound                = errors.New("entity not found")
	ErrCodeConflict            = errors.New("code already in use")
	ErrNameConflict            = errors.New("name already in use")
	ErrCodeGenerationExhausted = errors.New("code generation exhausted")
	ErrInvalidFilterField      = errors.New("invalid filter field")
	ErrCascadeFailure          = errors.New("cascade failed")
)

// Kind names returned by KindOf.
const (
	KindUnknownEntityType       = "UnknownEntityType"
	KindValidation              = "ValidationError"
	KindParentNotFound          = "ParentNotFound"
	KindNotFound                = "NotFound"
	KindCodeConflict            = "CodeConflict"
	KindNameConflict            = "NameConflict"
	KindCodeGenerationExhausted = "CodeGenerationExhausted"
	KindInvalidFilterField      = "InvalidFilterField"
	KindCascadeFailure          = "CascadeFailure"
	KindInternal                = "Internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrCascadeFailure, KindCascadeFailure},
	{ErrUnknownEntityType, KindUnknownEntityType},
	{ErrValidation, KindValidation},
	{ErrParentNotFound, KindParentNotFound},
	{ErrNotFound, KindNotFound},
	{ErrCodeConflict, KindCodeConflict},
	{ErrNameConflict, KindNameConflict},
	{ErrCodeGenerationExhausted, KindCodeGenerationExhausted},
	{ErrInvalidFilterField, KindInvalidFilterField},
}

// KindOf returns the stable kind name of err, or KindInternal for errors the
// engine does not classify.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
