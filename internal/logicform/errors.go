package logicform

import (
	"fmt"

	"github.com/aidanlsb/semanticdb/internal/condition"
)

// ValidationError reports a malformed logic form. Compilation stops at the
// first one.
type ValidationError struct {
	Field   string // Top-level key at fault ("groupby", "sort", ...)
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ResolutionError reports a schema or property reference that does not resolve.
type ResolutionError = condition.ResolutionError
