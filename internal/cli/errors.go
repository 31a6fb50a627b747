package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/docstore"
	"github.com/aidanlsb/semanticdb/internal/engine"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/store"
)

// Error codes for structured error responses.
// These codes are stable and can be relied upon by scripts.
const (
	// Config errors
	ErrConfigInvalid = "CONFIG_INVALID"

	// Schema errors
	ErrSchemaNotFound = "SCHEMA_NOT_FOUND"
	ErrSchemaInvalid  = "SCHEMA_INVALID"
	ErrFieldNotFound  = "FIELD_NOT_FOUND"

	// File errors
	ErrFileNotFound  = "FILE_NOT_FOUND"
	ErrFileReadError = "FILE_READ_ERROR"

	// Database errors
	ErrDatabaseError  = "DATABASE_ERROR"
	ErrDatabaseLocked = "DATABASE_LOCKED"

	// Query errors
	ErrQueryInvalid = "QUERY_INVALID"

	// Input errors
	ErrInvalidInput    = "INVALID_INPUT"
	ErrMissingArgument = "MISSING_ARGUMENT"

	// General errors
	ErrInternal     = "INTERNAL_ERROR"
	ErrNotSupported = "NOT_SUPPORTED"
)

// Warning codes for non-fatal issues.
const (
	WarnTotalitySkipped = "TOTALITY_SKIPPED"
	WarnSchemaIssue     = "SCHEMA_ISSUE"
)

// codedError carries a stable code and an optional suggestion to the
// output layer.
type codedError struct {
	code       string
	err        error
	suggestion string
	details    any
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func withCode(code string, err error, suggestion string) error {
	return &codedError{code: code, err: err, suggestion: suggestion}
}

// errSilent is returned after an error was already written as JSON.
var errSilent = errors.New("error already reported")

// classify maps an error to its code and a suggestion.
func classify(err error) ErrorInfo {
	info := ErrorInfo{Code: ErrInternal, Message: err.Error()}

	var coded *codedError
	if errors.As(err, &coded) {
		info.Code = coded.code
		info.Suggestion = coded.suggestion
		info.Details = coded.details
		return info
	}

	var verr *logicform.ValidationError
	var invalidSchema *schema.InvalidError
	switch {
	case errors.As(err, &invalidSchema):
		info.Code = ErrSchemaInvalid
		issues := make([]string, len(invalidSchema.Issues))
		for i, issue := range invalidSchema.Issues {
			issues[i] = issue.String()
		}
		info.Details = issues
	case errors.Is(err, schema.ErrUnknownSchema):
		info.Code = ErrSchemaNotFound
		info.Suggestion = "Run 'sdb schema' to list schemas"
	case errors.Is(err, schema.ErrUnknownProperty):
		info.Code = ErrFieldNotFound
		info.Suggestion = "Run 'sdb schema <id>' to list its properties"
	case errors.As(err, &verr), errors.Is(err, condition.ErrUnsupportedOperator):
		info.Code = ErrQueryInvalid
	case errors.Is(err, store.ErrStoreLocked):
		info.Code = ErrDatabaseLocked
		info.Suggestion = "Wait for the running load to finish"
	case errors.Is(err, docstore.ErrNoSQL), errors.Is(err, engine.ErrNoDialect):
		info.Code = ErrNotSupported
	case errors.Is(err, os.ErrNotExist):
		info.Code = ErrFileNotFound
	}
	return info
}

// execError files backend failures that carry no better code under
// DATABASE_ERROR.
func execError(err error) error {
	if classify(err).Code != ErrInternal {
		return err
	}
	return withCode(ErrDatabaseError, fmt.Errorf("database: %w", err), "")
}
