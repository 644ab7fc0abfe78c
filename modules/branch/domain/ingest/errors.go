package ingest

import (
	"errors"
	"fmt"
)

// ValidationError is row-local: a required field is missing or a value
// failed coercion. The row is skipped and the import continues.
type ValidationError struct {
	Row     int
	Field   Field
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewRequiredFieldError(row int, f Field) *ValidationError {
	return &ValidationError{Row: row, Field: f, Message: "required field is blank"}
}

// RowPersistenceError is a constraint violation scoped to one row's write.
type RowPersistenceError struct {
	Row        int
	Code       string
	Constraint string
	Cause      error
}

func (e *RowPersistenceError) Error() string {
	msg := "database rejected row"
	if e.Constraint != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Constraint)
	}
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *RowPersistenceError) Unwrap() error { return e.Cause }

// FatalEngineError aborts the run and rolls back the whole transaction.
type FatalEngineError struct {
	Stage string
	Row   int
	Cause error
}

func (e *FatalEngineError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s failed at row %d: %v", e.Stage, e.Row, e.Cause)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Cause)
}

func (e *FatalEngineError) Unwrap() error { return e.Cause }

// IsRowLocal reports whether err should be recorded against its row instead
// of aborting the import.
func IsRowLocal(err error) bool {
	var validation *ValidationError
	var persistence *RowPersistenceError
	return errors.As(err, &validation) || errors.As(err, &persistence)
}
