package main

import "errors"

// Exit codes of branch-data. Scripts branch on these, so the values are fixed.
const (
	exitOK       = 0
	exitInternal = 1
	// exitValidation: the workbook was opened but its content is unusable.
	exitValidation = 2
	// exitUsage: bad flags, missing or unreadable input file.
	exitUsage = 3
	// exitDB: the database is unreachable or not migrated.
	exitDB = 4
	// exitDBWrite: a run started but was rolled back or failed mid-way.
	exitDBWrite = 5
	// exitLocked: another run holds the dataset lock.
	exitLocked = 6
)

// codedError carries the process exit code alongside the cause.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// coded reports whether err already carries an exit code.
func coded(err error) bool {
	var ce *codedError
	return errors.As(err, &ce)
}

func exitCode(err error) int {
	var ce *codedError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ce):
		return ce.code
	default:
		return exitInternal
	}
}
