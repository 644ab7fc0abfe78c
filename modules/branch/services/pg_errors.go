package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

// classifyRowError sorts an error raised while writing one row into the
// row-local taxonomy or a fatal engine error.
func classifyRowError(row int, err error) error {
	if err == nil {
		return nil
	}
	if ingest.IsRowLocal(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ingest.FatalEngineError{Stage: "row", Row: row, Cause: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return &ingest.FatalEngineError{Stage: "row", Row: row, Cause: err}
	}
	switch pgErr.Code[:2] {
	case "22", "23": // data_exception, integrity_constraint_violation
		recordPersistenceConflict(pgErr.Code)
		return &ingest.RowPersistenceError{
			Row:        row,
			Code:       pgErr.Code,
			Constraint: pgErr.ConstraintName,
			Cause:      errors.New(pgErr.Message),
		}
	default:
		return &ingest.FatalEngineError{Stage: "row", Row: row, Cause: err}
	}
}
