package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

func TestClassifyRowError(t *testing.T) {
	require.NoError(t, classifyRowError(1, nil))

	validation := &ingest.ValidationError{Row: 1, Field: ingest.FieldAge, Message: "bad"}
	require.Same(t, validation, classifyRowError(1, validation))

	wrapped := fmt.Errorf("insert person: %w", &pgconn.PgError{Code: "23503", ConstraintName: "persons_branch_id_fkey", Message: "fk"})
	var persistence *ingest.RowPersistenceError
	require.ErrorAs(t, classifyRowError(4, wrapped), &persistence)
	require.Equal(t, 4, persistence.Row)
	require.Equal(t, "23503", persistence.Code)
	require.Equal(t, "persons_branch_id_fkey", persistence.Constraint)

	require.ErrorAs(t, classifyRowError(2, &pgconn.PgError{Code: "22001", Message: "value too long"}), &persistence)

	var fatal *ingest.FatalEngineError
	require.ErrorAs(t, classifyRowError(3, &pgconn.PgError{Code: "40001"}), &fatal)
	require.Equal(t, 3, fatal.Row)
	require.ErrorAs(t, classifyRowError(3, context.Canceled), &fatal)
	require.ErrorIs(t, classifyRowError(3, context.Canceled), context.Canceled)
	require.ErrorAs(t, classifyRowError(3, errors.New("broken pipe")), &fatal)

	for _, code := range []string{"", "2"} {
		require.NotPanics(t, func() {
			require.ErrorAs(t, classifyRowError(5, &pgconn.PgError{Code: code}), &fatal)
		})
		require.Equal(t, 5, fatal.Row)
	}
}
