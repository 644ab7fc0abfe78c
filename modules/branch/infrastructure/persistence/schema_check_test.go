package persistence

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

const regclassQuery = "SELECT to_regclass($1)::text"

func TestCheckSchema_AllTablesPresent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range RequiredTables {
		mock.ExpectQuery(regexp.QuoteMeta(regclassQuery)).
			WithArgs("public." + table).
			WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(table))
	}

	require.NoError(t, CheckSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSchema_ReportsMissingTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for _, table := range RequiredTables {
		rows := sqlmock.NewRows([]string{"to_regclass"})
		if table == "branch_members" || table == "branch_distributions" {
			rows.AddRow(nil)
		} else {
			rows.AddRow(table)
		}
		mock.ExpectQuery(regexp.QuoteMeta(regclassQuery)).WithArgs("public." + table).WillReturnRows(rows)
	}

	err = CheckSchema(context.Background(), db)
	require.ErrorIs(t, err, ErrSchemaMissing)
	require.Contains(t, err.Error(), "branch_members, branch_distributions")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckSchema_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(regclassQuery)).
		WithArgs("public.branches").
		WillReturnError(errors.New("connection reset"))

	err = CheckSchema(context.Background(), db)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSchemaMissing)
	require.Contains(t, err.Error(), "check table branches")
}
