package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	gerrors "github.com/go-faster/errors"
)

var ErrSchemaMissing = errors.New("branch schema is not migrated")

// RequiredTables are the tables an import writes to.
var RequiredTables = []string{
	"branches",
	"persons",
	"role_assignments",
	"branch_members",
	"branch_distributions",
}

// CheckSchema fails with ErrSchemaMissing when any required table is absent,
// so an import against an empty database stops before opening its
// transaction.
func CheckSchema(ctx context.Context, db *sql.DB) error {
	var missing []string
	for _, table := range RequiredTables {
		var reg sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)::text", "public."+table).Scan(&reg); err != nil {
			return gerrors.Wrapf(err, "check table %s", table)
		}
		if !reg.Valid {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s (run `branch-data migrate up`)", ErrSchemaMissing, strings.Join(missing, ", "))
	}
	return nil
}
