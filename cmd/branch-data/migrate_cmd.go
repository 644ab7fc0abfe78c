package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/iota-uz/branchboard/modules/branch/infrastructure/persistence"
	"github.com/iota-uz/branchboard/pkg/configuration"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the branch schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), persistence.Migrate)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), persistence.MigrationStatus)
		},
	})
	return cmd
}

func withDB(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	conf, err := configuration.Parse()
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("configuration: %w", err))
	}
	db, err := sql.Open("postgres", conf.Database.Opts)
	if err != nil {
		return withCode(exitDB, err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return withCode(exitDB, fmt.Errorf("db connect failed: %w", err))
	}
	if err := fn(ctx, db); err != nil {
		return withCode(exitDBWrite, err)
	}
	return nil
}
