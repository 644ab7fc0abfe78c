package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/services"
)

// runMaintenance connects, runs fn under the dataset lock and prints its
// report.
func runMaintenance(cmd *cobra.Command, connect envFactory, root *rootOptions, fn func(context.Context, maintenanceService) (any, error)) error {
	e, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	var report any
	err = locked(cmd.Context(), e, root, func(ctx context.Context) (err error) {
		report, err = fn(ctx, e.maintenance)
		return err
	})
	if err != nil {
		if coded(err) {
			return err
		}
		return withCode(exitDBWrite, err)
	}
	return writeJSONLine(cmd.OutOrStdout(), report)
}

func newDedupCmd(connect envFactory, root *rootOptions) *cobra.Command {
	var (
		kind   string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Merge duplicate persons or units and repair every reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := services.ParseDedupTarget(kind)
			if err != nil {
				return withCode(exitUsage, err)
			}
			return runMaintenance(cmd, connect, root, func(ctx context.Context, m maintenanceService) (any, error) {
				return m.Dedup(ctx, target, dryRun)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "person", "What to deduplicate: person|branch")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the merge plan and roll back")
	return cmd
}

func newRecomputeCmd(connect envFactory, root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild membership, member counts, average ages and derived distributions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaintenance(cmd, connect, root, func(ctx context.Context, m maintenanceService) (any, error) {
				return m.Recompute(ctx)
			})
		},
	}
}

func newSynthCmd(connect envFactory, root *rootOptions) *cobra.Command {
	var (
		kind string
		seed int64
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write synthetic distributions for units that have none of a kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind == "" {
				return withCode(exitUsage, errors.New("--kind is required"))
			}
			return runMaintenance(cmd, connect, root, func(ctx context.Context, m maintenanceService) (any, error) {
				return m.SyntheticFill(ctx, distribution.Kind(kind), seed)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Distribution kind, e.g. age|education|skill")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 seeds from the clock)")
	return cmd
}
