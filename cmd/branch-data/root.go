package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iota-uz/branchboard/pkg/composables"
	"github.com/iota-uz/branchboard/pkg/dblock"
)

type rootOptions struct {
	dataset string
}

func newRootCmd(connect envFactory) *cobra.Command {
	var opts rootOptions
	cmd := &cobra.Command{
		Use:           "branch-data",
		Short:         "Branch dashboard data tool: workbook import, dedup, aggregate repair and migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.dataset, "dataset", "", "Dataset lock name (default: IMPORT_DATASET)")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})

	cmd.AddCommand(newImportCmd(connect, &opts))
	cmd.AddCommand(newDedupCmd(connect, &opts))
	cmd.AddCommand(newRecomputeCmd(connect, &opts))
	cmd.AddCommand(newSynthCmd(connect, &opts))
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd(connectEnv).Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}

// locked runs fn under the dataset lock with the env logger in ctx.
func locked(ctx context.Context, e *env, root *rootOptions, fn func(context.Context) error) error {
	if e.logger != nil {
		ctx = composables.WithLogger(ctx, logrus.NewEntry(e.logger))
	}
	dataset := e.dataset
	if root.dataset != "" {
		dataset = root.dataset
	}
	err := dblock.With(ctx, e.locker, dataset, fn)
	if errors.Is(err, dblock.ErrLocked) {
		return withCode(exitLocked, fmt.Errorf("dataset %q: %w", dataset, err))
	}
	return err
}
