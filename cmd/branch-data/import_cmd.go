package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
	"github.com/iota-uz/branchboard/modules/branch/infrastructure/workbook"
	"github.com/iota-uz/branchboard/modules/branch/services"
)

type importOptions struct {
	file   string
	kind   string
	dryRun bool
}

func newImportCmd(connect envFactory, root *rootOptions) *cobra.Command {
	var opts importOptions
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a unit, personnel or distribution workbook (.xlsx or .csv)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, connect, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "Workbook path (required)")
	cmd.Flags().StringVar(&opts.kind, "kind", "", "Read every sheet as this kind: branch|person|distribution")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Run the whole import and roll it back")
	return cmd
}

func runImport(cmd *cobra.Command, connect envFactory, root *rootOptions, opts importOptions) error {
	if strings.TrimSpace(opts.file) == "" {
		return withCode(exitUsage, errors.New("--file is required"))
	}
	importOpts := services.ImportOptions{
		Kind:   ingest.EntityKind(strings.ToLower(strings.TrimSpace(opts.kind))),
		DryRun: opts.dryRun,
	}
	if importOpts.Kind != "" && !importOpts.Kind.Valid() {
		return withCode(exitUsage, fmt.Errorf("invalid --kind %q (expected branch|person|distribution)", opts.kind))
	}

	f, err := os.Open(opts.file)
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer f.Close()
	wb, err := workbook.Open(f, opts.file)
	if err != nil {
		return withCode(exitValidation, err)
	}

	e, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer e.close()

	var report *ingest.ImportReport
	err = locked(cmd.Context(), e, root, func(ctx context.Context) error {
		report = e.importer.Import(ctx, wb, importOpts)
		return nil
	})
	if err != nil {
		return err
	}
	if err := writeJSONLine(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.Success {
		return withCode(exitDBWrite, fmt.Errorf("import failed: %s", report.Message))
	}
	return nil
}
