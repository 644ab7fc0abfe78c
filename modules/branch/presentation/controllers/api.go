package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
	"github.com/iota-uz/branchboard/modules/branch/services"
	"github.com/iota-uz/branchboard/pkg/composables"
	"github.com/iota-uz/branchboard/pkg/dblock"
	"github.com/iota-uz/branchboard/pkg/httpapi"
)

const apiPrefix = "/branch/api"

type ImportService interface {
	Import(ctx context.Context, wb ingest.Workbook, opts services.ImportOptions) *ingest.ImportReport
}

type MaintenanceService interface {
	Dedup(ctx context.Context, target services.DedupTarget, dryRun bool) (*services.DedupReport, error)
	Recompute(ctx context.Context) (*services.RecomputeReport, error)
	SyntheticFill(ctx context.Context, kind distribution.Kind, seed int64) (*services.SyntheticReport, error)
}

// Guard serializes writers of one dataset.
type Guard struct {
	Locker  dblock.Locker
	Dataset string
}

func (g Guard) run(ctx context.Context, fn func(context.Context) error) error {
	if g.Locker == nil {
		return fn(ctx)
	}
	return dblock.With(ctx, g.Locker, g.Dataset, fn)
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	_ = httpapi.WriteRequestError(w, r, status, code, message)
}

// writeRunError maps errors returned around a guarded run.
func writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, dblock.ErrLocked) {
		writeAPIError(w, r, http.StatusConflict, "BRANCH_DATASET_LOCKED", err.Error())
		return
	}
	if logger, ok := composables.UseLogger(r.Context()); ok {
		logger.WithError(err).Error("branch run failed")
	}
	writeAPIError(w, r, http.StatusInternalServerError, "BRANCH_RUN_FAILED", err.Error())
}
