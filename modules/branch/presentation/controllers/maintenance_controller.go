package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-playground/form"
	"github.com/gorilla/mux"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/services"
	"github.com/iota-uz/branchboard/pkg/application"
	"github.com/iota-uz/branchboard/pkg/httpapi"
)

type MaintenanceController struct {
	maintenance MaintenanceService
	guard       Guard
}

func NewMaintenanceController(maintenance MaintenanceService, guard Guard) application.Controller {
	return &MaintenanceController{maintenance: maintenance, guard: guard}
}

func (c *MaintenanceController) Key() string {
	return apiPrefix + "/maintenance"
}

func (c *MaintenanceController) Register(r *mux.Router) {
	api := r.PathPrefix(c.Key()).Subrouter()
	api.HandleFunc("/dedup", c.Dedup).Methods(http.MethodPost)
	api.HandleFunc("/recompute", c.Recompute).Methods(http.MethodPost)
	api.HandleFunc("/synthetic-fill", c.SyntheticFill).Methods(http.MethodPost)
}

type dedupQuery struct {
	Kind   string `form:"kind"`
	DryRun bool   `form:"dry_run"`
}

type syntheticQuery struct {
	Kind string `form:"kind"`
	Seed int64  `form:"seed"`
}

var queryDecoder = form.NewDecoder()

func decodeQuery(r *http.Request, dst any) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	return queryDecoder.Decode(dst, r.Form)
}

func (c *MaintenanceController) Dedup(w http.ResponseWriter, r *http.Request) {
	var q dedupQuery
	if err := decodeQuery(r, &q); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_INVALID_QUERY", "query is invalid")
		return
	}
	target, err := services.ParseDedupTarget(strings.TrimSpace(q.Kind))
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_INVALID_QUERY", err.Error())
		return
	}
	var report *services.DedupReport
	err = c.guard.run(r.Context(), func(ctx context.Context) (err error) {
		report, err = c.maintenance.Dedup(ctx, target, q.DryRun)
		return err
	})
	if err != nil {
		writeRunError(w, r, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, report)
}

func (c *MaintenanceController) Recompute(w http.ResponseWriter, r *http.Request) {
	var report *services.RecomputeReport
	err := c.guard.run(r.Context(), func(ctx context.Context) (err error) {
		report, err = c.maintenance.Recompute(ctx)
		return err
	})
	if err != nil {
		writeRunError(w, r, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, report)
}

func (c *MaintenanceController) SyntheticFill(w http.ResponseWriter, r *http.Request) {
	var q syntheticQuery
	if err := decodeQuery(r, &q); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_INVALID_QUERY", "query is invalid")
		return
	}
	kind := distribution.Kind(strings.TrimSpace(q.Kind))
	if kind == "" {
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_INVALID_QUERY", "kind is required")
		return
	}
	var report *services.SyntheticReport
	err := c.guard.run(r.Context(), func(ctx context.Context) (err error) {
		report, err = c.maintenance.SyntheticFill(ctx, kind, q.Seed)
		return err
	})
	if err != nil {
		writeRunError(w, r, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, report)
}
