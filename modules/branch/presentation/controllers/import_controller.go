package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
	"github.com/iota-uz/branchboard/modules/branch/infrastructure/workbook"
	"github.com/iota-uz/branchboard/modules/branch/services"
	"github.com/iota-uz/branchboard/pkg/application"
	"github.com/iota-uz/branchboard/pkg/httpapi"
)

type ImportControllerOptions struct {
	Importer        ImportService
	Guard           Guard
	MaxUploadSize   int64
	MaxUploadMemory int64
}

type ImportController struct {
	importer  ImportService
	guard     Guard
	maxSize   int64
	maxMemory int64
}

func NewImportController(opts ImportControllerOptions) application.Controller {
	c := &ImportController{
		importer:  opts.Importer,
		guard:     opts.Guard,
		maxSize:   opts.MaxUploadSize,
		maxMemory: opts.MaxUploadMemory,
	}
	if c.maxSize <= 0 {
		c.maxSize = 32 << 20
	}
	if c.maxMemory <= 0 {
		c.maxMemory = c.maxSize
	}
	return c
}

func (c *ImportController) Key() string {
	return apiPrefix + "/imports"
}

func (c *ImportController) Register(r *mux.Router) {
	api := r.PathPrefix(apiPrefix).Subrouter()
	api.HandleFunc("/imports", c.Create).Methods(http.MethodPost)
}

// Create runs one import of the uploaded workbook. Row failures still answer
// 200; the report carries them.
func (c *ImportController) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, c.maxSize)
	if err := r.ParseMultipartForm(c.maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIError(w, r, http.StatusRequestEntityTooLarge, "BRANCH_UPLOAD_TOO_LARGE", "upload exceeds the size limit")
			return
		}
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_INVALID_UPLOAD", "multipart form expected")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_INVALID_UPLOAD", "file is required")
		return
	}
	defer file.Close()

	opts := services.ImportOptions{Kind: ingest.EntityKind(strings.ToLower(strings.TrimSpace(r.FormValue("kind"))))}
	if opts.Kind != "" && !opts.Kind.Valid() {
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_INVALID_QUERY", "kind must be branch, person or distribution")
		return
	}
	if opts.DryRun, err = parseBoolParam(r, "dry_run"); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_INVALID_QUERY", "dry_run is invalid")
		return
	}

	wb, err := workbook.Open(file, header.Filename)
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "BRANCH_UNREADABLE_WORKBOOK", err.Error())
		return
	}

	var report *ingest.ImportReport
	err = c.guard.run(r.Context(), func(ctx context.Context) error {
		report = c.importer.Import(ctx, wb, opts)
		return nil
	})
	if err != nil {
		writeRunError(w, r, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusOK, report)
}
