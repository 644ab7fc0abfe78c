package ingest

import "fmt"

type RowError struct {
	Row     int    `json:"row"`
	Sheet   string `json:"sheet,omitempty"`
	Message string `json:"message"`
}

// ImportReport is the per-run accounting handed back to callers. It is never
// persisted.
type ImportReport struct {
	RunID        string     `json:"run_id,omitempty"`
	Success      bool       `json:"success"`
	DryRun       bool       `json:"dry_run,omitempty"`
	RowCount     int        `json:"row_count"`
	SuccessCount int        `json:"success_count"`
	FailedCount  int        `json:"failed_count"`
	Inserted     int        `json:"inserted"`
	Updated      int        `json:"updated"`
	Errors       []RowError `json:"errors"`
	Warnings     []RowError `json:"warnings,omitempty"`
	Message      string     `json:"message"`
}

func NewImportReport(runID string) *ImportReport {
	return &ImportReport{RunID: runID, Errors: []RowError{}}
}

func (r *ImportReport) AddError(sheet string, row int, message string) {
	r.FailedCount++
	r.Errors = append(r.Errors, RowError{Row: row, Sheet: sheet, Message: message})
}

func (r *ImportReport) AddWarning(sheet string, row int, message string) {
	r.Warnings = append(r.Warnings, RowError{Row: row, Sheet: sheet, Message: message})
}

func (r *ImportReport) RecordSuccess(outcome Outcome) {
	r.SuccessCount++
	switch outcome {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeUpdated:
		r.Updated++
	}
}

// Complete marks a committed run.
func (r *ImportReport) Complete() {
	r.Success = true
	r.Message = fmt.Sprintf("imported %d of %d rows, %d failed", r.SuccessCount, r.RowCount, r.FailedCount)
	if r.DryRun {
		r.Message += " (dry run, rolled back)"
	}
}

// Abort marks a rolled-back run. Nothing from the run was persisted, so every
// row counts as failed.
func (r *ImportReport) Abort(err *FatalEngineError) {
	r.Success = false
	r.SuccessCount = 0
	r.Inserted = 0
	r.Updated = 0
	r.FailedCount = r.RowCount
	r.Errors = append(r.Errors, RowError{Row: err.Row, Message: err.Error()})
	r.Message = fmt.Sprintf("import aborted and rolled back: %v", err)
}

// Outcome tags what the upsert engine did with one row.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
)
