package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

type ImportOptions struct {
	// Kind forces every sheet to be read as this kind, whatever its name.
	Kind   ingest.EntityKind
	DryRun bool
}

type ImporterOption func(*Importer)

func WithPersonKey(mode PersonKeyMode) ImporterOption {
	return func(im *Importer) { im.personKey = mode }
}

func WithSuggestions(enabled bool) ImporterOption {
	return func(im *Importer) { im.suggestions = enabled }
}

func WithRunIDs(fn func() string) ImporterOption {
	return func(im *Importer) { im.newRunID = fn }
}

// Importer drives one import run: one session for the whole workbook, rows in
// order, a savepoint per row, then the aggregate post-pass and a commit.
type Importer struct {
	store       Store
	normalizer  *Normalizer
	catalog     *distribution.Catalog
	aggregates  *AggregateService
	upserts     UpsertEngine
	personKey   PersonKeyMode
	suggestions bool
	newRunID    func() string
}

func NewImporter(store Store, normalizer *Normalizer, catalog *distribution.Catalog, opts ...ImporterOption) *Importer {
	im := &Importer{
		store:       store,
		normalizer:  normalizer,
		catalog:     catalog,
		aggregates:  NewAggregateService(catalog),
		personKey:   PersonKeyNameBranch,
		suggestions: true,
		newRunID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

type plannedSheet struct {
	kind  ingest.EntityKind
	sheet ingest.Sheet
}

// touchedBranch remembers where a unit row came from so leadership warnings
// can point back at it.
type touchedBranch struct {
	branch ingest.Branch
	sheet  string
	row    int
}

// suppliedSnapshot is a distribution row written by this run.
type suppliedSnapshot struct {
	unit  string
	sheet string
	row   int
}

type importRun struct {
	im       *Importer
	report   *ingest.ImportReport
	resolver *Resolver
	touched  map[int64]touchedBranch
	supplied map[SnapshotKey]suppliedSnapshot
}

// rowResult is what a successfully written row contributes once its
// savepoint is released.
type rowResult struct {
	outcome  ingest.Outcome
	warnings []string
	apply    func()
}

// Import never returns an error: every failure is accounted for in the
// report, and Success is false only when the run was rolled back.
func (im *Importer) Import(ctx context.Context, wb ingest.Workbook, opts ImportOptions) *ingest.ImportReport {
	started := time.Now()
	report := ingest.NewImportReport(im.newRunID())
	report.DryRun = opts.DryRun

	ctx, span := tracer.Start(ctx, "branch.import")
	defer span.End()
	span.SetAttributes(attribute.String("import.run_id", report.RunID), attribute.Bool("import.dry_run", opts.DryRun))

	logWithFields(ctx, logrus.InfoLevel, "import started", logrus.Fields{"run_id": report.RunID, "sheets": len(wb.Sheets)})

	plan := im.plan(wb, opts, report)
	for _, p := range plan {
		report.RowCount += len(p.sheet.Rows)
	}

	if fatal := im.run(ctx, plan, opts, report); fatal != nil {
		report.Abort(fatal)
		span.RecordError(fatal)
		span.SetStatus(codes.Error, fatal.Error())
		recordRun("rolled_back", started)
		logWithFields(ctx, logrus.ErrorLevel, "import rolled back", logrus.Fields{
			"run_id": report.RunID, "stage": fatal.Stage, "row": fatal.Row, "error": fatal.Cause,
		})
		return report
	}

	report.Complete()
	result := "committed"
	if opts.DryRun {
		result = "dry_run"
	}
	recordRun(result, started)
	span.SetAttributes(attribute.Int("import.success_count", report.SuccessCount), attribute.Int("import.failed_count", report.FailedCount))
	logWithFields(ctx, logrus.InfoLevel, "import finished", logrus.Fields{
		"run_id":        report.RunID,
		"result":        result,
		"row_count":     report.RowCount,
		"success_count": report.SuccessCount,
		"failed_count":  report.FailedCount,
		"duration":      time.Since(started),
	})
	return report
}

// plan orders recognized sheets by kind so units exist before the rows that
// reference them.
func (im *Importer) plan(wb ingest.Workbook, opts ImportOptions, report *ingest.ImportReport) []plannedSheet {
	byKind := make(map[ingest.EntityKind][]ingest.Sheet)
	for _, sheet := range wb.Sheets {
		kind := opts.Kind
		if kind == "" {
			var ok bool
			if kind, ok = im.normalizer.SheetKind(sheet.Name); !ok {
				report.AddWarning(sheet.Name, 0, fmt.Sprintf("sheet %q ignored: no mapping for this sheet name", sheet.Name))
				continue
			}
		}
		byKind[kind] = append(byKind[kind], sheet)
	}

	var plan []plannedSheet
	for _, kind := range ingest.ImportOrder {
		for _, sheet := range byKind[kind] {
			if ignored := im.normalizer.UnmappedHeaders(kind, sheetHeaders(sheet)); len(ignored) > 0 {
				report.AddWarning(sheet.Name, 0, fmt.Sprintf("columns ignored: %s", strings.Join(ignored, ", ")))
			}
			plan = append(plan, plannedSheet{kind: kind, sheet: sheet})
		}
	}
	return plan
}

func sheetHeaders(sheet ingest.Sheet) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range sheet.Rows {
		for _, cell := range row {
			if _, ok := seen[cell.Header]; ok {
				continue
			}
			seen[cell.Header] = struct{}{}
			out = append(out, cell.Header)
		}
	}
	return out
}

func (im *Importer) run(ctx context.Context, plan []plannedSheet, opts ImportOptions, report *ingest.ImportReport) (fatal *ingest.FatalEngineError) {
	session, err := im.store.Begin(ctx)
	if err != nil {
		return &ingest.FatalEngineError{Stage: "begin transaction", Cause: err}
	}
	finished := false
	defer func() {
		if finished {
			return
		}
		if rbErr := session.Rollback(ctx); rbErr != nil {
			logWithFields(ctx, logrus.WarnLevel, "rollback failed", logrus.Fields{"run_id": report.RunID, "error": rbErr})
		}
	}()

	branches, err := session.ListBranches(ctx)
	if err != nil {
		return &ingest.FatalEngineError{Stage: "load unit index", Cause: err}
	}
	persons, err := session.ListPersons(ctx)
	if err != nil {
		return &ingest.FatalEngineError{Stage: "load person index", Cause: err}
	}

	r := &importRun{
		im:       im,
		report:   report,
		resolver: NewResolver(im.personKey, branches, persons),
		touched:  make(map[int64]touchedBranch),
		supplied: make(map[SnapshotKey]suppliedSnapshot),
	}

	for _, p := range plan {
		for i, raw := range p.sheet.Rows {
			if fatal := r.row(ctx, session, p.kind, p.sheet.Name, p.sheet.RowNumber(i), raw); fatal != nil {
				return fatal
			}
		}
	}

	if err := r.postPass(ctx, session); err != nil {
		return &ingest.FatalEngineError{Stage: "recompute aggregates", Cause: err}
	}

	if opts.DryRun {
		return nil
	}
	finished = true
	if err := session.Commit(ctx); err != nil {
		return &ingest.FatalEngineError{Stage: "commit", Cause: err}
	}
	return nil
}

// row runs normalize, resolve and upsert for one row inside its own
// savepoint. Row-local failures are recorded and swallowed; anything else is
// returned as fatal.
func (r *importRun) row(ctx context.Context, session Session, kind ingest.EntityKind, sheet string, num int, raw ingest.Row) *ingest.FatalEngineError {
	rec, err := r.im.normalizer.Normalize(kind, sheet, num, raw)
	if err != nil {
		var validation *ingest.ValidationError
		if errors.As(err, &validation) {
			r.report.AddError(sheet, num, err.Error())
			recordRow(string(kind), "validation_error")
			return nil
		}
		return &ingest.FatalEngineError{Stage: "normalize", Row: num, Cause: err}
	}

	sp, err := session.Savepoint(ctx)
	if err != nil {
		return &ingest.FatalEngineError{Stage: "savepoint", Row: num, Cause: err}
	}

	res, err := r.apply(ctx, sp, rec)
	if err != nil {
		classified := classifyRowError(num, err)
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return &ingest.FatalEngineError{Stage: "rollback savepoint", Row: num, Cause: errors.Join(err, rbErr)}
		}
		var fatal *ingest.FatalEngineError
		if errors.As(classified, &fatal) {
			return fatal
		}
		r.report.AddError(sheet, num, classified.Error())
		outcome := "persistence_error"
		var validation *ingest.ValidationError
		if errors.As(classified, &validation) {
			outcome = "validation_error"
		}
		recordRow(string(kind), outcome)
		return nil
	}
	if err := sp.Commit(ctx); err != nil {
		return &ingest.FatalEngineError{Stage: "release savepoint", Row: num, Cause: err}
	}

	res.apply()
	for _, issue := range rec.Issues {
		r.report.AddWarning(sheet, num, fmt.Sprintf("%s: %s (left empty)", issue.Field, issue.Message))
	}
	for _, w := range res.warnings {
		r.report.AddWarning(sheet, num, w)
	}
	r.report.RecordSuccess(res.outcome)
	recordRow(string(kind), string(res.outcome))
	return nil
}

func (r *importRun) apply(ctx context.Context, sp Session, rec *ingest.Record) (rowResult, error) {
	switch rec.Kind {
	case ingest.KindBranch:
		return r.applyBranch(ctx, sp, rec)
	case ingest.KindPerson:
		return r.applyPerson(ctx, sp, rec)
	case ingest.KindDistribution:
		return r.applyDistribution(ctx, sp, rec)
	default:
		return rowResult{}, fmt.Errorf("unsupported entity kind %q", rec.Kind)
	}
}

func (r *importRun) applyBranch(ctx context.Context, sp Session, rec *ingest.Record) (rowResult, error) {
	b := rec.Branch()
	existing, found := r.resolver.Branch(b.Name)
	id, outcome, err := r.im.upserts.UpsertBranch(ctx, sp, Resolution{ID: existing, Found: found}, b)
	if err != nil {
		return rowResult{}, err
	}
	return rowResult{
		outcome: outcome,
		apply: func() {
			r.resolver.RememberBranch(b.Name, id)
			r.touched[id] = touchedBranch{branch: b, sheet: rec.Sheet, row: rec.Row}
		},
	}, nil
}

func (r *importRun) applyPerson(ctx context.Context, sp Session, rec *ingest.Record) (rowResult, error) {
	p := rec.Person()
	var (
		branchID *int64
		warnings []string
	)
	if p.OrgPath != nil {
		if id, _, ok := r.resolver.BranchFromPath(*p.OrgPath); ok {
			branchID = &id
		} else {
			warnings = append(warnings, r.unresolvedPathWarning(*p.OrgPath))
		}
	}

	existing, found := r.resolver.Person(p.Name, branchID)
	id, outcome, err := r.im.upserts.UpsertPerson(ctx, sp, Resolution{ID: existing, Found: found}, p, branchID)
	if err != nil {
		return rowResult{}, err
	}

	var roles []RoleAssignment
	if branchID != nil {
		roles = append(roles, RoleAssignment{PersonID: id, BranchID: *branchID, Role: p.Role, Source: SourcePersonSheet})
	}
	if err := sp.ReplaceRoleAssignments(ctx, RoleScope{Source: SourcePersonSheet, PersonID: id}, roles); err != nil {
		return rowResult{}, err
	}

	return rowResult{
		outcome:  outcome,
		warnings: warnings,
		apply:    func() { r.resolver.RememberPerson(p.Name, branchID, id) },
	}, nil
}

func (r *importRun) applyDistribution(ctx context.Context, sp Session, rec *ingest.Record) (rowResult, error) {
	d := rec.Distribution()
	branchID, ok := r.resolver.Branch(d.BranchName)
	if !ok {
		msg := fmt.Sprintf("unit %q not found", d.BranchName)
		if hint := r.hint(d.BranchName); hint != "" {
			msg += "; " + hint
		}
		return rowResult{}, &ingest.ValidationError{Row: rec.Row, Field: ingest.FieldBranchName, Message: msg}
	}

	spec, ok := r.im.catalog.Spec(distribution.Kind(d.Kind))
	if !ok {
		return rowResult{}, &ingest.ValidationError{Row: rec.Row, Field: ingest.FieldDistributionKind, Message: fmt.Sprintf("unknown distribution kind %q", d.Kind)}
	}
	mode := distribution.Counts
	if d.Mode == ingest.ValuePercent {
		mode = distribution.Percentages
	}
	snap, err := distribution.Real{}.Rebalance(spec, distribution.Input{Mode: mode, Values: d.Values})
	if err != nil {
		return rowResult{}, &ingest.ValidationError{Row: rec.Row, Field: ingest.FieldDistributionKind, Message: err.Error()}
	}
	if err := ReplaceSnapshot(ctx, sp, r.im.catalog, branchID, snap); err != nil {
		return rowResult{}, err
	}
	key := SnapshotKey{BranchID: branchID, Kind: snap.Kind}
	supplied := suppliedSnapshot{unit: d.BranchName, sheet: rec.Sheet, row: rec.Row}
	return rowResult{apply: func() { r.supplied[key] = supplied }}, nil
}

func (r *importRun) unresolvedPathWarning(path string) string {
	msg := fmt.Sprintf("no known unit in path %q; unit left empty", path)
	segments := PathSegments(path)
	if len(segments) == 0 {
		return msg
	}
	if hint := r.hint(segments[len(segments)-1]); hint != "" {
		msg += "; " + hint
	}
	return msg
}

func (r *importRun) hint(name string) string {
	if !r.im.suggestions {
		return ""
	}
	suggestions := r.resolver.SuggestBranches(name)
	if len(suggestions) == 0 {
		return ""
	}
	return "did you mean " + strings.Join(suggestions, ", ") + "?"
}

// postPass links leadership slots of the units written in this run, then
// recomputes every derived aggregate.
func (r *importRun) postPass(ctx context.Context, session Session) error {
	ctx, span := tracer.Start(ctx, "branch.import.post_pass")
	defer span.End()

	ids := make([]int64, 0, len(r.touched))
	for id := range r.touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		t := r.touched[id]
		var rows []RoleAssignment
		for _, leader := range t.branch.Leaders() {
			personID, ok := r.resolver.Leader(leader.Name, id)
			if !ok {
				r.report.AddWarning(t.sheet, t.row, fmt.Sprintf("%s %q of unit %q is not a known person", leader.Role, leader.Name, t.branch.Name))
				continue
			}
			rows = append(rows, RoleAssignment{PersonID: personID, BranchID: id, Role: leader.Role, Source: SourceBranchSheet})
		}
		if err := session.ReplaceRoleAssignments(ctx, RoleScope{Source: SourceBranchSheet, BranchID: id}, rows); err != nil {
			return err
		}
	}

	recomputed, err := r.im.aggregates.Recompute(ctx, session)
	if err != nil {
		return err
	}
	for _, k := range recomputed.Derived {
		if s, ok := r.supplied[k]; ok {
			r.report.AddWarning(s.sheet, s.row, fmt.Sprintf("%s distribution of unit %q replaced by the one derived from member data", k.Kind, s.unit))
		}
	}
	return nil
}
