package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type DedupTarget string

const (
	DedupPersons  DedupTarget = "person"
	DedupBranches DedupTarget = "branch"
)

func ParseDedupTarget(s string) (DedupTarget, error) {
	switch DedupTarget(s) {
	case "", DedupPersons:
		return DedupPersons, nil
	case DedupBranches:
		return DedupBranches, nil
	default:
		return "", fmt.Errorf("invalid dedup target %q (expected person|branch)", s)
	}
}

// references lists every foreign key into each deduplicated table, in the
// order they are repaired. Membership rows are dropped because they are
// rebuilt from role assignments afterwards.
var references = map[DedupTarget][]Reference{
	DedupPersons: {
		{Table: "role_assignments", Column: "person_id", Mode: RepairRepoint},
		{Table: "branch_members", Column: "person_id", Mode: RepairDrop},
	},
	DedupBranches: {
		{Table: "persons", Column: "branch_id", Mode: RepairRepoint},
		{Table: "role_assignments", Column: "branch_id", Mode: RepairRepoint},
		{Table: "branch_members", Column: "branch_id", Mode: RepairDrop},
		{Table: "branch_distributions", Column: "branch_id", Mode: RepairDrop},
	},
}

var targetTables = map[DedupTarget]string{
	DedupPersons:  "persons",
	DedupBranches: "branches",
}

// KeyedRow is one entity reduced to its id and natural key.
type KeyedRow struct {
	ID  int64
	Key string
}

// MergeGroup is one duplicate set: the lowest id survives.
type MergeGroup struct {
	Key      string  `json:"key"`
	Survivor int64   `json:"survivor"`
	Losers   []int64 `json:"losers"`
}

// PlanMerges groups rows by key and picks the lowest id of each group of two
// or more as the survivor. Groups come back ordered by survivor id.
func PlanMerges(rows []KeyedRow) []MergeGroup {
	byKey := make(map[string][]int64)
	for _, r := range rows {
		byKey[r.Key] = append(byKey[r.Key], r.ID)
	}
	var groups []MergeGroup
	for key, ids := range byKey {
		if len(ids) < 2 {
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		groups = append(groups, MergeGroup{Key: key, Survivor: ids[0], Losers: ids[1:]})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Survivor < groups[j].Survivor })
	return groups
}

type DedupReport struct {
	Target    DedupTarget      `json:"target"`
	DryRun    bool             `json:"dry_run,omitempty"`
	Groups    []MergeGroup     `json:"groups"`
	Removed   int64            `json:"removed"`
	Repointed map[string]int64 `json:"repointed"`
	Dropped   map[string]int64 `json:"dropped"`
	Collapsed int64            `json:"collapsed_assignments"`
	Recompute *RecomputeReport `json:"recompute,omitempty"`
}

// DedupService merges entities sharing a natural key and repairs every
// reference to the losers before deleting them. Running it twice is a no-op
// the second time.
type DedupService struct {
	store      Store
	personKey  PersonKeyMode
	aggregates *AggregateService
}

func NewDedupService(store Store, personKey PersonKeyMode, aggregates *AggregateService) *DedupService {
	return &DedupService{store: store, personKey: personKey, aggregates: aggregates}
}

func (s *DedupService) Run(ctx context.Context, target DedupTarget, dryRun bool) (_ *DedupReport, err error) {
	ctx, span := tracer.Start(ctx, "branch.dedup")
	defer span.End()
	span.SetAttributes(attribute.String("dedup.target", string(target)), attribute.Bool("dedup.dry_run", dryRun))

	table, ok := targetTables[target]
	if !ok {
		return nil, fmt.Errorf("unknown dedup target %q", target)
	}

	session, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = session.Rollback(ctx)
		}
	}()

	rows, err := s.keyedRows(ctx, session, target)
	if err != nil {
		return nil, err
	}

	report := &DedupReport{
		Target:    target,
		DryRun:    dryRun,
		Groups:    PlanMerges(rows),
		Repointed: map[string]int64{},
		Dropped:   map[string]int64{},
	}
	if report.Groups == nil {
		report.Groups = []MergeGroup{}
	}

	for _, g := range report.Groups {
		for _, ref := range references[target] {
			switch ref.Mode {
			case RepairRepoint:
				n, err := session.Repoint(ctx, ref, g.Survivor, g.Losers)
				if err != nil {
					return nil, fmt.Errorf("repoint %s.%s: %w", ref.Table, ref.Column, err)
				}
				report.Repointed[ref.Table+"."+ref.Column] += n
			case RepairDrop:
				n, err := session.DropReferences(ctx, ref, g.Losers)
				if err != nil {
					return nil, fmt.Errorf("drop %s.%s: %w", ref.Table, ref.Column, err)
				}
				report.Dropped[ref.Table+"."+ref.Column] += n
			}
		}
		n, err := session.DeleteEntities(ctx, table, g.Losers)
		if err != nil {
			return nil, fmt.Errorf("delete %s duplicates: %w", table, err)
		}
		report.Removed += n
	}

	if report.Collapsed, err = session.CollapseRoleAssignments(ctx); err != nil {
		return nil, fmt.Errorf("collapse role assignments: %w", err)
	}
	if report.Recompute, err = s.aggregates.Recompute(ctx, session); err != nil {
		return nil, fmt.Errorf("recompute aggregates: %w", err)
	}

	if dryRun {
		return report, nil
	}
	if err := session.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	recordDedupMerged(string(target), int(report.Removed))
	logWithFields(ctx, logrus.InfoLevel, "dedup pass committed", logrus.Fields{
		"target":  target,
		"groups":  len(report.Groups),
		"removed": report.Removed,
	})
	return report, nil
}

func (s *DedupService) keyedRows(ctx context.Context, session Session, target DedupTarget) ([]KeyedRow, error) {
	switch target {
	case DedupPersons:
		persons, err := session.ListPersons(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]KeyedRow, len(persons))
		for i, p := range persons {
			rows[i] = KeyedRow{ID: p.ID, Key: PersonKey(s.personKey, p.Name, p.BranchID)}
		}
		return rows, nil
	default:
		branches, err := session.ListBranches(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]KeyedRow, len(branches))
		for i, b := range branches {
			rows[i] = KeyedRow{ID: b.ID, Key: b.Name}
		}
		return rows, nil
	}
}
