package services

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
)

// ReplaceSnapshot swaps the stored buckets of (branchID, snap.Kind) for snap.
// The snapshot must cover every declared label and sum to 100.
func ReplaceSnapshot(ctx context.Context, w SnapshotWriter, catalog *distribution.Catalog, branchID int64, snap distribution.Snapshot) error {
	spec, ok := catalog.Spec(snap.Kind)
	if !ok {
		return fmt.Errorf("unknown distribution kind %q", snap.Kind)
	}
	if len(snap.Buckets) != len(spec.Labels) {
		return fmt.Errorf("distribution %s has %d buckets, want %d", snap.Kind, len(snap.Buckets), len(spec.Labels))
	}
	for i, b := range snap.Buckets {
		if b.Label != spec.Labels[i] {
			return fmt.Errorf("distribution %s bucket %d is %q, want %q", snap.Kind, i, b.Label, spec.Labels[i])
		}
		if b.Percentage < 0 || b.Percentage > 100 {
			return fmt.Errorf("distribution %s bucket %q out of range: %d", snap.Kind, b.Label, b.Percentage)
		}
	}
	if total := snap.Total(); total != 100 {
		return fmt.Errorf("distribution %s sums to %d, want 100", snap.Kind, total)
	}
	return w.ReplaceDistribution(ctx, branchID, snap)
}

type SyntheticReport struct {
	Kind    distribution.Kind `json:"kind"`
	Filled  []int64           `json:"filled"`
	Skipped int               `json:"skipped"`
}

// SyntheticFillService writes placeholder snapshots for units that have no
// snapshot of a kind yet. It never touches units with real or supplied data.
type SyntheticFillService struct {
	store   Store
	catalog *distribution.Catalog
}

func NewSyntheticFillService(store Store, catalog *distribution.Catalog) *SyntheticFillService {
	return &SyntheticFillService{store: store, catalog: catalog}
}

func (s *SyntheticFillService) Fill(ctx context.Context, kind distribution.Kind, rng *rand.Rand) (_ *SyntheticReport, err error) {
	spec, ok := s.catalog.Spec(kind)
	if !ok {
		return nil, fmt.Errorf("unknown distribution kind %q", kind)
	}
	strategy := distribution.SyntheticFill{Rand: rng}

	session, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = session.Rollback(ctx)
		}
	}()

	branches, err := session.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := session.ListSnapshotKeys(ctx)
	if err != nil {
		return nil, err
	}
	has := make(map[int64]bool)
	for _, k := range keys {
		if k.Kind == kind {
			has[k.BranchID] = true
		}
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].ID < branches[j].ID })

	report := &SyntheticReport{Kind: kind, Filled: []int64{}}
	for _, b := range branches {
		if has[b.ID] {
			report.Skipped++
			continue
		}
		snap, err := strategy.Rebalance(spec, distribution.Input{})
		if err != nil {
			return nil, err
		}
		if err := ReplaceSnapshot(ctx, session, s.catalog, b.ID, snap); err != nil {
			return nil, err
		}
		report.Filled = append(report.Filled, b.ID)
	}
	if err := session.Commit(ctx); err != nil {
		return nil, err
	}
	logWithFields(ctx, logrus.InfoLevel, "synthetic distributions written", logrus.Fields{
		"kind": kind, "filled": len(report.Filled), "skipped": report.Skipped,
	})
	return report, nil
}
