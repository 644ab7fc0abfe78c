package services

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
)

type RecomputeReport struct {
	Branches      int   `json:"branches"`
	Memberships   int64 `json:"memberships"`
	Distributions int   `json:"distributions"`
	// Derived lists the snapshots rewritten from member data, in write order.
	Derived []SnapshotKey `json:"-"`
}

// AverageAge is the mean of the recorded ages rounded to one decimal place,
// or 0 when nobody has an age.
func AverageAge(sum int64, count int) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(sum).Div(decimal.NewFromInt(int64(count))).Round(1)
}

// derivedKinds buckets a member's detail row for each distribution derived
// from members. A false return means the member has no data for that kind.
var derivedKinds = []struct {
	Kind   distribution.Kind
	Bucket func(MemberProfile) (string, bool)
}{
	{distribution.KindAge, func(m MemberProfile) (string, bool) {
		if m.Age == nil {
			return "", false
		}
		return distribution.AgeBucket(*m.Age), true
	}},
	{distribution.KindEducation, func(m MemberProfile) (string, bool) {
		if m.Education == nil || *m.Education == "" {
			return "", false
		}
		return distribution.EducationBucket(*m.Education), true
	}},
	{distribution.KindSkill, func(m MemberProfile) (string, bool) {
		if m.SkillLevel == nil || *m.SkillLevel == "" {
			return "", false
		}
		return distribution.SkillBucket(*m.SkillLevel), true
	}},
}

// AggregateService recomputes derived unit fields from detail rows. Counts are
// always recounted, never adjusted in place.
type AggregateService struct {
	catalog *distribution.Catalog
}

func NewAggregateService(catalog *distribution.Catalog) *AggregateService {
	return &AggregateService{catalog: catalog}
}

// Recompute rebuilds the membership join table from role assignments, then
// member counts, average ages and member-derived distributions.
func (s *AggregateService) Recompute(ctx context.Context, session Session) (*RecomputeReport, error) {
	ctx, span := tracer.Start(ctx, "branch.aggregates.recompute")
	defer span.End()

	memberships, err := session.RebuildMembership(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := session.MemberStats(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range stats {
		if err := session.UpdateBranchAggregates(ctx, st.BranchID, st.Members, AverageAge(st.AgeSum, st.AgeCount)); err != nil {
			return nil, err
		}
	}

	profiles, err := session.MemberProfiles(ctx)
	if err != nil {
		return nil, err
	}
	derived, err := s.deriveDistributions(ctx, session, profiles)
	if err != nil {
		return nil, err
	}

	recordRecompute()
	span.SetAttributes(
		attribute.Int("branch.count", len(stats)),
		attribute.Int64("branch.memberships", memberships),
	)
	return &RecomputeReport{
		Branches:      len(stats),
		Memberships:   memberships,
		Distributions: len(derived),
		Derived:       derived,
	}, nil
}

// RecomputeAll runs Recompute in a transaction of its own, for repairs
// outside an import.
func (s *AggregateService) RecomputeAll(ctx context.Context, store Store) (_ *RecomputeReport, err error) {
	session, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = session.Rollback(ctx)
		}
	}()

	report, err := s.Recompute(ctx, session)
	if err != nil {
		return nil, err
	}
	if err = session.Commit(ctx); err != nil {
		return nil, err
	}
	logWithFields(ctx, logrus.InfoLevel, "aggregates recomputed", logrus.Fields{
		"branches":      report.Branches,
		"memberships":   report.Memberships,
		"distributions": report.Distributions,
	})
	return report, nil
}

func (s *AggregateService) deriveDistributions(ctx context.Context, w SnapshotWriter, profiles []MemberProfile) ([]SnapshotKey, error) {
	byBranch := make(map[int64][]MemberProfile)
	for _, p := range profiles {
		byBranch[p.BranchID] = append(byBranch[p.BranchID], p)
	}
	ids := make([]int64, 0, len(byBranch))
	for id := range byBranch {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var written []SnapshotKey
	for _, id := range ids {
		for _, dk := range derivedKinds {
			spec, ok := s.catalog.Spec(dk.Kind)
			if !ok {
				continue
			}
			counts := make(map[string]decimal.Decimal)
			for _, m := range byBranch[id] {
				label, ok := dk.Bucket(m)
				if !ok {
					continue
				}
				counts[label] = counts[label].Add(decimal.NewFromInt(1))
			}
			snap, err := distribution.Real{}.Rebalance(spec, distribution.Input{Mode: distribution.Counts, Values: counts})
			if errors.Is(err, distribution.ErrEmptyDistribution) {
				continue
			}
			if err != nil {
				return written, err
			}
			if err := ReplaceSnapshot(ctx, w, s.catalog, id, snap); err != nil {
				return written, err
			}
			written = append(written, SnapshotKey{BranchID: id, Kind: snap.Kind})
		}
	}
	return written, nil
}
