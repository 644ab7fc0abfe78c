package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

func ptr[T any](v T) *T { return &v }

func TestAverageAge(t *testing.T) {
	require.Equal(t, "0", AverageAge(0, 0).String())
	require.Equal(t, "35.5", AverageAge(71, 2).String())
	require.Equal(t, "33.3", AverageAge(100, 3).String())
	require.Equal(t, "41.7", AverageAge(125, 3).String())
}

func seedBranch(d *fakeData, name string) int64 {
	id := d.id()
	d.Branches[id] = fakeBranch{Branch: ingest.Branch{Name: name}, Members: 9, AverageAge: decimal.NewFromInt(99)}
	return id
}

func seedPerson(d *fakeData, name string, branchID *int64, age *int, education string) int64 {
	id := d.id()
	p := ingest.Person{Name: name, Age: age, Role: ingest.RoleMember}
	if education != "" {
		p.Education = ptr(education)
	}
	d.Persons[id] = fakePerson{Person: p, BranchID: branchID}
	return id
}

func seedRole(d *fakeData, personID, branchID int64, role, source string) {
	d.Roles = append(d.Roles, fakeRole{ID: d.id(), RoleAssignment: RoleAssignment{PersonID: personID, BranchID: branchID, Role: role, Source: source}})
}

func TestAggregateService_Recompute(t *testing.T) {
	store := newFakeStore()
	d := store.data
	first := seedBranch(d, "第一支部")
	empty := seedBranch(d, "第二支部")
	a := seedPerson(d, "张三", &first, ptr(30), "硕士研究生")
	b := seedPerson(d, "李四", &first, ptr(41), "大专")
	c := seedPerson(d, "王五", &first, nil, "")
	seedRole(d, a, first, ingest.RoleMember, SourcePersonSheet)
	seedRole(d, a, first, ingest.RoleSecretary, SourceBranchSheet)
	seedRole(d, b, first, ingest.RoleMember, SourcePersonSheet)
	seedRole(d, c, first, ingest.RoleMember, SourcePersonSheet)
	d.Dists[distKey{BranchID: first, Kind: distribution.KindAge}] = distribution.Snapshot{Kind: distribution.KindAge, Synthetic: true}

	session, err := store.Begin(context.Background())
	require.NoError(t, err)
	report, err := NewAggregateService(distribution.DefaultCatalog()).Recompute(context.Background(), session)
	require.NoError(t, err)
	require.NoError(t, session.Commit(context.Background()))

	require.Equal(t, &RecomputeReport{
		Branches:      2,
		Memberships:   3,
		Distributions: 2,
		Derived: []SnapshotKey{
			{BranchID: first, Kind: distribution.KindAge},
			{BranchID: first, Kind: distribution.KindEducation},
		},
	}, report)

	got := store.data.Branches[first]
	require.Equal(t, 3, got.Members)
	require.Equal(t, "35.5", got.AverageAge.String())

	none := store.data.Branches[empty]
	require.Equal(t, 0, none.Members)
	require.True(t, none.AverageAge.IsZero())

	age := store.data.Dists[distKey{BranchID: first, Kind: distribution.KindAge}]
	require.False(t, age.Synthetic)
	require.Equal(t, map[string]int{"35岁及以下": 50, "36-45岁": 50, "46-55岁": 0, "56岁及以上": 0}, age.Percentages())

	education := store.data.Dists[distKey{BranchID: first, Kind: distribution.KindEducation}]
	require.Equal(t, 50, education.Percentages()["研究生"])
	require.Equal(t, 50, education.Percentages()["大学专科"])

	_, ok := store.data.Dists[distKey{BranchID: empty, Kind: distribution.KindAge}]
	require.False(t, ok)
}

func TestAggregateService_RecomputeAll(t *testing.T) {
	store := newFakeStore()
	unit := seedBranch(store.data, "第一支部")
	p := seedPerson(store.data, "张三", &unit, ptr(50), "")
	seedRole(store.data, p, unit, ingest.RoleMember, SourcePersonSheet)

	svc := NewAggregateService(distribution.DefaultCatalog())
	report, err := svc.RecomputeAll(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, 1, report.Branches)
	require.Equal(t, 1, store.commits)
	require.Equal(t, 1, store.data.Branches[unit].Members)

	store.fail["RebuildMembership"] = errors.New("disk full")
	_, err = svc.RecomputeAll(context.Background(), store)
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, 1, store.rollbacks)
}
