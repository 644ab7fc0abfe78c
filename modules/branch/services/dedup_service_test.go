package services

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

func TestPlanMerges(t *testing.T) {
	groups := PlanMerges([]KeyedRow{
		{ID: 9, Key: "b"},
		{ID: 4, Key: "a"},
		{ID: 2, Key: "b"},
		{ID: 7, Key: "a"},
		{ID: 5, Key: "b"},
		{ID: 1, Key: "c"},
	})
	require.Equal(t, []MergeGroup{
		{Key: "b", Survivor: 2, Losers: []int64{5, 9}},
		{Key: "a", Survivor: 4, Losers: []int64{7}},
	}, groups)

	require.Empty(t, PlanMerges([]KeyedRow{{ID: 1, Key: "x"}, {ID: 2, Key: "y"}}))
}

func TestParseDedupTarget(t *testing.T) {
	target, err := ParseDedupTarget("")
	require.NoError(t, err)
	require.Equal(t, DedupPersons, target)

	target, err = ParseDedupTarget("branch")
	require.NoError(t, err)
	require.Equal(t, DedupBranches, target)

	_, err = ParseDedupTarget("role")
	require.Error(t, err)
}

func newDedupService(store Store, mode PersonKeyMode) *DedupService {
	return NewDedupService(store, mode, NewAggregateService(distribution.DefaultCatalog()))
}

func TestDedupService_MergesPersons(t *testing.T) {
	store := newFakeStore()
	d := store.data
	unit := seedBranch(d, "第一支部")
	keep := seedPerson(d, "张三", &unit, ptr(30), "")
	dup := seedPerson(d, "张三", &unit, ptr(31), "")
	other := seedPerson(d, "张三", nil, nil, "")
	seedRole(d, keep, unit, ingest.RoleMember, SourcePersonSheet)
	seedRole(d, dup, unit, ingest.RoleMember, SourcePersonSheet)
	seedRole(d, dup, unit, ingest.RoleSecretary, SourceBranchSheet)

	svc := newDedupService(store, PersonKeyNameBranch)
	report, err := svc.Run(context.Background(), DedupPersons, false)
	require.NoError(t, err)

	require.Equal(t, []MergeGroup{{Key: "张三\x1f" + itoa(unit), Survivor: keep, Losers: []int64{dup}}}, report.Groups)
	require.Equal(t, int64(1), report.Removed)
	require.Equal(t, int64(2), report.Repointed["role_assignments.person_id"])
	require.Equal(t, int64(1), report.Collapsed)
	require.NotNil(t, report.Recompute)

	require.Equal(t, []int64{keep, other}, store.personIDs("张三"))
	require.Len(t, store.data.Roles, 2)
	for _, r := range store.data.Roles {
		require.Equal(t, keep, r.PersonID)
	}
	require.Equal(t, 1, store.data.Branches[unit].Members)

	again, err := svc.Run(context.Background(), DedupPersons, false)
	require.NoError(t, err)
	require.Empty(t, again.Groups)
	require.Equal(t, int64(0), again.Removed)
	require.Equal(t, int64(0), again.Collapsed)
}

func TestDedupService_NameKeyMergesAcrossUnits(t *testing.T) {
	store := newFakeStore()
	d := store.data
	one := seedBranch(d, "第一支部")
	two := seedBranch(d, "第二支部")
	seedPerson(d, "张三", &one, nil, "")
	seedPerson(d, "张三", &two, nil, "")

	report, err := newDedupService(store, PersonKeyName).Run(context.Background(), DedupPersons, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), report.Removed)
	require.Len(t, store.personIDs("张三"), 1)
}

func TestDedupService_MergesBranches(t *testing.T) {
	store := newFakeStore()
	d := store.data
	keep := seedBranch(d, "第一支部")
	dup := seedBranch(d, "第一支部")
	p := seedPerson(d, "张三", &dup, ptr(40), "")
	seedRole(d, p, dup, ingest.RoleMember, SourcePersonSheet)
	d.Dists[distKey{BranchID: dup, Kind: distribution.KindSkill}] = distribution.Snapshot{Kind: distribution.KindSkill}

	report, err := newDedupService(store, PersonKeyNameBranch).Run(context.Background(), DedupBranches, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), report.Removed)
	require.Equal(t, int64(1), report.Repointed["persons.branch_id"])
	require.Equal(t, int64(1), report.Repointed["role_assignments.branch_id"])
	require.Equal(t, int64(1), report.Dropped["branch_distributions.branch_id"])

	require.Len(t, store.data.Branches, 1)
	require.Equal(t, keep, *store.data.Persons[p].BranchID)
	require.Equal(t, 1, store.data.Branches[keep].Members)
	require.Equal(t, "40", store.data.Branches[keep].AverageAge.String())
}

func TestDedupService_DryRunRollsBack(t *testing.T) {
	store := newFakeStore()
	d := store.data
	unit := seedBranch(d, "第一支部")
	seedPerson(d, "张三", &unit, nil, "")
	seedPerson(d, "张三", &unit, nil, "")

	report, err := newDedupService(store, PersonKeyNameBranch).Run(context.Background(), DedupPersons, true)
	require.NoError(t, err)
	require.True(t, report.DryRun)
	require.Equal(t, int64(1), report.Removed)
	require.Len(t, store.personIDs("张三"), 2)
	require.Equal(t, 0, store.commits)
	require.Equal(t, 1, store.rollbacks)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
