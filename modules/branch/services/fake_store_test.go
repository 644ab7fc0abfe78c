package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

type fakeBranch struct {
	ingest.Branch
	Members    int
	AverageAge decimal.Decimal
}

type fakePerson struct {
	ingest.Person
	BranchID *int64
}

type fakeRole struct {
	ID int64
	RoleAssignment
}

type distKey struct {
	BranchID int64
	Kind     distribution.Kind
}

// fakeData is the whole database; sessions work on private copies and
// publish them on commit.
type fakeData struct {
	NextID   int64
	Branches map[int64]fakeBranch
	Persons  map[int64]fakePerson
	Roles    []fakeRole
	Members  map[[2]int64]bool
	Dists    map[distKey]distribution.Snapshot
}

func newFakeData() *fakeData {
	return &fakeData{
		Branches: map[int64]fakeBranch{},
		Persons:  map[int64]fakePerson{},
		Members:  map[[2]int64]bool{},
		Dists:    map[distKey]distribution.Snapshot{},
	}
}

func (d *fakeData) clone() *fakeData {
	return &fakeData{
		NextID:   d.NextID,
		Branches: maps.Clone(d.Branches),
		Persons:  maps.Clone(d.Persons),
		Roles:    slices.Clone(d.Roles),
		Members:  maps.Clone(d.Members),
		Dists:    maps.Clone(d.Dists),
	}
}

func (d *fakeData) id() int64 {
	d.NextID++
	return d.NextID
}

// fakeStore implements Store in memory. fail injects errors by method name.
type fakeStore struct {
	data      *fakeData
	fail      map[string]error
	commits   int
	rollbacks int
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: newFakeData(), fail: map[string]error{}}
}

func (s *fakeStore) Begin(ctx context.Context) (Session, error) {
	if err := s.fail["Begin"]; err != nil {
		return nil, err
	}
	return &fakeSession{store: s, data: s.data.clone()}, nil
}

func (s *fakeStore) branchID(name string) int64 {
	for id, b := range s.data.Branches {
		if b.Name == name {
			return id
		}
	}
	return 0
}

func (s *fakeStore) personIDs(name string) []int64 {
	var out []int64
	for id, p := range s.data.Persons {
		if p.Name == name {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type fakeSession struct {
	store  *fakeStore
	parent *fakeSession
	data   *fakeData
	closed bool
}

var errSessionClosed = errors.New("session closed")

func (s *fakeSession) check(method string) error {
	if s.closed {
		return errSessionClosed
	}
	return s.store.fail[method]
}

func (s *fakeSession) Savepoint(ctx context.Context) (Session, error) {
	if err := s.check("Savepoint"); err != nil {
		return nil, err
	}
	return &fakeSession{store: s.store, parent: s, data: s.data.clone()}, nil
}

func (s *fakeSession) Commit(ctx context.Context) error {
	if s.closed {
		return errSessionClosed
	}
	s.closed = true
	if s.parent != nil {
		s.parent.data = s.data
		return nil
	}
	if err := s.store.fail["Commit"]; err != nil {
		return err
	}
	s.store.data = s.data
	s.store.commits++
	return nil
}

func (s *fakeSession) Rollback(ctx context.Context) error {
	if s.closed {
		return errSessionClosed
	}
	s.closed = true
	if s.parent == nil {
		s.store.rollbacks++
	}
	return nil
}

func (s *fakeSession) ListBranches(ctx context.Context) ([]NamedID, error) {
	if err := s.check("ListBranches"); err != nil {
		return nil, err
	}
	out := make([]NamedID, 0, len(s.data.Branches))
	for id, b := range s.data.Branches {
		out = append(out, NamedID{ID: id, Name: b.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeSession) ListPersons(ctx context.Context) ([]PersonRef, error) {
	if err := s.check("ListPersons"); err != nil {
		return nil, err
	}
	out := make([]PersonRef, 0, len(s.data.Persons))
	for id, p := range s.data.Persons {
		out = append(out, PersonRef{ID: id, Name: p.Name, BranchID: p.BranchID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func (s *fakeSession) InsertBranch(ctx context.Context, b ingest.Branch) (int64, error) {
	if err := s.check("InsertBranch"); err != nil {
		return 0, err
	}
	for _, existing := range s.data.Branches {
		if existing.Name == b.Name {
			return 0, uniqueViolation("branches_name_key")
		}
	}
	id := s.data.id()
	s.data.Branches[id] = fakeBranch{Branch: b}
	return id, nil
}

func (s *fakeSession) UpdateBranch(ctx context.Context, id int64, b ingest.Branch) error {
	if err := s.check("UpdateBranch"); err != nil {
		return err
	}
	cur, ok := s.data.Branches[id]
	if !ok {
		return fmt.Errorf("branch %d not found", id)
	}
	cur.Branch = b
	s.data.Branches[id] = cur
	return nil
}

func (s *fakeSession) checkPerson(p ingest.Person, branchID *int64) error {
	if p.Age != nil && (*p.Age < 0 || *p.Age > 150) {
		return &pgconn.PgError{Code: "23514", ConstraintName: "persons_age_check", Message: "new row violates check constraint"}
	}
	if branchID != nil {
		if _, ok := s.data.Branches[*branchID]; !ok {
			return &pgconn.PgError{Code: "23503", ConstraintName: "persons_branch_id_fkey", Message: "violates foreign key constraint"}
		}
	}
	return nil
}

func (s *fakeSession) InsertPerson(ctx context.Context, p ingest.Person, branchID *int64) (int64, error) {
	if err := s.check("InsertPerson"); err != nil {
		return 0, err
	}
	if err := s.checkPerson(p, branchID); err != nil {
		return 0, err
	}
	id := s.data.id()
	s.data.Persons[id] = fakePerson{Person: p, BranchID: branchID}
	return id, nil
}

func (s *fakeSession) UpdatePerson(ctx context.Context, id int64, p ingest.Person, branchID *int64) error {
	if err := s.check("UpdatePerson"); err != nil {
		return err
	}
	if err := s.checkPerson(p, branchID); err != nil {
		return err
	}
	if _, ok := s.data.Persons[id]; !ok {
		return fmt.Errorf("person %d not found", id)
	}
	s.data.Persons[id] = fakePerson{Person: p, BranchID: branchID}
	return nil
}

func (s *fakeSession) ReplaceRoleAssignments(ctx context.Context, scope RoleScope, rows []RoleAssignment) error {
	if err := s.check("ReplaceRoleAssignments"); err != nil {
		return err
	}
	kept := s.data.Roles[:0:0]
	for _, r := range s.data.Roles {
		if r.Source == scope.Source && ((scope.Source == SourcePersonSheet && r.PersonID == scope.PersonID) ||
			(scope.Source == SourceBranchSheet && r.BranchID == scope.BranchID)) {
			continue
		}
		kept = append(kept, r)
	}
	for _, r := range rows {
		kept = append(kept, fakeRole{ID: s.data.id(), RoleAssignment: r})
	}
	s.data.Roles = kept
	return nil
}

func (s *fakeSession) ReplaceDistribution(ctx context.Context, branchID int64, snap distribution.Snapshot) error {
	if err := s.check("ReplaceDistribution"); err != nil {
		return err
	}
	for _, b := range snap.Buckets {
		if b.Percentage < 0 || b.Percentage > 100 {
			return &pgconn.PgError{Code: "23514", ConstraintName: "branch_distributions_percentage_check"}
		}
	}
	s.data.Dists[distKey{BranchID: branchID, Kind: snap.Kind}] = snap
	return nil
}

func (s *fakeSession) ListSnapshotKeys(ctx context.Context) ([]SnapshotKey, error) {
	if err := s.check("ListSnapshotKeys"); err != nil {
		return nil, err
	}
	var out []SnapshotKey
	for k, snap := range s.data.Dists {
		out = append(out, SnapshotKey{BranchID: k.BranchID, Kind: k.Kind, Synthetic: snap.Synthetic})
	}
	return out, nil
}

func (s *fakeSession) RebuildMembership(ctx context.Context) (int64, error) {
	if err := s.check("RebuildMembership"); err != nil {
		return 0, err
	}
	s.data.Members = map[[2]int64]bool{}
	for _, r := range s.data.Roles {
		s.data.Members[[2]int64{r.BranchID, r.PersonID}] = true
	}
	return int64(len(s.data.Members)), nil
}

func (s *fakeSession) MemberStats(ctx context.Context) ([]MemberStats, error) {
	if err := s.check("MemberStats"); err != nil {
		return nil, err
	}
	byBranch := map[int64]*MemberStats{}
	for id := range s.data.Branches {
		byBranch[id] = &MemberStats{BranchID: id}
	}
	for m := range s.data.Members {
		st, ok := byBranch[m[0]]
		if !ok {
			continue
		}
		st.Members++
		if p := s.data.Persons[m[1]]; p.Age != nil {
			st.AgeSum += int64(*p.Age)
			st.AgeCount++
		}
	}
	out := make([]MemberStats, 0, len(byBranch))
	for _, st := range byBranch {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BranchID < out[j].BranchID })
	return out, nil
}

func (s *fakeSession) MemberProfiles(ctx context.Context) ([]MemberProfile, error) {
	if err := s.check("MemberProfiles"); err != nil {
		return nil, err
	}
	var out []MemberProfile
	for m := range s.data.Members {
		p := s.data.Persons[m[1]]
		out = append(out, MemberProfile{BranchID: m[0], Age: p.Age, Education: p.Education, SkillLevel: p.SkillLevel})
	}
	return out, nil
}

func (s *fakeSession) UpdateBranchAggregates(ctx context.Context, id int64, members int, averageAge decimal.Decimal) error {
	if err := s.check("UpdateBranchAggregates"); err != nil {
		return err
	}
	b := s.data.Branches[id]
	b.Members = members
	b.AverageAge = averageAge
	s.data.Branches[id] = b
	return nil
}

func (s *fakeSession) Repoint(ctx context.Context, ref Reference, survivor int64, losers []int64) (int64, error) {
	if err := s.check("Repoint"); err != nil {
		return 0, err
	}
	var n int64
	switch ref.Table + "." + ref.Column {
	case "role_assignments.person_id":
		for i, r := range s.data.Roles {
			if slices.Contains(losers, r.PersonID) {
				s.data.Roles[i].PersonID = survivor
				n++
			}
		}
	case "role_assignments.branch_id":
		for i, r := range s.data.Roles {
			if slices.Contains(losers, r.BranchID) {
				s.data.Roles[i].BranchID = survivor
				n++
			}
		}
	case "persons.branch_id":
		for id, p := range s.data.Persons {
			if p.BranchID != nil && slices.Contains(losers, *p.BranchID) {
				sv := survivor
				p.BranchID = &sv
				s.data.Persons[id] = p
				n++
			}
		}
	default:
		return 0, fmt.Errorf("unexpected repoint %s.%s", ref.Table, ref.Column)
	}
	return n, nil
}

func (s *fakeSession) DropReferences(ctx context.Context, ref Reference, losers []int64) (int64, error) {
	if err := s.check("DropReferences"); err != nil {
		return 0, err
	}
	var n int64
	switch ref.Table {
	case "branch_members":
		col := 1
		if ref.Column == "branch_id" {
			col = 0
		}
		for m := range s.data.Members {
			if slices.Contains(losers, m[col]) {
				delete(s.data.Members, m)
				n++
			}
		}
	case "branch_distributions":
		for k := range s.data.Dists {
			if slices.Contains(losers, k.BranchID) {
				delete(s.data.Dists, k)
				n++
			}
		}
	default:
		return 0, fmt.Errorf("unexpected drop %s.%s", ref.Table, ref.Column)
	}
	return n, nil
}

func (s *fakeSession) CollapseRoleAssignments(ctx context.Context) (int64, error) {
	if err := s.check("CollapseRoleAssignments"); err != nil {
		return 0, err
	}
	sort.Slice(s.data.Roles, func(i, j int) bool { return s.data.Roles[i].ID < s.data.Roles[j].ID })
	seen := map[RoleAssignment]bool{}
	kept := s.data.Roles[:0:0]
	var n int64
	for _, r := range s.data.Roles {
		if seen[r.RoleAssignment] {
			n++
			continue
		}
		seen[r.RoleAssignment] = true
		kept = append(kept, r)
	}
	s.data.Roles = kept
	return n, nil
}

func (s *fakeSession) DeleteEntities(ctx context.Context, table string, ids []int64) (int64, error) {
	if err := s.check("DeleteEntities"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		switch table {
		case "persons":
			if _, ok := s.data.Persons[id]; ok {
				delete(s.data.Persons, id)
				n++
			}
		case "branches":
			if _, ok := s.data.Branches[id]; ok {
				delete(s.data.Branches, id)
				n++
			}
		default:
			return 0, fmt.Errorf("unexpected table %q", table)
		}
	}
	return n, nil
}

var _ Store = (*fakeStore)(nil)
var _ Session = (*fakeSession)(nil)
