package services

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

// Role assignment sources. Each source replaces only its own rows.
const (
	SourcePersonSheet = "person_sheet"
	SourceBranchSheet = "branch_sheet"
)

type RoleAssignment struct {
	PersonID int64
	BranchID int64
	Role     string
	Source   string
}

// RoleScope selects the snapshot a ReplaceRoleAssignments call owns: the
// person-sheet rows of one person, or the branch-sheet rows of one unit.
type RoleScope struct {
	Source   string
	PersonID int64
	BranchID int64
}

type SnapshotKey struct {
	BranchID  int64
	Kind      distribution.Kind
	Synthetic bool
}

type MemberStats struct {
	BranchID int64
	Members  int
	AgeSum   int64
	AgeCount int
}

type MemberProfile struct {
	BranchID   int64
	Age        *int
	Education  *string
	SkillLevel *string
}

// Reference is a foreign key that points at a deduplicated table.
type Reference struct {
	Table  string
	Column string
	Mode   RepairMode
}

type RepairMode string

const (
	// RepairRepoint rewrites the key to the survivor.
	RepairRepoint RepairMode = "repoint"
	// RepairDrop deletes the loser's rows; they are rebuilt or superseded.
	RepairDrop RepairMode = "drop"
)

type IndexReader interface {
	ListBranches(ctx context.Context) ([]NamedID, error)
	ListPersons(ctx context.Context) ([]PersonRef, error)
}

type BranchWriter interface {
	InsertBranch(ctx context.Context, b ingest.Branch) (int64, error)
	UpdateBranch(ctx context.Context, id int64, b ingest.Branch) error
}

type PersonWriter interface {
	InsertPerson(ctx context.Context, p ingest.Person, branchID *int64) (int64, error)
	UpdatePerson(ctx context.Context, id int64, p ingest.Person, branchID *int64) error
}

type RoleWriter interface {
	ReplaceRoleAssignments(ctx context.Context, scope RoleScope, rows []RoleAssignment) error
}

type SnapshotWriter interface {
	ReplaceDistribution(ctx context.Context, branchID int64, snap distribution.Snapshot) error
	ListSnapshotKeys(ctx context.Context) ([]SnapshotKey, error)
}

type AggregateStore interface {
	RebuildMembership(ctx context.Context) (int64, error)
	MemberStats(ctx context.Context) ([]MemberStats, error)
	MemberProfiles(ctx context.Context) ([]MemberProfile, error)
	UpdateBranchAggregates(ctx context.Context, id int64, members int, averageAge decimal.Decimal) error
}

type DedupStore interface {
	Repoint(ctx context.Context, ref Reference, survivor int64, losers []int64) (int64, error)
	DropReferences(ctx context.Context, ref Reference, losers []int64) (int64, error)
	CollapseRoleAssignments(ctx context.Context) (int64, error)
	DeleteEntities(ctx context.Context, table string, ids []int64) (int64, error)
}

// Session is one open transaction. Savepoint opens a nested scope that can be
// rolled back without losing earlier work; nothing is durable until the
// outermost session commits.
type Session interface {
	IndexReader
	BranchWriter
	PersonWriter
	RoleWriter
	SnapshotWriter
	AggregateStore
	DedupStore

	Savepoint(ctx context.Context) (Session, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Store interface {
	Begin(ctx context.Context) (Session, error)
}
