package persistence

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
	"github.com/iota-uz/branchboard/modules/branch/services"
	"github.com/iota-uz/branchboard/pkg/composables"
)

// Store opens sessions on a pgx pool. A transaction already attached to the
// context is reused as the outer scope.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (services.Session, error) {
	tx, err := composables.BeginTx(ctx, s.pool)
	if err != nil {
		return nil, gerrors.Wrap(err, "begin transaction")
	}
	return &Session{tx: tx}, nil
}

// Session implements services.Session on one pgx transaction. Savepoints
// are pgx nested transactions.
type Session struct {
	tx pgx.Tx
}

func (s *Session) Savepoint(ctx context.Context) (services.Session, error) {
	nested, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, gerrors.Wrap(err, "savepoint")
	}
	return &Session{tx: nested}, nil
}

func (s *Session) Commit(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

func (s *Session) Rollback(ctx context.Context) error {
	return s.tx.Rollback(ctx)
}

func (s *Session) ListBranches(ctx context.Context) ([]services.NamedID, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, name FROM branches ORDER BY id`)
	if err != nil {
		return nil, gerrors.Wrap(err, "list branches")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (services.NamedID, error) {
		var b services.NamedID
		err := row.Scan(&b.ID, &b.Name)
		return b, err
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "scan branches")
	}
	return out, nil
}

func (s *Session) ListPersons(ctx context.Context) ([]services.PersonRef, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, name, branch_id FROM persons ORDER BY id`)
	if err != nil {
		return nil, gerrors.Wrap(err, "list persons")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (services.PersonRef, error) {
		var p services.PersonRef
		err := row.Scan(&p.ID, &p.Name, &p.BranchID)
		return p, err
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "scan persons")
	}
	return out, nil
}

const insertBranchSQL = `
INSERT INTO branches (
	name, secretary, deputy_secretary, organization_committee,
	propaganda_committee, discipline_committee, performance, honors
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

func (s *Session) InsertBranch(ctx context.Context, b ingest.Branch) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, insertBranchSQL,
		b.Name, b.Secretary, b.DeputySecretary, b.OrganizationCommittee,
		b.PropagandaCommittee, b.DisciplineCommittee, b.Performance, b.Honors,
	).Scan(&id)
	if err != nil {
		return 0, gerrors.Wrap(err, "insert branch")
	}
	return id, nil
}

const updateBranchSQL = `
UPDATE branches SET
	name = $2,
	secretary = $3,
	deputy_secretary = $4,
	organization_committee = $5,
	propaganda_committee = $6,
	discipline_committee = $7,
	performance = $8,
	honors = $9,
	updated_at = now()
WHERE id = $1`

func (s *Session) UpdateBranch(ctx context.Context, id int64, b ingest.Branch) error {
	_, err := s.tx.Exec(ctx, updateBranchSQL, id,
		b.Name, b.Secretary, b.DeputySecretary, b.OrganizationCommittee,
		b.PropagandaCommittee, b.DisciplineCommittee, b.Performance, b.Honors,
	)
	if err != nil {
		return gerrors.Wrap(err, "update branch")
	}
	return nil
}

// personDates converts the canonical YYYY-MM-DD text of a person row.
func personDates(p ingest.Person) ([3]pgtype.Date, error) {
	var out [3]pgtype.Date
	for i, v := range []*string{p.SkillLevelDate, p.TechGradeDate, p.JoinedOn} {
		if v == nil {
			continue
		}
		t, err := time.Parse(time.DateOnly, *v)
		if err != nil {
			return out, gerrors.Wrapf(err, "parse date %q", *v)
		}
		out[i] = pgtype.Date{Time: t, Valid: true}
	}
	return out, nil
}

const insertPersonSQL = `
INSERT INTO persons (
	name, org_path, branch_id, gender, age, education,
	skill_level, skill_level_date, tech_grade, tech_grade_date, joined_on
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`

func (s *Session) InsertPerson(ctx context.Context, p ingest.Person, branchID *int64) (int64, error) {
	dates, err := personDates(p)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.tx.QueryRow(ctx, insertPersonSQL,
		p.Name, p.OrgPath, branchID, p.Gender, p.Age, p.Education,
		p.SkillLevel, dates[0], p.TechGrade, dates[1], dates[2],
	).Scan(&id)
	if err != nil {
		return 0, gerrors.Wrap(err, "insert person")
	}
	return id, nil
}

const updatePersonSQL = `
UPDATE persons SET
	name = $2,
	org_path = $3,
	branch_id = $4,
	gender = $5,
	age = $6,
	education = $7,
	skill_level = $8,
	skill_level_date = $9,
	tech_grade = $10,
	tech_grade_date = $11,
	joined_on = $12,
	updated_at = now()
WHERE id = $1`

func (s *Session) UpdatePerson(ctx context.Context, id int64, p ingest.Person, branchID *int64) error {
	dates, err := personDates(p)
	if err != nil {
		return err
	}
	_, err = s.tx.Exec(ctx, updatePersonSQL, id,
		p.Name, p.OrgPath, branchID, p.Gender, p.Age, p.Education,
		p.SkillLevel, dates[0], p.TechGrade, dates[1], dates[2],
	)
	if err != nil {
		return gerrors.Wrap(err, "update person")
	}
	return nil
}

func (s *Session) ReplaceRoleAssignments(ctx context.Context, scope services.RoleScope, rows []services.RoleAssignment) error {
	var err error
	switch scope.Source {
	case services.SourcePersonSheet:
		_, err = s.tx.Exec(ctx, `DELETE FROM role_assignments WHERE source = $1 AND person_id = $2`, scope.Source, scope.PersonID)
	case services.SourceBranchSheet:
		_, err = s.tx.Exec(ctx, `DELETE FROM role_assignments WHERE source = $1 AND branch_id = $2`, scope.Source, scope.BranchID)
	default:
		return gerrors.Errorf("unknown role assignment source %q", scope.Source)
	}
	if err != nil {
		return gerrors.Wrap(err, "clear role assignments")
	}
	for _, r := range rows {
		if r.Source != scope.Source {
			return gerrors.Errorf("role assignment source %q outside scope %q", r.Source, scope.Source)
		}
		if _, err := s.tx.Exec(ctx,
			`INSERT INTO role_assignments (person_id, branch_id, role, source) VALUES ($1, $2, $3, $4)`,
			r.PersonID, r.BranchID, r.Role, r.Source,
		); err != nil {
			return gerrors.Wrap(err, "insert role assignment")
		}
	}
	return nil
}

func (s *Session) ReplaceDistribution(ctx context.Context, branchID int64, snap distribution.Snapshot) error {
	if _, err := s.tx.Exec(ctx,
		`DELETE FROM branch_distributions WHERE branch_id = $1 AND kind = $2`,
		branchID, string(snap.Kind),
	); err != nil {
		return gerrors.Wrap(err, "clear distribution")
	}
	batch := &pgx.Batch{}
	for _, b := range snap.Buckets {
		batch.Queue(
			`INSERT INTO branch_distributions (branch_id, kind, label, percentage, synthetic) VALUES ($1, $2, $3, $4, $5)`,
			branchID, string(snap.Kind), b.Label, b.Percentage, snap.Synthetic,
		)
	}
	if err := s.tx.SendBatch(ctx, batch).Close(); err != nil {
		return gerrors.Wrap(err, "insert distribution")
	}
	return nil
}

func (s *Session) ListSnapshotKeys(ctx context.Context) ([]services.SnapshotKey, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT branch_id, kind, bool_or(synthetic)
		FROM branch_distributions
		GROUP BY branch_id, kind
		ORDER BY branch_id, kind`)
	if err != nil {
		return nil, gerrors.Wrap(err, "list snapshot keys")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (services.SnapshotKey, error) {
		var (
			k    services.SnapshotKey
			kind string
		)
		err := row.Scan(&k.BranchID, &kind, &k.Synthetic)
		k.Kind = distribution.Kind(kind)
		return k, err
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "scan snapshot keys")
	}
	return out, nil
}

func (s *Session) RebuildMembership(ctx context.Context) (int64, error) {
	if _, err := s.tx.Exec(ctx, `DELETE FROM branch_members`); err != nil {
		return 0, gerrors.Wrap(err, "clear memberships")
	}
	tag, err := s.tx.Exec(ctx, `
		INSERT INTO branch_members (branch_id, person_id)
		SELECT DISTINCT branch_id, person_id FROM role_assignments`)
	if err != nil {
		return 0, gerrors.Wrap(err, "rebuild memberships")
	}
	return tag.RowsAffected(), nil
}

func (s *Session) MemberStats(ctx context.Context) ([]services.MemberStats, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT b.id,
		       count(p.id)::int,
		       coalesce(sum(p.age), 0)::bigint,
		       count(p.age)::int
		FROM branches b
		LEFT JOIN branch_members m ON m.branch_id = b.id
		LEFT JOIN persons p ON p.id = m.person_id
		GROUP BY b.id
		ORDER BY b.id`)
	if err != nil {
		return nil, gerrors.Wrap(err, "member stats")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (services.MemberStats, error) {
		var st services.MemberStats
		err := row.Scan(&st.BranchID, &st.Members, &st.AgeSum, &st.AgeCount)
		return st, err
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "scan member stats")
	}
	return out, nil
}

func (s *Session) MemberProfiles(ctx context.Context) ([]services.MemberProfile, error) {
	rows, err := s.tx.Query(ctx, `
		SELECT m.branch_id, p.age, p.education, p.skill_level
		FROM branch_members m
		JOIN persons p ON p.id = m.person_id
		ORDER BY m.branch_id, p.id`)
	if err != nil {
		return nil, gerrors.Wrap(err, "member profiles")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (services.MemberProfile, error) {
		var m services.MemberProfile
		err := row.Scan(&m.BranchID, &m.Age, &m.Education, &m.SkillLevel)
		return m, err
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "scan member profiles")
	}
	return out, nil
}

func (s *Session) UpdateBranchAggregates(ctx context.Context, id int64, members int, averageAge decimal.Decimal) error {
	_, err := s.tx.Exec(ctx,
		`UPDATE branches SET member_count = $2, average_age = $3::numeric, updated_at = now() WHERE id = $1`,
		id, members, averageAge.StringFixed(1),
	)
	if err != nil {
		return gerrors.Wrap(err, "update branch aggregates")
	}
	return nil
}

func (s *Session) Repoint(ctx context.Context, ref services.Reference, survivor int64, losers []int64) (int64, error) {
	col := pgx.Identifier{ref.Column}.Sanitize()
	tag, err := s.tx.Exec(ctx,
		"UPDATE "+pgx.Identifier{ref.Table}.Sanitize()+" SET "+col+" = $1 WHERE "+col+" = ANY($2)",
		survivor, losers,
	)
	if err != nil {
		return 0, gerrors.Wrapf(err, "repoint %s.%s", ref.Table, ref.Column)
	}
	return tag.RowsAffected(), nil
}

func (s *Session) DropReferences(ctx context.Context, ref services.Reference, losers []int64) (int64, error) {
	tag, err := s.tx.Exec(ctx,
		"DELETE FROM "+pgx.Identifier{ref.Table}.Sanitize()+" WHERE "+pgx.Identifier{ref.Column}.Sanitize()+" = ANY($1)",
		losers,
	)
	if err != nil {
		return 0, gerrors.Wrapf(err, "drop %s.%s", ref.Table, ref.Column)
	}
	return tag.RowsAffected(), nil
}

func (s *Session) CollapseRoleAssignments(ctx context.Context) (int64, error) {
	tag, err := s.tx.Exec(ctx, `
		DELETE FROM role_assignments a
		USING role_assignments b
		WHERE a.person_id = b.person_id
		  AND a.branch_id = b.branch_id
		  AND a.role = b.role
		  AND a.source = b.source
		  AND a.id > b.id`)
	if err != nil {
		return 0, gerrors.Wrap(err, "collapse role assignments")
	}
	return tag.RowsAffected(), nil
}

func (s *Session) DeleteEntities(ctx context.Context, table string, ids []int64) (int64, error) {
	tag, err := s.tx.Exec(ctx, "DELETE FROM "+pgx.Identifier{table}.Sanitize()+" WHERE id = ANY($1)", ids)
	if err != nil {
		return 0, gerrors.Wrapf(err, "delete from %s", table)
	}
	return tag.RowsAffected(), nil
}

var _ services.Store = (*Store)(nil)
var _ services.Session = (*Session)(nil)
