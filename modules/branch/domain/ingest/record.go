package ingest

import (
	"github.com/shopspring/decimal"
)

// Cell is one header/value pair of a raw sheet row. Value is a string,
// a number, or nil for a blank cell.
type Cell struct {
	Header string
	Value  any
}

// Row keeps the column order of the source sheet.
type Row []Cell

type Sheet struct {
	Name string
	Rows []Row
	// Lines holds the 1-based data-row number (header excluded, blank lines
	// counted) of each entry in Rows. Nil means Rows are numbered in order.
	Lines []int
}

// RowNumber is the reference reported for Rows[i].
func (s Sheet) RowNumber(i int) int {
	if i < len(s.Lines) {
		return s.Lines[i]
	}
	return i + 1
}

type Workbook struct {
	Sheets []Sheet
}

// FieldIssue is a non-fatal coercion failure: the field was left null.
type FieldIssue struct {
	Field   Field
	Message string
}

// Record is the canonical, typed form of one row. Every field of the kind's
// schema is present; a missing key means null.
type Record struct {
	Kind    EntityKind
	Sheet   string
	Row     int
	values  map[Field]any
	Buckets map[string]decimal.Decimal
	Issues  []FieldIssue
}

func NewRecord(kind EntityKind, sheet string, row int) *Record {
	return &Record{
		Kind:   kind,
		Sheet:  sheet,
		Row:    row,
		values: make(map[Field]any),
	}
}

func (r *Record) Set(f Field, v any) {
	if v == nil {
		delete(r.values, f)
		return
	}
	r.values[f] = v
}

func (r *Record) Text(f Field) (string, bool) {
	v, ok := r.values[f].(string)
	return v, ok
}

func (r *Record) Int(f Field) (int64, bool) {
	v, ok := r.values[f].(int64)
	return v, ok
}

func (r *Record) textPtr(f Field) *string {
	if v, ok := r.Text(f); ok {
		return &v
	}
	return nil
}

type Branch struct {
	Name                  string
	Secretary             *string
	DeputySecretary       *string
	OrganizationCommittee *string
	PropagandaCommittee   *string
	DisciplineCommittee   *string
	Performance           *string
	Honors                *string
}

// Leader is a name found in one of a unit's leadership columns.
type Leader struct {
	Role string
	Name string
}

func (b Branch) Leaders() []Leader {
	slots := map[Field]*string{
		FieldSecretary:             b.Secretary,
		FieldDeputySecretary:       b.DeputySecretary,
		FieldOrganizationCommittee: b.OrganizationCommittee,
		FieldPropagandaCommittee:   b.PropagandaCommittee,
		FieldDisciplineCommittee:   b.DisciplineCommittee,
	}
	var out []Leader
	for _, slot := range LeadershipSlots {
		if name := slots[slot.Field]; name != nil && *name != "" {
			out = append(out, Leader{Role: slot.Role, Name: *name})
		}
	}
	return out
}

func (r *Record) Branch() Branch {
	name, _ := r.Text(FieldBranchName)
	return Branch{
		Name:                  name,
		Secretary:             r.textPtr(FieldSecretary),
		DeputySecretary:       r.textPtr(FieldDeputySecretary),
		OrganizationCommittee: r.textPtr(FieldOrganizationCommittee),
		PropagandaCommittee:   r.textPtr(FieldPropagandaCommittee),
		DisciplineCommittee:   r.textPtr(FieldDisciplineCommittee),
		Performance:           r.textPtr(FieldPerformance),
		Honors:                r.textPtr(FieldHonors),
	}
}

type Person struct {
	Name           string
	OrgPath        *string
	Gender         *string
	Age            *int
	Education      *string
	SkillLevel     *string
	SkillLevelDate *string
	TechGrade      *string
	TechGradeDate  *string
	JoinedOn       *string
	Role           string
}

func (r *Record) Person() Person {
	name, _ := r.Text(FieldPersonName)
	p := Person{
		Name:           name,
		OrgPath:        r.textPtr(FieldOrgPath),
		Gender:         r.textPtr(FieldGender),
		Education:      r.textPtr(FieldEducation),
		SkillLevel:     r.textPtr(FieldSkillLevel),
		SkillLevelDate: r.textPtr(FieldSkillLevelDate),
		TechGrade:      r.textPtr(FieldTechGrade),
		TechGradeDate:  r.textPtr(FieldTechGradeDate),
		JoinedOn:       r.textPtr(FieldJoinedOn),
		Role:           RoleMember,
	}
	if age, ok := r.Int(FieldAge); ok {
		v := int(age)
		p.Age = &v
	}
	if role, ok := r.Text(FieldRole); ok && role != "" {
		p.Role = role
	}
	return p
}

type Distribution struct {
	BranchName string
	Kind       string
	Mode       ValueMode
	Values     map[string]decimal.Decimal
}

func (r *Record) Distribution() Distribution {
	name, _ := r.Text(FieldBranchName)
	kind, _ := r.Text(FieldDistributionKind)
	mode := ValueCount
	if v, ok := r.Text(FieldValueType); ok && v == string(ValuePercent) {
		mode = ValuePercent
	}
	values := make(map[string]decimal.Decimal, len(r.Buckets))
	for label, v := range r.Buckets {
		values[label] = v
	}
	return Distribution{BranchName: name, Kind: kind, Mode: mode, Values: values}
}
