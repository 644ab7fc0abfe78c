package ingest

// EntityKind tags which canonical schema a sheet row is normalized into.
type EntityKind string

const (
	KindBranch       EntityKind = "branch"
	KindPerson       EntityKind = "person"
	KindDistribution EntityKind = "distribution"
)

// ImportOrder is the order sheets are consumed in: units first so personnel
// rows can resolve their path, distributions last.
var ImportOrder = []EntityKind{KindBranch, KindPerson, KindDistribution}

func (k EntityKind) Valid() bool {
	switch k {
	case KindBranch, KindPerson, KindDistribution:
		return true
	default:
		return false
	}
}

type Field string

const (
	FieldBranchName            Field = "branch_name"
	FieldSecretary             Field = "secretary"
	FieldDeputySecretary       Field = "deputy_secretary"
	FieldOrganizationCommittee Field = "organization_committee"
	FieldPropagandaCommittee   Field = "propaganda_committee"
	FieldDisciplineCommittee   Field = "discipline_committee"
	FieldPerformance           Field = "performance"
	FieldHonors                Field = "honors"

	FieldPersonName     Field = "person_name"
	FieldOrgPath        Field = "org_path"
	FieldGender         Field = "gender"
	FieldAge            Field = "age"
	FieldEducation      Field = "education"
	FieldSkillLevel     Field = "skill_level"
	FieldSkillLevelDate Field = "skill_level_date"
	FieldTechGrade      Field = "tech_grade"
	FieldTechGradeDate  Field = "tech_grade_date"
	FieldJoinedOn       Field = "joined_on"
	FieldRole           Field = "role"

	FieldDistributionKind Field = "distribution_kind"
	FieldValueType        Field = "value_type"
)

type FieldType int

const (
	TypeText FieldType = iota
	TypeInt
	TypeDate
	// TypeEnum values are mapped through a value alias table.
	TypeEnum
)

type FieldSpec struct {
	Field    Field
	Type     FieldType
	Required bool
}

// Schemas is the fixed shape of a canonical record per entity kind.
var Schemas = map[EntityKind][]FieldSpec{
	KindBranch: {
		{Field: FieldBranchName, Type: TypeText, Required: true},
		{Field: FieldSecretary, Type: TypeText},
		{Field: FieldDeputySecretary, Type: TypeText},
		{Field: FieldOrganizationCommittee, Type: TypeText},
		{Field: FieldPropagandaCommittee, Type: TypeText},
		{Field: FieldDisciplineCommittee, Type: TypeText},
		{Field: FieldPerformance, Type: TypeText},
		{Field: FieldHonors, Type: TypeText},
	},
	KindPerson: {
		{Field: FieldPersonName, Type: TypeText, Required: true},
		{Field: FieldOrgPath, Type: TypeText},
		{Field: FieldGender, Type: TypeText},
		{Field: FieldAge, Type: TypeInt},
		{Field: FieldEducation, Type: TypeText},
		{Field: FieldSkillLevel, Type: TypeText},
		{Field: FieldSkillLevelDate, Type: TypeDate},
		{Field: FieldTechGrade, Type: TypeText},
		{Field: FieldTechGradeDate, Type: TypeDate},
		{Field: FieldJoinedOn, Type: TypeDate},
		{Field: FieldRole, Type: TypeEnum},
	},
	KindDistribution: {
		{Field: FieldBranchName, Type: TypeText, Required: true},
		{Field: FieldDistributionKind, Type: TypeEnum, Required: true},
		{Field: FieldValueType, Type: TypeEnum},
	},
}

// SchemaField looks up the spec of f within kind.
func SchemaField(kind EntityKind, f Field) (FieldSpec, bool) {
	for _, spec := range Schemas[kind] {
		if spec.Field == f {
			return spec, true
		}
	}
	return FieldSpec{}, false
}

// Role tags stored on role assignments.
const (
	RoleMember                = "member"
	RoleSecretary             = "secretary"
	RoleDeputySecretary       = "deputy_secretary"
	RoleOrganizationCommittee = "organization_committee"
	RolePropagandaCommittee   = "propaganda_committee"
	RoleDisciplineCommittee   = "discipline_committee"
)

// LeadershipSlots pairs each leadership column with the role it grants.
var LeadershipSlots = []struct {
	Field Field
	Role  string
}{
	{FieldSecretary, RoleSecretary},
	{FieldDeputySecretary, RoleDeputySecretary},
	{FieldOrganizationCommittee, RoleOrganizationCommittee},
	{FieldPropagandaCommittee, RolePropagandaCommittee},
	{FieldDisciplineCommittee, RoleDisciplineCommittee},
}

type ValueMode string

const (
	ValueCount   ValueMode = "count"
	ValuePercent ValueMode = "percent"
)
