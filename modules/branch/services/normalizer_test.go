package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(distribution.DefaultCatalog())
	require.NoError(t, err)
	return n
}

func TestNormalizer_SheetKind(t *testing.T) {
	n := newTestNormalizer(t)

	kind, ok := n.SheetKind(" 支部信息 ")
	require.True(t, ok)
	require.Equal(t, ingest.KindBranch, kind)

	kind, ok = n.SheetKind("ＰＥＲＳＯＮＳ")
	require.True(t, ok)
	require.Equal(t, ingest.KindPerson, kind)

	_, ok = n.SheetKind("Sheet1")
	require.False(t, ok)
}

func TestNormalizer_PersonRow(t *testing.T) {
	n := newTestNormalizer(t)

	rec, err := n.Normalize(ingest.KindPerson, "党员信息", 3, cells(
		"姓 名", " 张三 ",
		"所在支部", "机关党委/第一支部",
		"年龄", "４２",
		"入党时间", 45292,
		"技能等级取得时间", "2019年7月1日",
		"职称取得时间", "2019-13-45",
		"职务", "支部书记",
		"备注", "ignored",
	))
	require.NoError(t, err)
	require.Equal(t, 3, rec.Row)

	p := rec.Person()
	require.Equal(t, "张三", p.Name)
	require.Equal(t, "机关党委/第一支部", *p.OrgPath)
	require.Equal(t, 42, *p.Age)
	require.Equal(t, "2024-01-01", *p.JoinedOn)
	require.Equal(t, "2019-07-01", *p.SkillLevelDate)
	require.Nil(t, p.TechGradeDate)
	require.Equal(t, ingest.RoleSecretary, p.Role)
	require.Nil(t, p.Gender)

	require.Equal(t, []ingest.FieldIssue{{Field: ingest.FieldTechGradeDate, Message: `"2019-13-45" is not a date`}}, rec.Issues)
}

func TestNormalizer_DefaultsAndIssues(t *testing.T) {
	n := newTestNormalizer(t)

	rec, err := n.Normalize(ingest.KindPerson, "persons", 1, cells(
		"name", "李四",
		"age", 41.5,
		"role", "顾问",
		"joined on", "20210315",
	))
	require.NoError(t, err)
	p := rec.Person()
	require.Nil(t, p.Age)
	require.Equal(t, ingest.RoleMember, p.Role)
	require.Equal(t, "2021-03-15", *p.JoinedOn)
	require.Len(t, rec.Issues, 2)
	require.Equal(t, ingest.FieldAge, rec.Issues[0].Field)
	require.Equal(t, ingest.FieldRole, rec.Issues[1].Field)
}

func TestNormalizer_RequiredField(t *testing.T) {
	n := newTestNormalizer(t)

	_, err := n.Normalize(ingest.KindBranch, "branches", 2, cells("支部名称", "   ", "书记", "王五"))
	var validation *ingest.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, 2, validation.Row)
	require.Equal(t, ingest.FieldBranchName, validation.Field)

	_, err = n.Normalize(ingest.KindDistribution, "分布", 1, cells("支部名称", "第一支部", "分布类型", "籍贯"))
	require.ErrorAs(t, err, &validation)
	require.Equal(t, ingest.FieldDistributionKind, validation.Field)
}

func TestNormalizer_DistributionBuckets(t *testing.T) {
	n := newTestNormalizer(t)

	rec, err := n.Normalize(ingest.KindDistribution, "分布", 1, cells(
		"支部名称", "第一支部",
		"分布类型", "年龄结构",
		"数值类型", "占比",
		"35岁及以下", "40%",
		"36－45岁", 60,
		"研究生", 5,
		"46-55岁", "n/a",
	))
	require.NoError(t, err)

	d := rec.Distribution()
	require.Equal(t, "第一支部", d.BranchName)
	require.Equal(t, string(distribution.KindAge), d.Kind)
	require.Equal(t, ingest.ValuePercent, d.Mode)
	require.Len(t, d.Values, 2)
	require.True(t, decimal.NewFromInt(40).Equal(d.Values["35岁及以下"]))
	require.True(t, decimal.NewFromInt(60).Equal(d.Values["36-45岁"]))
	require.Len(t, rec.Issues, 1)
}

func TestNormalizer_UnmappedHeaders(t *testing.T) {
	n := newTestNormalizer(t)

	require.Equal(t, []string{"备注"}, n.UnmappedHeaders(ingest.KindBranch, []string{"支部名称", "备注", " "}))
	require.Empty(t, n.UnmappedHeaders(ingest.KindDistribution, []string{"支部", "类型", "高级技师"}))
}

func TestNewNormalizerFromYAML_Rejects(t *testing.T) {
	catalog := distribution.DefaultCatalog()

	cases := map[string]string{
		"unknown kind": `
sheets:
  team: [teams]
headers: {}
`,
		"colliding header": `
sheets:
  branch: [branches]
headers:
  branch:
    branch_name: [name]
    honors: [name]
`,
		"missing header table": `
sheets:
  branch: [branches]
headers:
  branch:
    branch_name: [name]
`,
		"malformed": `sheets: [`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewNormalizerFromYAML([]byte(data), catalog)
			require.Error(t, err)
		})
	}

	_, err := NewNormalizerFromYAML(defaultAliases, nil)
	require.Error(t, err)
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{"2024-01-01", "2024-01-01", true},
		{"2024/1/5", "2024-01-05", true},
		{"2024.03", "2024-03-01", true},
		{"20240105", "2024-01-05", true},
		{"45292", "2024-01-01", true},
		{45292.0, "2024-01-01", true},
		{"0", "", false},
		{"soon", "", false},
	}
	for _, tc := range cases {
		got, ok := parseDate(tc.in, cellText(tc.in))
		require.Equal(t, tc.ok, ok, "%v", tc.in)
		require.Equal(t, tc.want, got, "%v", tc.in)
	}
}
