package workbook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

func buildXLSX(t *testing.T, sheets map[string][][]any, order []string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, line := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			line := line
			require.NoError(t, f.SetSheetRow(name, cell, &line))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestOpen_XLSX(t *testing.T) {
	buf := buildXLSX(t, map[string][][]any{
		"支部信息": {
			{"支部名称", "书记"},
			{"第一支部", "张三"},
			{nil, nil},
			{"第二支部"},
		},
		"党员信息": {
			{},
			{"姓名", "年龄", "入党时间"},
			{"李四", 41, 45292},
		},
	}, []string{"支部信息", "党员信息"})

	wb, err := Open(buf, "upload.xlsx")
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 2)

	branches := wb.Sheets[0]
	require.Equal(t, "支部信息", branches.Name)
	require.Len(t, branches.Rows, 2)
	require.Equal(t, ingest.Row{{Header: "支部名称", Value: "第一支部"}, {Header: "书记", Value: "张三"}}, branches.Rows[0])
	require.Equal(t, ingest.Row{{Header: "支部名称", Value: "第二支部"}, {Header: "书记", Value: nil}}, branches.Rows[1])

	require.Equal(t, []int{1, 3}, branches.Lines)

	persons := wb.Sheets[1]
	require.Len(t, persons.Rows, 1)
	require.Equal(t, []int{1}, persons.Lines)
	require.Equal(t, "李四", persons.Rows[0][0].Value)
	require.Equal(t, "41", persons.Rows[0][1].Value)
	require.Equal(t, "45292", persons.Rows[0][2].Value)
}

func TestOpen_CSV(t *testing.T) {
	data := "\xEF\xBB\xBF支部名称, 书记 ,\n第一支部,张三,x\n,,\n第二支部\n"

	wb, err := Open(strings.NewReader(data), "/tmp/branches.csv")
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	sheet := wb.Sheets[0]
	require.Equal(t, "branches", sheet.Name)
	require.Equal(t, []ingest.Row{
		{{Header: "支部名称", Value: "第一支部"}, {Header: "书记", Value: "张三"}},
		{{Header: "支部名称", Value: "第二支部"}, {Header: "书记", Value: nil}},
	}, sheet.Rows)
}

func TestOpen_CSVKeepsSourceRowNumbers(t *testing.T) {
	data := "支部名称,书记\n第一支部,张三\n,\n,李四\n\n第二支部,王五\n"

	wb, err := Open(strings.NewReader(data), "branches.csv")
	require.NoError(t, err)
	sheet := wb.Sheets[0]
	require.Len(t, sheet.Rows, 3)
	require.Equal(t, []int{1, 3, 5}, sheet.Lines)
	require.Equal(t, 3, sheet.RowNumber(1))
	require.Equal(t, "李四", sheet.Rows[1][1].Value)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(strings.NewReader("x"), "report.pdf")
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Open(strings.NewReader("not a zip"), "broken.xlsx")
	require.ErrorIs(t, err, ErrUnreadable)

	_, err = Open(strings.NewReader("a,b\n\"unterminated\n"), "bad.csv")
	require.ErrorIs(t, err, ErrUnreadable)
}

func TestOpen_EmptySheet(t *testing.T) {
	wb, err := Open(strings.NewReader("\n\n"), "empty.csv")
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	require.Empty(t, wb.Sheets[0].Rows)
}

func TestOpen_SniffsContentWithoutExtension(t *testing.T) {
	wb, err := Open(strings.NewReader("姓名,年龄\n张三,30\n李四,41\n"), "upload")
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 1)
	require.Equal(t, "upload", wb.Sheets[0].Name)
	require.Len(t, wb.Sheets[0].Rows, 2)

	_, err = Open(strings.NewReader("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), "upload")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
