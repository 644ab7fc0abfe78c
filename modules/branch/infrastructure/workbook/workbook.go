// Package workbook turns uploaded spreadsheet files into named sheets of
// header/value rows.
package workbook

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported workbook format (expected .xlsx or .csv)")
	ErrUnreadable        = errors.New("workbook could not be read")
)

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeCSV  = "text/csv"
)

// Open reads r according to the extension of filename, or by sniffing the
// content when the extension says nothing. A csv file becomes a single sheet
// named after the file.
func Open(r io.Reader, filename string) (ingest.Workbook, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	switch ext {
	case ".xlsx", ".xlsm":
		return openXLSX(r)
	case ".csv":
		return openCSV(r, name)
	case "", ".bin", ".dat", ".tmp":
		data, err := io.ReadAll(r)
		if err != nil {
			return ingest.Workbook{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		switch mime := mimetype.Detect(data); {
		case mime.Is(mimeXLSX):
			return openXLSX(bytes.NewReader(data))
		case mime.Is(mimeCSV):
			return openCSV(bytes.NewReader(data), name)
		default:
			return ingest.Workbook{}, fmt.Errorf("%w: %q looks like %s", ErrUnsupportedFormat, filename, mime.String())
		}
	default:
		return ingest.Workbook{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
}

func openCSV(r io.Reader, name string) (ingest.Workbook, error) {
	sheet, err := readCSV(r, name)
	if err != nil {
		return ingest.Workbook{}, err
	}
	return ingest.Workbook{Sheets: []ingest.Sheet{sheet}}, nil
}

func openXLSX(r io.Reader) (ingest.Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ingest.Workbook{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer func() { _ = f.Close() }()

	var wb ingest.Workbook
	for _, name := range f.GetSheetList() {
		// raw values keep date cells as serial numbers
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return ingest.Workbook{}, fmt.Errorf("%w: sheet %q: %v", ErrUnreadable, name, err)
		}
		wb.Sheets = append(wb.Sheets, toSheet(name, rows, nil))
	}
	return wb, nil
}

func readCSV(r io.Reader, name string) (ingest.Sheet, error) {
	br := stripUTF8BOM(bufio.NewReader(r))
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	// encoding/csv drops empty lines, so source lines come from FieldPos.
	var records [][]string
	var lines []int
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ingest.Sheet{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		for _, v := range rec {
			if !utf8.ValidString(v) {
				return ingest.Sheet{}, fmt.Errorf("%w: csv is not valid UTF-8", ErrUnreadable)
			}
		}
		line, _ := cr.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	return toSheet(name, records, lines), nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

// toSheet uses the first non-blank line as the header. Columns with a blank
// header are dropped and blank cells become nil. Fully blank lines are
// skipped but still counted, so Lines points back at the source row.
// lines[i] is the source line of grid[i]; nil means grid is contiguous.
func toSheet(name string, grid [][]string, lines []int) ingest.Sheet {
	lineOf := func(i int) int {
		if lines != nil {
			return lines[i]
		}
		return i + 1
	}
	sheet := ingest.Sheet{Name: strings.TrimSpace(name)}
	start := 0
	for start < len(grid) && blank(grid[start]) {
		start++
	}
	if start == len(grid) {
		return sheet
	}
	header := make([]string, len(grid[start]))
	for i, h := range grid[start] {
		header[i] = strings.TrimSpace(h)
	}

	for i := start + 1; i < len(grid); i++ {
		line := grid[i]
		if blank(line) {
			continue
		}
		row := make(ingest.Row, 0, len(header))
		for col, h := range header {
			if h == "" {
				continue
			}
			var v any
			if col < len(line) {
				if s := strings.TrimSpace(line[col]); s != "" {
					v = s
				}
			}
			row = append(row, ingest.Cell{Header: h, Value: v})
		}
		sheet.Rows = append(sheet.Rows, row)
		sheet.Lines = append(sheet.Lines, lineOf(i)-lineOf(start))
	}
	return sheet
}

func blank(line []string) bool {
	for _, v := range line {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
