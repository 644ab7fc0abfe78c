package services

import (
	_ "embed"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
)

//go:embed aliases.yaml
var defaultAliases []byte

// Serial dates above this are past 9999-12-31.
const maxSerialDate = 2958465

type aliasFile struct {
	Sheets  map[string][]string            `yaml:"sheets" validate:"required,dive,keys,required,endkeys,min=1,dive,required"`
	Headers map[string]map[string][]string `yaml:"headers" validate:"required,dive,keys,required,endkeys,required,dive,keys,required,endkeys,min=1,dive,required"`
	Values  map[string]map[string][]string `yaml:"values" validate:"dive,keys,required,endkeys,required,dive,keys,required,endkeys,min=1,dive,required"`
}

// Normalizer maps raw sheet rows to canonical records. The alias tables are
// folded and checked once at construction.
type Normalizer struct {
	sheets  map[string]ingest.EntityKind
	headers map[ingest.EntityKind]map[string]ingest.Field
	values  map[ingest.Field]map[string]string
	buckets map[string]string
	catalog *distribution.Catalog
}

func NewNormalizer(catalog *distribution.Catalog) (*Normalizer, error) {
	return NewNormalizerFromYAML(defaultAliases, catalog)
}

func NewNormalizerFromYAML(data []byte, catalog *distribution.Catalog) (*Normalizer, error) {
	if catalog == nil {
		return nil, fmt.Errorf("distribution catalog is required")
	}
	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse alias table: %w", err)
	}
	if err := validator.New().Struct(&file); err != nil {
		return nil, fmt.Errorf("invalid alias table: %w", err)
	}

	n := &Normalizer{
		sheets:  make(map[string]ingest.EntityKind),
		headers: make(map[ingest.EntityKind]map[string]ingest.Field),
		values:  make(map[ingest.Field]map[string]string),
		buckets: make(map[string]string),
		catalog: catalog,
	}

	for rawKind, names := range file.Sheets {
		kind := ingest.EntityKind(rawKind)
		if !kind.Valid() {
			return nil, fmt.Errorf("sheet aliases: unknown entity kind %q", rawKind)
		}
		for _, name := range names {
			key := foldHeader(name)
			if prev, dup := n.sheets[key]; dup && prev != kind {
				return nil, fmt.Errorf("sheet alias %q maps to both %s and %s", name, prev, kind)
			}
			n.sheets[key] = kind
		}
	}

	for _, kind := range ingest.ImportOrder {
		fields, ok := file.Headers[string(kind)]
		if !ok {
			return nil, fmt.Errorf("header aliases: missing entity kind %q", kind)
		}
		table := make(map[string]ingest.Field)
		for rawField, aliases := range fields {
			f := ingest.Field(rawField)
			if _, ok := ingest.SchemaField(kind, f); !ok {
				return nil, fmt.Errorf("header aliases: %s has no field %q", kind, rawField)
			}
			for _, alias := range aliases {
				key := foldHeader(alias)
				if prev, dup := table[key]; dup && prev != f {
					return nil, fmt.Errorf("header alias %q maps to both %s and %s in %s", alias, prev, f, kind)
				}
				table[key] = f
			}
		}
		for _, spec := range ingest.Schemas[kind] {
			if _, ok := fields[string(spec.Field)]; !ok {
				return nil, fmt.Errorf("header aliases: %s.%s has no accepted header", kind, spec.Field)
			}
			if spec.Type == ingest.TypeEnum {
				if _, ok := file.Values[string(spec.Field)]; !ok {
					return nil, fmt.Errorf("value aliases: enum field %q has no value table", spec.Field)
				}
			}
		}
		n.headers[kind] = table
	}

	for rawField, canon := range file.Values {
		table := make(map[string]string)
		for value, aliases := range canon {
			for _, alias := range aliases {
				key := foldHeader(alias)
				if prev, dup := table[key]; dup && prev != value {
					return nil, fmt.Errorf("value alias %q of %s maps to both %s and %s", alias, rawField, prev, value)
				}
				table[key] = value
			}
		}
		n.values[ingest.Field(rawField)] = table
	}
	for _, canon := range n.values[ingest.FieldDistributionKind] {
		if _, ok := catalog.Spec(distribution.Kind(canon)); !ok {
			return nil, fmt.Errorf("value aliases: distribution kind %q is not in the catalog", canon)
		}
	}

	distHeaders := n.headers[ingest.KindDistribution]
	for _, label := range catalog.Labels() {
		key := foldHeader(label)
		if f, clash := distHeaders[key]; clash {
			return nil, fmt.Errorf("bucket label %q collides with header of %s", label, f)
		}
		if prev, dup := n.buckets[key]; dup && prev != label {
			return nil, fmt.Errorf("bucket labels %q and %q fold to the same header", prev, label)
		}
		n.buckets[key] = label
	}
	return n, nil
}

// foldHeader canonicalizes header and alias text: NFKC folds full-width
// forms, case is dropped and spaces, underscores and hyphens are ignored.
func foldHeader(s string) string {
	s = strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '_', '-', '　':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SheetKind resolves a sheet name through the sheet alias table.
func (n *Normalizer) SheetKind(name string) (ingest.EntityKind, bool) {
	kind, ok := n.sheets[foldHeader(name)]
	return kind, ok
}

// UnmappedHeaders lists headers that this kind ignores.
func (n *Normalizer) UnmappedHeaders(kind ingest.EntityKind, headers []string) []string {
	var out []string
	for _, h := range headers {
		key := foldHeader(h)
		if key == "" {
			continue
		}
		if _, ok := n.headers[kind][key]; ok {
			continue
		}
		if kind == ingest.KindDistribution {
			if _, ok := n.buckets[key]; ok {
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

// Normalize maps one raw row. A blank required field yields a
// *ingest.ValidationError; coercion failures on optional fields are recorded
// on the record as issues and leave the field null.
func (n *Normalizer) Normalize(kind ingest.EntityKind, sheet string, rowNum int, row ingest.Row) (*ingest.Record, error) {
	table, ok := n.headers[kind]
	if !ok {
		return nil, fmt.Errorf("no header mapping for entity kind %q", kind)
	}

	rec := ingest.NewRecord(kind, sheet, rowNum)
	raw := make(map[ingest.Field]any)
	for _, cell := range row {
		key := foldHeader(cell.Header)
		if f, ok := table[key]; ok {
			// first matching column wins
			if _, seen := raw[f]; !seen {
				raw[f] = cell.Value
			}
			continue
		}
		if kind == ingest.KindDistribution {
			if label, ok := n.buckets[key]; ok {
				n.setBucket(rec, label, cell.Value)
			}
		}
	}

	for _, spec := range ingest.Schemas[kind] {
		value, err := n.coerce(spec, raw[spec.Field])
		if err != nil {
			if spec.Required {
				return nil, &ingest.ValidationError{Row: rowNum, Field: spec.Field, Message: err.Error()}
			}
			rec.Issues = append(rec.Issues, ingest.FieldIssue{Field: spec.Field, Message: err.Error()})
			continue
		}
		if value == nil && spec.Required {
			return nil, ingest.NewRequiredFieldError(rowNum, spec.Field)
		}
		rec.Set(spec.Field, value)
	}

	if kind == ingest.KindDistribution {
		name, _ := rec.Text(ingest.FieldDistributionKind)
		spec, _ := n.catalog.Spec(distribution.Kind(name))
		for label := range rec.Buckets {
			if !spec.Has(label) {
				delete(rec.Buckets, label)
			}
		}
	}
	return rec, nil
}

func (n *Normalizer) setBucket(rec *ingest.Record, label string, v any) {
	text := cellText(v)
	if text == "" {
		return
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(text), "%"))
	if err != nil {
		rec.Issues = append(rec.Issues, ingest.FieldIssue{
			Field:   ingest.Field(label),
			Message: fmt.Sprintf("%q is not a number", text),
		})
		return
	}
	if rec.Buckets == nil {
		rec.Buckets = make(map[string]decimal.Decimal)
	}
	rec.Buckets[label] = d
}

func (n *Normalizer) coerce(spec ingest.FieldSpec, v any) (any, error) {
	text := cellText(v)
	if text == "" {
		return nil, nil
	}
	switch spec.Type {
	case ingest.TypeInt:
		i, err := parseInt(v, text)
		if err != nil {
			return nil, err
		}
		return i, nil
	case ingest.TypeDate:
		d, ok := parseDate(v, text)
		if !ok {
			return nil, fmt.Errorf("%q is not a date", text)
		}
		return d, nil
	case ingest.TypeEnum:
		canon, ok := n.values[spec.Field][foldHeader(text)]
		if !ok {
			return nil, fmt.Errorf("unknown value %q", text)
		}
		return canon, nil
	default:
		return text, nil
	}
}

// cellText renders a raw cell as trimmed text; blank cells become "".
func cellText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.Format(time.DateOnly)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parseInt(v any, text string) (int64, error) {
	var f float64
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		f = t
	default:
		parsed, err := strconv.ParseFloat(norm.NFKC.String(text), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", text)
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%q is not a whole number", text)
	}
	return int64(f), nil
}

var dateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"2006.01.02",
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
	"2006年1月2日",
	"2006年01月02日",
	"20060102",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01",
	"2006/01",
	"2006.01",
	"2006年1月",
}

// parseDate accepts text dates in the layouts above and spreadsheet serial
// numbers, returning YYYY-MM-DD. Layouts are tried first so "2024.03" stays a
// month.
func parseDate(v any, text string) (string, bool) {
	if t, ok := v.(time.Time); ok {
		return t.Format(time.DateOnly), true
	}
	text = norm.NFKC.String(text)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.Format(time.DateOnly), true
		}
	}
	if serial, err := strconv.ParseFloat(text, 64); err == nil {
		return serialDate(serial)
	}
	return "", false
}

// serialDate converts a 1900-system spreadsheet serial (25569 = 1970-01-01).
func serialDate(serial float64) (string, bool) {
	if serial <= 0 || serial > maxSerialDate {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return "", false
	}
	return t.Format(time.DateOnly), true
}
