package dataset

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
)

// Type is a column's declared type.
type Type string

// Column types inferred at load time.
const (
	TypeInt    Type = "int64"
	TypeFloat  Type = "float64"
	TypeBool   Type = "bool"
	TypeString Type = "string"
)

// Dataset is an immutable tabular structure with ordered, typed columns.
// Values are stored column-major; missing cells are nil.
type Dataset struct {
	Columns []string
	types   map[string]Type
	values  map[string][]any
	rows    int
}

// New builds a Dataset from ordered column names and column-major values.
// Every column must have the same length.
func New(columns []string, types map[string]Type, values map[string][]any) (*Dataset, error) {
	rows := -1
	for _, name := range columns {
		col, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing values for column %q", name)
		}
		if rows == -1 {
			rows = len(col)
		} else if len(col) != rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", name, len(col), rows)
		}
	}
	if rows == -1 {
		rows = 0
	}
	if types == nil {
		types = map[string]Type{}
	}
	return &Dataset{Columns: columns, types: types, values: values, rows: rows}, nil
}

// NumRows returns the number of rows.
func (d *Dataset) NumRows() int { return d.rows }

// Type returns a column's declared type.
func (d *Dataset) Type(column string) (Type, bool) {
	t, ok := d.types[column]
	return t, ok
}

// Dtypes returns the column name to type mapping as strings.
func (d *Dataset) Dtypes() map[string]string {
	out := make(map[string]string, len(d.Columns))
	for _, c := range d.Columns {
		out[c] = string(d.types[c])
	}
	return out
}

// Column returns the values of one column.
func (d *Dataset) Column(name string) ([]any, bool) {
	col, ok := d.values[name]
	return col, ok
}

// HasColumn reports whether the column exists.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.values[name]
	return ok
}

// Copy returns an independent deep copy. Callers always receive copies from
// the cache so sandboxed mutation can never corrupt a cached entry.
func (d *Dataset) Copy() *Dataset {
	values := make(map[string][]any, len(d.values))
	for name, col := range d.values {
		dup := make([]any, len(col))
		copy(dup, col)
		values[name] = dup
	}
	types := make(map[string]Type, len(d.types))
	for name, t := range d.types {
		types[name] = t
	}
	columns := make([]string, len(d.Columns))
	copy(columns, d.Columns)
	return &Dataset{Columns: columns, types: types, values: values, rows: d.rows}
}

// Head returns a dataset with at most n leading rows.
func (d *Dataset) Head(n int) *Dataset {
	return d.slice(0, n)
}

// Tail returns a dataset with at most n trailing rows.
func (d *Dataset) Tail(n int) *Dataset {
	if n > d.rows {
		n = d.rows
	}
	return d.slice(d.rows-n, n)
}

// Select returns a dataset reduced to the named columns, preserving order.
func (d *Dataset) Select(columns []string) (*Dataset, error) {
	values := make(map[string][]any, len(columns))
	types := make(map[string]Type, len(columns))
	for _, name := range columns {
		col, ok := d.values[name]
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		values[name] = col
		types[name] = d.types[name]
	}
	return &Dataset{Columns: append([]string(nil), columns...), types: types, values: values, rows: d.rows}, nil
}

// Records returns up to n leading rows as ordered column->value maps.
func (d *Dataset) Records(n int) []map[string]any {
	if n > d.rows {
		n = d.rows
	}
	if n < 0 {
		n = 0
	}
	records := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		record := make(map[string]any, len(d.Columns))
		for _, c := range d.Columns {
			record[c] = d.values[c][i]
		}
		records = append(records, record)
	}
	return records
}

// Describe returns per-column summary statistics for numeric columns and
// value counts for the rest.
func (d *Dataset) Describe() map[string]any {
	out := make(map[string]any, len(d.Columns))
	for _, c := range d.Columns {
		if d.IsNumeric(c) {
			stats := numericStats(d.values[c])
			out[c] = map[string]any{
				"count": stats.count,
				"mean":  stats.mean,
				"std":   stats.std,
				"min":   stats.min,
				"max":   stats.max,
			}
			continue
		}
		out[c] = map[string]any{
			"count":  nonNullCount(d.values[c]),
			"unique": uniqueCount(d.values[c]),
		}
	}
	return out
}

// IsNumeric reports whether the column has a numeric declared type.
func (d *Dataset) IsNumeric(column string) bool {
	t := d.types[column]
	return t == TypeInt || t == TypeFloat
}

// Inspect returns metadata and basic statistics for one column: dtype,
// null/non-null/unique counts, sample values and, for numeric columns,
// min/max/mean/median/std.
func (d *Dataset) Inspect(column string, sampleSize int) (map[string]any, error) {
	col, ok := d.values[column]
	if !ok {
		return nil, fmt.Errorf("column %q not found, available: %s", column, strings.Join(d.Columns, ", "))
	}
	if sampleSize <= 0 {
		sampleSize = 10
	}
	sample := make([]any, 0, sampleSize)
	for _, v := range col {
		if v == nil {
			continue
		}
		sample = append(sample, v)
		if len(sample) == sampleSize {
			break
		}
	}
	info := map[string]any{
		"column_name":    column,
		"dtype":          string(d.types[column]),
		"non_null_count": nonNullCount(col),
		"null_count":     len(col) - nonNullCount(col),
		"unique_count":   uniqueCount(col),
		"sample_values":  sample,
	}
	if d.IsNumeric(column) {
		stats := numericStats(col)
		info["stats"] = map[string]any{
			"min":    stats.min,
			"max":    stats.max,
			"mean":   stats.mean,
			"median": stats.median,
			"std":    stats.std,
		}
	}
	return info, nil
}

// Metadata returns dataset-level metadata in the shape reporting callers
// expect: basic info plus per-column detail.
func (d *Dataset) Metadata(name string) map[string]any {
	columns := make(map[string]any, len(d.Columns))
	for _, c := range d.Columns {
		col := d.values[c]
		info := map[string]any{
			"dtype":          string(d.types[c]),
			"null_count":     len(col) - nonNullCount(col),
			"non_null_count": nonNullCount(col),
			"unique_count":   uniqueCount(col),
		}
		if d.IsNumeric(c) {
			stats := numericStats(col)
			info["column_type"] = "numeric"
			info["min"] = stats.min
			info["max"] = stats.max
			info["mean"] = stats.mean
		} else {
			info["column_type"] = "categorical"
			info["top_values"] = topValues(col, 5)
		}
		columns[c] = info
	}
	return map[string]any{
		"basic_info": map[string]any{
			"filename":     name,
			"shape":        map[string]any{"rows": d.rows, "columns": len(d.Columns)},
			"column_names": append([]string(nil), d.Columns...),
			"dtypes":       d.Dtypes(),
		},
		"columns": columns,
	}
}

// String implements fmt.Stringer.
func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset(%d rows x %d columns)", d.rows, len(d.Columns))
}

func (d *Dataset) slice(start, n int) *Dataset {
	if start < 0 {
		start = 0
	}
	if start+n > d.rows {
		n = d.rows - start
	}
	if n < 0 {
		n = 0
	}
	values := make(map[string][]any, len(d.values))
	for name, col := range d.values {
		dup := make([]any, n)
		copy(dup, col[start:start+n])
		values[name] = dup
	}
	types := make(map[string]Type, len(d.types))
	for name, t := range d.types {
		types[name] = t
	}
	columns := make([]string, len(d.Columns))
	copy(columns, d.Columns)
	return &Dataset{Columns: columns, types: types, values: values, rows: n}
}

// BindName derives the sandbox binding name for a dataset path: the file
// stem lower-cased, spaces and dashes mapped to underscores, and every other
// non-alphanumeric character dropped.
func BindName(path string) string {
	stem := filepath.Base(path)
	if ext := filepath.Ext(stem); ext != "" {
		stem = stem[:len(stem)-len(ext)]
	}
	stem = strings.ToLower(stem)
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r == ' ' || r == '-':
			b.WriteByte('_')
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

type colStats struct {
	count  int
	mean   float64
	std    float64
	min    float64
	max    float64
	median float64
}

func numericStats(col []any) colStats {
	nums := make([]float64, 0, len(col))
	for _, v := range col {
		if f, ok := toFloat(v); ok {
			nums = append(nums, f)
		}
	}
	stats := colStats{count: len(nums)}
	if len(nums) == 0 {
		stats.mean = math.NaN()
		stats.std = math.NaN()
		stats.min = math.NaN()
		stats.max = math.NaN()
		stats.median = math.NaN()
		return stats
	}
	stats.min = nums[0]
	stats.max = nums[0]
	sum := 0.0
	for _, f := range nums {
		sum += f
		if f < stats.min {
			stats.min = f
		}
		if f > stats.max {
			stats.max = f
		}
	}
	stats.mean = sum / float64(len(nums))
	variance := 0.0
	for _, f := range nums {
		variance += (f - stats.mean) * (f - stats.mean)
	}
	if len(nums) > 1 {
		variance /= float64(len(nums) - 1)
	}
	stats.std = math.Sqrt(variance)
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		stats.median = sorted[mid]
	} else {
		stats.median = (sorted[mid-1] + sorted[mid]) / 2
	}
	return stats
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func nonNullCount(col []any) int {
	n := 0
	for _, v := range col {
		if v != nil {
			n++
		}
	}
	return n
}

func uniqueCount(col []any) int {
	seen := make(map[string]struct{}, len(col))
	for _, v := range col {
		if v == nil {
			continue
		}
		seen[fmt.Sprint(v)] = struct{}{}
	}
	return len(seen)
}

func topValues(col []any, n int) []map[string]any {
	counts := map[string]int{}
	order := []string{}
	for _, v := range col {
		if v == nil {
			continue
		}
		key := fmt.Sprint(v)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		out = append(out, map[string]any{"value": key, "count": counts[key]})
	}
	return out
}
