// Package table implements the flat row-set used for interchange between the
// pipeline stages: an ordered-column table of string-backed cells with
// explicit nulls, plus the date handling shared by every stage.
package table

import (
	"sort"
	"strconv"
)

// Stage marks how far a table has been processed. Aggregation functions check
// the marker before re-aggregating; tables loaded from disk carry
// StageUnknown and fall back to column sniffing.
type Stage string

const (
	StageUnknown Stage = ""
	StageRaw     Stage = "raw"
	StageHourly  Stage = "hourly"
	StageDaily   Stage = "daily"
)

// Row holds one record. A missing key or an empty string is a null cell:
// "metric not collected", never zero.
type Row map[string]string

// Get returns the cell value. ok is false for null cells.
func (r Row) Get(col string) (string, bool) {
	v, present := r[col]
	if !present || v == "" {
		return "", false
	}
	return v, true
}

// Float parses the cell as a float64. ok is false for null or non-numeric
// cells.
func (r Row) Float(col string) (float64, bool) {
	v, present := r.Get(col)
	if !present {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// SetFloat stores v at full precision. Rounding is a presentation concern.
func (r Row) SetFloat(col string, v float64) {
	r[col] = strconv.FormatFloat(v, 'f', -1, 64)
}

// Table is a homogeneous ordered sequence of rows for one stream and one
// user. Column order is stable across read/write round trips.
type Table struct {
	Cols  []string
	Rows  []Row
	Stage Stage
}

// New returns an empty table with the given column order.
func New(cols ...string) *Table {
	return &Table{Cols: append([]string(nil), cols...)}
}

// HasCol reports whether the table declares the column.
func (t *Table) HasCol(name string) bool {
	for _, c := range t.Cols {
		if c == name {
			return true
		}
	}
	return false
}

// AddCol declares a column if it is not present yet.
func (t *Table) AddCol(name string) {
	if !t.HasCol(name) {
		t.Cols = append(t.Cols, name)
	}
}

// Append adds a row, declaring any columns the row introduces. Iteration over
// the row map is sorted so that column introduction order is deterministic.
func (t *Table) Append(r Row) {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.AddCol(k)
	}
	t.Rows = append(t.Rows, r)
}

// Concat appends all rows of other, unioning columns. Stage is kept only when
// both tables agree.
func (t *Table) Concat(other *Table) {
	for _, c := range other.Cols {
		t.AddCol(c)
	}
	t.Rows = append(t.Rows, other.Rows...)
	if t.Stage != other.Stage {
		t.Stage = StageUnknown
	}
}

// Len returns the row count.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool {
	return len(t.Rows) == 0
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := &Table{
		Cols:  append([]string(nil), t.Cols...),
		Rows:  make([]Row, 0, len(t.Rows)),
		Stage: t.Stage,
	}
	for _, r := range t.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// SortBy sorts rows in place with a stable sort.
func (t *Table) SortBy(less func(a, b Row) bool) {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return less(t.Rows[i], t.Rows[j])
	})
}

// ColumnFloats collects the parseable float values of a column in row order.
func (t *Table) ColumnFloats(col string) []float64 {
	out := make([]float64, 0, len(t.Rows))
	for _, r := range t.Rows {
		if v, ok := r.Float(col); ok {
			out = append(out, v)
		}
	}
	return out
}
