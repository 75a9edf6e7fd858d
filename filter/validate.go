// Package filter applies the global temporal validity policy and computes the
// per-stream aggregates at hourly, daily, and overall granularity.
package filter

import (
	"time"

	"github.com/wearlab/polar-pipeline/table"
)

// MinDate is the global floor: rows dated earlier than this are rejected
// everywhere in the pipeline.
var MinDate = table.Date{Year: 2020, Month: time.January, Day: 1}

// DateColumnPrecedence is the resolution order for synonymous date columns.
// The order is a documented contract, not an accident of iteration.
var DateColumnPrecedence = []string{"date", "start", "date_of_night", "night", "datetime", "dateTime"}

// ResolveDateColumn returns the first column of the precedence list present
// in the table.
func ResolveDateColumn(t *table.Table) (string, bool) {
	for _, col := range DateColumnPrecedence {
		if t.HasCol(col) {
			return col, true
		}
	}
	return "", false
}

// FilterByDate keeps the rows whose date column parses and is not before
// MinDate, preserving order. A table without the column is returned
// unchanged: pre-aggregated row-sets were already validated. Re-applying to
// filtered output is a no-op.
func FilterByDate(t *table.Table, dateCol string) *table.Table {
	if !t.HasCol(dateCol) {
		return t
	}
	out := &table.Table{
		Cols:  append([]string(nil), t.Cols...),
		Stage: t.Stage,
	}
	for _, row := range t.Rows {
		raw, ok := row.Get(dateCol)
		if !ok {
			continue
		}
		d, err := table.ParseDate(raw)
		if err != nil {
			continue
		}
		if d.Before(MinDate) {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}
