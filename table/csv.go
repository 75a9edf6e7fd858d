package table

import (
	"encoding/csv"
	"fmt"
	"os"
)

// ReadCSV loads a table from a CSV file. The header row defines the column
// order; empty cells are nulls. Tables read from disk carry StageUnknown.
func ReadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	if len(records) == 0 {
		return New(), nil
	}

	t := New(records[0]...)
	for _, rec := range records[1:] {
		row := make(Row, len(t.Cols))
		for i, col := range t.Cols {
			if i < len(rec) && rec[i] != "" {
				row[col] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteCSV writes the table with its declared column order. Null cells are
// written as empty fields.
func (t *Table) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Cols); err != nil {
		return err
	}
	rec := make([]string, len(t.Cols))
	for _, row := range t.Rows {
		for i, col := range t.Cols {
			rec[i] = row[col]
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
