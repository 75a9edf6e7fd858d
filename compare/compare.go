// Package compare splits a fused master table into study groups and writes
// per-group descriptive statistics alongside the raw group rows.
package compare

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	polarpipe "github.com/wearlab/polar-pipeline"
	"github.com/wearlab/polar-pipeline/filter"
	"github.com/wearlab/polar-pipeline/table"
)

// masterCandidates are the filenames probed for the fused table, in order.
var masterCandidates = []string{"master_file.csv", "master_daily_data.csv"}

// groupLookupName is the sidecar file mapping users to groups when the master
// table has no group column.
const groupLookupName = "watch_groups_dance_dttm.csv"

// Comparer reads the master table from InputDir and writes per-group output
// files to OutputDir.
type Comparer struct {
	InputDir  string
	OutputDir string

	log *zap.Logger
}

func New(inputDir, outputDir string, log *zap.Logger) (*Comparer, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", inputDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Comparer{InputDir: inputDir, OutputDir: outputDir, log: log}, nil
}

// CompareGroups runs the full comparison. A group that fails to process gets
// an error file instead of sinking the run; the returned error only covers
// run-level problems such as a missing master table.
func (c *Comparer) CompareGroups() error {
	master, path, err := c.loadMaster()
	if err != nil {
		return err
	}
	c.log.Info("master table loaded", zap.String("path", path), zap.Int("rows", master.Len()))

	if dateCol, ok := filter.ResolveDateColumn(master); ok {
		master = filter.FilterByDate(master, dateCol)
	}

	groups, err := c.assignGroups(master)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := c.processGroup(name, groups[name]); err != nil {
			c.log.Warn("group processing failed", zap.String("group", name), zap.Error(err))
			c.writeGroupError(name, groups[name], err)
		}
	}
	return nil
}

func (c *Comparer) loadMaster() (*table.Table, string, error) {
	for _, name := range masterCandidates {
		path := filepath.Join(c.InputDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		t, err := table.ReadCSV(path)
		if err != nil {
			return nil, "", fmt.Errorf("read master table: %w", err)
		}
		return t, path, nil
	}
	return nil, "", fmt.Errorf("no master table (%s or %s) under %s",
		masterCandidates[0], masterCandidates[1], c.InputDir)
}

// assignGroups splits the master rows by group. A group column on the master
// wins; otherwise the user-to-group lookup file is consulted. Rows without a
// group assignment are dropped with a diagnostic count.
func (c *Comparer) assignGroups(master *table.Table) (map[string]*table.Table, error) {
	groupOf := func(row table.Row) (string, bool) {
		return row.Get("group")
	}
	if !master.HasCol("group") {
		lookup, err := c.loadGroupLookup()
		if err != nil {
			return nil, err
		}
		groupOf = func(row table.Row) (string, bool) {
			user, ok := row.Get("user_id")
			if !ok {
				return "", false
			}
			g, ok := lookup[user]
			return g, ok
		}
	}

	groups := make(map[string]*table.Table)
	unassigned := 0
	for _, row := range master.Rows {
		name, ok := groupOf(row)
		if !ok {
			unassigned++
			continue
		}
		g, ok := groups[name]
		if !ok {
			g = &table.Table{Cols: append([]string(nil), master.Cols...), Stage: master.Stage}
			groups[name] = g
		}
		g.Rows = append(g.Rows, row)
	}
	if unassigned > 0 {
		c.log.Warn("rows without group assignment dropped", zap.Int("rows", unassigned))
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("no rows could be assigned to a group")
	}
	return groups, nil
}

// loadGroupLookup probes the conventional locations for the user-to-group
// file, relative to the input directory.
func (c *Comparer) loadGroupLookup() (map[string]string, error) {
	candidates := []string{
		filepath.Join(c.InputDir, groupLookupName),
		filepath.Join(c.InputDir, "..", "input", groupLookupName),
		filepath.Join("input", groupLookupName),
	}
	for _, path := range candidates {
		t, err := table.ReadCSV(path)
		if err != nil {
			continue
		}
		userCol := "user_id"
		if !t.HasCol(userCol) {
			userCol = "username"
		}
		if !t.HasCol(userCol) || !t.HasCol("group") {
			return nil, fmt.Errorf("group lookup %s needs user_id (or username) and group columns", path)
		}
		lookup := make(map[string]string, t.Len())
		for _, row := range t.Rows {
			user, okU := row.Get(userCol)
			group, okG := row.Get("group")
			if okU && okG {
				lookup[user] = group
			}
		}
		return lookup, nil
	}
	return nil, fmt.Errorf("master table has no group column and no %s was found", groupLookupName)
}

func (c *Comparer) processGroup(name string, t *table.Table) error {
	summary := summarizeGroup(name, t)
	if err := summary.WriteCSV(filepath.Join(c.OutputDir, "group_"+name+"_summary.csv")); err != nil {
		return fmt.Errorf("write group summary: %w", err)
	}
	if err := t.WriteCSV(filepath.Join(c.OutputDir, "group_"+name+"_raw_data.csv")); err != nil {
		return fmt.Errorf("write group raw data: %w", err)
	}
	c.log.Info("group processed", zap.String("group", name), zap.Int("rows", t.Len()))
	return nil
}

// writeGroupError leaves a diagnostic file for a failed group so a batch over
// many groups shows which ones need attention.
func (c *Comparer) writeGroupError(name string, t *table.Table, groupErr error) {
	e := table.New("group_name", "error", "row_count")
	row := table.Row{"group_name": name, "error": groupErr.Error()}
	row.SetFloat("row_count", float64(t.Len()))
	e.Append(row)
	path := filepath.Join(c.OutputDir, "group_"+name+"_error.csv")
	if err := e.WriteCSV(path); err != nil {
		c.log.Error("could not write group error file", zap.String("path", path), zap.Error(err))
	}
}

// summarizeGroup computes the descriptive statistics of every numeric column
// of the group, one row per column, with the group identity repeated on each
// row. Percentages round to two decimals, statistics to four; rounding
// happens only here, at presentation.
func summarizeGroup(name string, t *table.Table) *table.Table {
	out := table.New("group_name", "column", "count", "missing", "missing_pct",
		"mean", "median", "std", "min", "max", "q25", "q75", "sum",
		"total_records", "unique_users", "date_range_start", "date_range_end", "total_days")

	total := t.Len()
	users := make(map[string]bool)
	var dates []string
	for _, row := range t.Rows {
		if u, ok := row.Get("user_id"); ok {
			users[u] = true
		}
		if d, ok := row.Get("date"); ok {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	dateStart, dateEnd := "", ""
	totalDays := 0
	if len(dates) > 0 {
		dateStart, dateEnd = dates[0], dates[len(dates)-1]
		if start, err := table.ParseDate(dateStart); err == nil {
			if end, err := table.ParseDate(dateEnd); err == nil {
				totalDays = int(end.Time().Sub(start.Time()).Hours()/24) + 1
			}
		}
	}

	for _, col := range t.Cols {
		values := t.ColumnFloats(col)
		if len(values) == 0 {
			continue
		}
		row := table.Row{
			"group_name":       name,
			"column":           col,
			"date_range_start": dateStart,
			"date_range_end":   dateEnd,
		}
		row.SetFloat("count", float64(len(values)))
		row.SetFloat("missing", float64(total-len(values)))
		row.SetFloat("missing_pct", polarpipe.Round(percent(total-len(values), total), 2))
		row.SetFloat("mean", polarpipe.Round(polarpipe.Mean(values), 4))
		row.SetFloat("median", polarpipe.Round(polarpipe.Median(values), 4))
		if sd, ok := polarpipe.SampleStdDev(values); ok {
			row.SetFloat("std", polarpipe.Round(sd, 4))
		}
		row.SetFloat("min", polarpipe.Round(polarpipe.Min(values), 4))
		row.SetFloat("max", polarpipe.Round(polarpipe.Max(values), 4))
		row.SetFloat("q25", polarpipe.Round(polarpipe.Quantile(values, 0.25), 4))
		row.SetFloat("q75", polarpipe.Round(polarpipe.Quantile(values, 0.75), 4))
		row.SetFloat("sum", polarpipe.Round(polarpipe.Sum(values), 4))
		row.SetFloat("total_records", float64(total))
		row.SetFloat("unique_users", float64(len(users)))
		row.SetFloat("total_days", float64(totalDays))
		out.Append(row)
	}
	return out
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
