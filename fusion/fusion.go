// Package fusion joins the per-user filtered stream tables into one master
// daily table, one row per user and date, with every stream's daily columns
// side by side.
package fusion

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/extract"
	"github.com/wearlab/polar-pipeline/filter"
	"github.com/wearlab/polar-pipeline/table"
)

// MasterBasename is the stem of the fused output file; the extension depends
// on the save format.
const MasterBasename = "master_daily_data"

// LoadUserTables reads the filtered stream CSVs under dir, one subfolder per
// user, and concatenates them per stream with a user_id column attached from
// the folder name. Unknown files are skipped with a diagnostic.
func LoadUserTables(dir string, log *zap.Logger) (map[extract.StreamKind]*table.Table, error) {
	if log == nil {
		log = zap.NewNop()
	}
	users, err := listUserDirs(dir)
	if err != nil {
		return nil, err
	}

	known := make(map[string]extract.StreamKind, len(extract.KnownStreams))
	for _, kind := range extract.KnownStreams {
		known[string(kind)+".csv"] = kind
	}

	byStream := make(map[extract.StreamKind]*table.Table)
	for _, user := range users {
		entries, err := os.ReadDir(filepath.Join(dir, user))
		if err != nil {
			log.Warn("could not read user folder, skipping", zap.String("user", user), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			kind, ok := known[entry.Name()]
			if !ok {
				log.Warn("unrecognized file in user folder, skipping",
					zap.String("user", user), zap.String("file", entry.Name()))
				continue
			}
			t, err := table.ReadCSV(filepath.Join(dir, user, entry.Name()))
			if err != nil {
				log.Warn("could not read stream file, skipping",
					zap.String("user", user), zap.String("file", entry.Name()), zap.Error(err))
				continue
			}
			if t.Empty() {
				continue
			}
			t.AddCol("user_id")
			for _, row := range t.Rows {
				row["user_id"] = user
			}
			if existing, ok := byStream[kind]; ok {
				existing.Concat(t)
			} else {
				byStream[kind] = t
			}
		}
	}
	if len(byStream) == 0 {
		return nil, fmt.Errorf("no stream tables found under %s", dir)
	}
	return byStream, nil
}

func listUserDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list user folders: %w", err)
	}
	users := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			users = append(users, e.Name())
		}
	}
	sort.Strings(users)
	if len(users) == 0 {
		return nil, fmt.Errorf("no user folders under %s", dir)
	}
	return users, nil
}

// fuseKey identifies one master row. The date is the comparable type, not its
// string rendering, so a formatting difference can never split a join key.
type fuseKey struct {
	user string
	date table.Date
}

// Fuse folds the stream tables into the master daily table with a full outer
// join on (user_id, date). A row present in any stream appears in the master;
// cells a stream cannot provide stay null. When an incoming stream reuses a
// column name already claimed by an earlier stream, the incoming column is
// renamed with the stream name as suffix.
func Fuse(byStream map[extract.StreamKind]*table.Table, log *zap.Logger) (*table.Table, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(byStream) == 0 {
		return nil, fmt.Errorf("no data available to fuse")
	}

	rows := make(map[fuseKey]table.Row)
	var keys []fuseKey
	masterCols := []string{"user_id", "date"}
	claimed := map[string]bool{"user_id": true, "date": true}

	for _, kind := range orderedKinds(byStream) {
		view := dailyView(byStream[kind], kind, log)
		if view == nil {
			continue
		}

		// Column names this stream contributes, collision-suffixed against
		// everything claimed by earlier streams.
		rename := make(map[string]string, len(view.Cols))
		for _, col := range view.Cols {
			if col == "user_id" || col == "date" {
				continue
			}
			name := col
			if claimed[name] {
				name = col + "_" + string(kind)
			}
			rename[col] = name
		}
		for _, col := range view.Cols {
			name, ok := rename[col]
			if !ok {
				continue
			}
			if !claimed[name] {
				claimed[name] = true
				masterCols = append(masterCols, name)
			}
		}

		for _, row := range view.Rows {
			user, _ := row.Get("user_id")
			raw, _ := row.Get("date")
			date, err := table.ParseDate(raw)
			if err != nil {
				continue
			}
			key := fuseKey{user: user, date: date}
			master, ok := rows[key]
			if !ok {
				master = table.Row{"user_id": user, "date": date.String()}
				rows[key] = master
				keys = append(keys, key)
			}
			for col, name := range rename {
				if v, ok := row.Get(col); ok {
					master[name] = v
				}
			}
		}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("no joinable rows across streams")
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].user != keys[j].user {
			return keys[i].user < keys[j].user
		}
		return keys[i].date.Before(keys[j].date)
	})

	out := &table.Table{Cols: masterCols, Stage: table.StageDaily}
	for _, key := range keys {
		out.Rows = append(out.Rows, rows[key])
	}
	log.Info("fusion complete",
		zap.Int("rows", out.Len()),
		zap.Int("columns", len(out.Cols)),
		zap.Int("streams", len(byStream)))
	return out, nil
}

// orderedKinds returns the present streams in pipeline output order, with any
// stream outside the known list appended in name order. The fold order is
// fixed so repeated runs produce identical column names.
func orderedKinds(byStream map[extract.StreamKind]*table.Table) []extract.StreamKind {
	known := make(map[extract.StreamKind]bool, len(extract.KnownStreams))
	var out []extract.StreamKind
	for _, kind := range extract.KnownStreams {
		known[kind] = true
		if _, ok := byStream[kind]; ok {
			out = append(out, kind)
		}
	}
	var extras []extract.StreamKind
	for kind := range byStream {
		if !known[kind] {
			extras = append(extras, kind)
		}
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i] < extras[j] })
	return append(out, extras...)
}

// dailyView reduces a stream table to one row per (user_id, date). Only
// columns whose value is constant within the group survive; per-sample
// columns vary inside a day and are dropped. Streams without user_id or a
// resolvable date column cannot be joined and are skipped.
func dailyView(t *table.Table, kind extract.StreamKind, log *zap.Logger) *table.Table {
	if !t.HasCol("user_id") {
		log.Warn("stream has no user_id column, skipping", zap.String("stream", string(kind)))
		return nil
	}
	dateCol, ok := filter.ResolveDateColumn(t)
	if !ok {
		log.Warn("stream has no resolvable date column, skipping", zap.String("stream", string(kind)))
		return nil
	}

	type groupKey struct {
		user string
		date string
	}
	var order []groupKey
	groups := make(map[groupKey][]table.Row)
	for _, row := range t.Rows {
		user, ok := row.Get("user_id")
		if !ok {
			continue
		}
		raw, ok := row.Get(dateCol)
		if !ok {
			continue
		}
		d, err := table.ParseDate(raw)
		if err != nil {
			continue
		}
		key := groupKey{user: user, date: d.String()}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	out := table.New("user_id", "date")
	for _, key := range order {
		row := table.Row{"user_id": key.user, "date": key.date}
		for _, col := range t.Cols {
			if col == "user_id" || col == dateCol {
				continue
			}
			if v, ok := constantValue(groups[key], col); ok {
				row[col] = v
			}
		}
		out.Append(row)
	}
	return out
}

// constantValue returns the single value col takes across the group's rows.
// A column that varies, or is present in some rows and missing in others, is
// not constant.
func constantValue(rows []table.Row, col string) (string, bool) {
	value := ""
	found, missing := false, false
	for _, row := range rows {
		v, ok := row.Get(col)
		if !ok {
			missing = true
			continue
		}
		if found && v != value {
			return "", false
		}
		value = v
		found = true
	}
	if !found || missing {
		return "", false
	}
	return value, true
}
