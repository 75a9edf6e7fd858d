package filter

import (
	"go.uber.org/zap"

	polarpipe "github.com/wearlab/polar-pipeline"
	"github.com/wearlab/polar-pipeline/table"
)

// statSet bundles the statistic family computed at every granularity.
type statSet struct {
	mean   float64
	median float64
	min    float64
	max    float64
	sum    float64
	std    float64
	stdOK  bool
	count  int
}

func computeStats(values []float64) statSet {
	s := statSet{
		mean:   polarpipe.Mean(values),
		median: polarpipe.Median(values),
		min:    polarpipe.Min(values),
		max:    polarpipe.Max(values),
		sum:    polarpipe.Sum(values),
		count:  len(values),
	}
	s.std, s.stdOK = polarpipe.SampleStdDev(values)
	return s
}

// aggregated reports whether the table already carries aggregate output. The
// stage marker decides when present; tables loaded from disk fall back to
// column sniffing so the same function is safe on raw and processed data.
func aggregated(t *table.Table, sniffCols ...string) bool {
	switch t.Stage {
	case table.StageHourly, table.StageDaily:
		return true
	case table.StageRaw:
		return false
	}
	for _, c := range sniffCols {
		if t.HasCol(c) {
			return true
		}
	}
	return false
}

// rowGroup is an ordered grouping of row indices sharing one key.
type rowGroup struct {
	key     string
	indices []int
}

// groupRows groups rows by key in first-occurrence order. Rows whose key
// cannot be resolved are left out.
func groupRows(t *table.Table, keyOf func(table.Row) (string, bool)) []rowGroup {
	byKey := make(map[string]int)
	var groups []rowGroup
	for i, row := range t.Rows {
		key, ok := keyOf(row)
		if !ok {
			continue
		}
		gi, seen := byKey[key]
		if !seen {
			gi = len(groups)
			byKey[key] = gi
			groups = append(groups, rowGroup{key: key})
		}
		groups[gi].indices = append(groups[gi].indices, i)
	}
	return groups
}

func dateKeyOf(dateCol string) func(table.Row) (string, bool) {
	return func(row table.Row) (string, bool) {
		raw, ok := row.Get(dateCol)
		if !ok {
			return "", false
		}
		d, err := table.ParseDate(raw)
		if err != nil {
			return "", false
		}
		return d.String(), true
	}
}

func setAll(t *table.Table, col string, v float64) {
	t.AddCol(col)
	for _, row := range t.Rows {
		row.SetFloat(col, v)
	}
}

func setGroup(t *table.Table, indices []int, col string, v float64) {
	t.AddCol(col)
	for _, i := range indices {
		t.Rows[i].SetFloat(col, v)
	}
}

func setGroupString(t *table.Table, indices []int, col, v string) {
	t.AddCol(col)
	for _, i := range indices {
		t.Rows[i][col] = v
	}
}

func groupFloats(t *table.Table, indices []int, col string) []float64 {
	out := make([]float64, 0, len(indices))
	for _, i := range indices {
		if v, ok := t.Rows[i].Float(col); ok {
			out = append(out, v)
		}
	}
	return out
}

// ActivityHRTable aggregates 24/7 heart-rate samples. Zero heart rates are
// placeholder values and are excluded before any statistic. Daily statistics
// are broadcast onto every sample row of the day; the time of day of the
// daily maximum keeps the first occurrence on ties.
func (f *Filter) ActivityHRTable(t *table.Table) *table.Table {
	if aggregated(t, "heartRate_mean_overall") {
		return t
	}
	if !t.HasCol("heartRate") {
		f.log.Warn("activity_hr table has no heartRate column, skipping aggregation")
		return t
	}

	out := &table.Table{Cols: append([]string(nil), t.Cols...)}
	for _, row := range t.Rows {
		if v, ok := row.Float("heartRate"); ok && v == 0 {
			continue
		}
		out.Rows = append(out.Rows, row)
	}

	overall := computeStats(out.ColumnFloats("heartRate"))
	setAll(out, "heartRate_mean_overall", overall.mean)
	setAll(out, "heartRate_median_overall", overall.median)
	setAll(out, "heartRate_min_overall", overall.min)
	setAll(out, "heartRate_max_overall", overall.max)
	if overall.stdOK {
		setAll(out, "heartRate_std_overall", overall.std)
	}

	if out.HasCol("date") {
		hasTimeOfDay := out.HasCol("timeOfDay")
		for _, g := range groupRows(out, dateKeyOf("date")) {
			values := groupFloats(out, g.indices, "heartRate")
			day := computeStats(values)
			setGroup(out, g.indices, "heartRate_mean_daily", day.mean)
			setGroup(out, g.indices, "heartRate_median_daily", day.median)
			setGroup(out, g.indices, "heartRate_min_daily", day.min)
			setGroup(out, g.indices, "heartRate_max_daily", day.max)
			if day.stdOK {
				setGroup(out, g.indices, "heartRate_std_daily", day.std)
			}
			setGroup(out, g.indices, "heartRate_count_daily", float64(day.count))
			setGroup(out, g.indices, "heartRate_range_daily", day.max-day.min)

			if hasTimeOfDay {
				if tod, ok := timeOfDayAtMax(out, g.indices); ok {
					setGroupString(out, g.indices, "heartRate_max_timeOfDay_daily", tod)
				}
			}
		}
	}
	out.Stage = table.StageDaily
	return out
}

// timeOfDayAtMax returns the timeOfDay of the first row holding the group's
// maximum heart rate.
func timeOfDayAtMax(t *table.Table, indices []int) (string, bool) {
	best := 0.0
	bestTOD := ""
	found := false
	for _, i := range indices {
		v, ok := t.Rows[i].Float("heartRate")
		if !ok {
			continue
		}
		if !found || v > best {
			best = v
			bestTOD, _ = t.Rows[i].Get("timeOfDay")
			found = true
		}
	}
	return bestTOD, found && bestTOD != ""
}

// ActivitySummaryTable aggregates daily activity summaries. A row is only a
// placeholder when calories and steps are both zero; either alone is a valid
// observation, and the overall statistics for each column ignore its zeros.
func (f *Filter) ActivitySummaryTable(t *table.Table) *table.Table {
	if aggregated(t, "calories_mean_overall") {
		return t
	}
	if !t.HasCol("calories") || !t.HasCol("step_total") {
		f.log.Warn("activity_summary table is missing calories or step_total, skipping aggregation")
		return t
	}

	out := &table.Table{Cols: append([]string(nil), t.Cols...)}
	for _, row := range t.Rows {
		calories, hasCal := row.Float("calories")
		steps, hasSteps := row.Float("step_total")
		if hasCal && hasSteps && calories == 0 && steps == 0 {
			continue
		}
		out.Rows = append(out.Rows, row)
	}

	for _, col := range []string{"calories", "step_total"} {
		nonzero := make([]float64, 0, len(out.Rows))
		for _, v := range out.ColumnFloats(col) {
			if v != 0 {
				nonzero = append(nonzero, v)
			}
		}
		s := computeStats(nonzero)
		setAll(out, col+"_mean_overall", s.mean)
		setAll(out, col+"_median_overall", s.median)
		setAll(out, col+"_min_overall", s.min)
		setAll(out, col+"_max_overall", s.max)
		if s.stdOK {
			setAll(out, col+"_std_overall", s.std)
		}
	}
	out.Stage = table.StageDaily
	return out
}

// StepSeriesTable reduces raw step samples to one row per day. Non-positive
// samples are dropped before any statistic.
func (f *Filter) StepSeriesTable(t *table.Table) *table.Table {
	valueCol := "steps"
	if !t.HasCol(valueCol) && t.HasCol("value") {
		valueCol = "value"
	}
	return f.dailyValueTable(t, valueCol, "step_count", true)
}

// BreathingRateTable reduces nightly breathing-rate samples to one row per
// day, keeping only samples inside the policy range.
func (f *Filter) BreathingRateTable(t *table.Table) *table.Table {
	return f.boundedDailyTable(t, "breathing_rate", "breathing_rate", f.Policy.BreathingRateMin, f.Policy.BreathingRateMax)
}

// HRVTable reduces nightly HRV samples to one row per day, keeping only
// samples inside the policy range.
func (f *Filter) HRVTable(t *table.Table) *table.Table {
	return f.boundedDailyTable(t, "hrv_value", "hrv_value", f.Policy.HRVMin, f.Policy.HRVMax)
}

func (f *Filter) boundedDailyTable(t *table.Table, valueCol, prefix string, min, max float64) *table.Table {
	if aggregated(t, prefix+"_mean_daily") {
		return t
	}
	if !t.HasCol(valueCol) {
		f.log.Warn("table is missing value column, skipping aggregation", zap.String("column", valueCol))
		return t
	}
	filtered := &table.Table{Cols: append([]string(nil), t.Cols...)}
	for _, row := range t.Rows {
		v, ok := row.Float(valueCol)
		if !ok || v <= min || v >= max {
			continue
		}
		filtered.Rows = append(filtered.Rows, row)
	}
	return f.reduceDaily(filtered, valueCol, prefix, false)
}

func (f *Filter) dailyValueTable(t *table.Table, valueCol, prefix string, includeSum bool) *table.Table {
	if aggregated(t, prefix+"_mean_daily") {
		return t
	}
	if !t.HasCol(valueCol) {
		f.log.Warn("table is missing value column, skipping aggregation", zap.String("column", valueCol))
		return t
	}
	filtered := &table.Table{Cols: append([]string(nil), t.Cols...)}
	for _, row := range t.Rows {
		v, ok := row.Float(valueCol)
		if !ok || v <= 0 {
			continue
		}
		filtered.Rows = append(filtered.Rows, row)
	}
	return f.reduceDaily(filtered, valueCol, prefix, includeSum)
}

// reduceDaily produces the one-row-per-day table for a single-value stream:
// daily statistics per date plus the overall statistics broadcast onto every
// row. Both levels are computed from the filtered raw samples.
func (f *Filter) reduceDaily(t *table.Table, valueCol, prefix string, includeSum bool) *table.Table {
	dateCol, ok := ResolveDateColumn(t)
	if !ok {
		f.log.Warn("table has no resolvable date column, returning input", zap.String("value", valueCol))
		return t
	}

	out := table.New("date")
	out.Stage = table.StageDaily
	for _, g := range groupRows(t, dateKeyOf(dateCol)) {
		day := computeStats(groupFloats(t, g.indices, valueCol))
		row := table.Row{"date": g.key}
		row.SetFloat(prefix+"_mean_daily", day.mean)
		row.SetFloat(prefix+"_median_daily", day.median)
		row.SetFloat(prefix+"_min_daily", day.min)
		row.SetFloat(prefix+"_max_daily", day.max)
		if day.stdOK {
			row.SetFloat(prefix+"_std_daily", day.std)
		}
		if includeSum {
			row.SetFloat(prefix+"_sum_daily", day.sum)
		}
		row.SetFloat(prefix+"_count_daily", float64(day.count))
		out.Append(row)
	}

	overall := computeStats(t.ColumnFloats(valueCol))
	setAll(out, prefix+"_mean_overall", overall.mean)
	setAll(out, prefix+"_median_overall", overall.median)
	setAll(out, prefix+"_min_overall", overall.min)
	setAll(out, prefix+"_max_overall", overall.max)
	if overall.stdOK {
		setAll(out, prefix+"_std_overall", overall.std)
	}
	if includeSum {
		setAll(out, prefix+"_sum_overall", overall.sum)
	}
	setAll(out, prefix+"_count_overall", float64(overall.count))
	return out
}

// TrainingHRSamplesTable aggregates exercise heart-rate samples into hourly
// rows. Hourly statistics come from the samples of that hour; the daily and
// overall statistics broadcast onto each hourly row are computed over the
// full filtered sample set, not re-derived from the hourly rows.
func (f *Filter) TrainingHRSamplesTable(t *table.Table) *table.Table {
	if aggregated(t, "heartRate_mean_hourly") {
		return t
	}
	if !t.HasCol("heartRate") {
		f.log.Warn("training_hr_samples table has no heartRate column, skipping aggregation")
		return t
	}

	// Filtered raw samples with date and hour resolved from dateTime.
	type sample struct {
		date  string
		hour  int
		value float64
	}
	samples := make([]sample, 0, t.Len())
	for _, row := range t.Rows {
		v, ok := row.Float("heartRate")
		if !ok || v <= 0 {
			continue
		}
		raw, ok := row.Get("dateTime")
		if !ok {
			continue
		}
		ts, err := table.ParseDateTime(raw)
		if err != nil {
			continue
		}
		samples = append(samples, sample{date: table.DateOf(ts).String(), hour: ts.Hour(), value: v})
	}

	out := table.New("date", "hour")
	out.Stage = table.StageHourly
	if len(samples) == 0 {
		return out
	}

	type hourKey struct {
		date string
		hour int
	}
	hourOrder := make([]hourKey, 0)
	hourValues := make(map[hourKey][]float64)
	dailyValues := make(map[string][]float64)
	allValues := make([]float64, 0, len(samples))
	for _, s := range samples {
		hk := hourKey{date: s.date, hour: s.hour}
		if _, seen := hourValues[hk]; !seen {
			hourOrder = append(hourOrder, hk)
		}
		hourValues[hk] = append(hourValues[hk], s.value)
		dailyValues[s.date] = append(dailyValues[s.date], s.value)
		allValues = append(allValues, s.value)
	}

	overall := computeStats(allValues)
	dailyStats := make(map[string]statSet, len(dailyValues))
	for date, values := range dailyValues {
		dailyStats[date] = computeStats(values)
	}

	for _, hk := range hourOrder {
		hour := computeStats(hourValues[hk])
		row := table.Row{"date": hk.date}
		row.SetFloat("hour", float64(hk.hour))
		row.SetFloat("heartRate_mean_hourly", hour.mean)
		row.SetFloat("heartRate_median_hourly", hour.median)
		row.SetFloat("heartRate_min_hourly", hour.min)
		row.SetFloat("heartRate_max_hourly", hour.max)
		if hour.stdOK {
			row.SetFloat("heartRate_std_hourly", hour.std)
		}
		row.SetFloat("heartRate_count_hourly", float64(hour.count))

		day := dailyStats[hk.date]
		row.SetFloat("heartRate_mean_daily", day.mean)
		row.SetFloat("heartRate_median_daily", day.median)
		row.SetFloat("heartRate_min_daily", day.min)
		row.SetFloat("heartRate_max_daily", day.max)
		if day.stdOK {
			row.SetFloat("heartRate_std_daily", day.std)
		}
		row.SetFloat("heartRate_count_daily", float64(day.count))

		row.SetFloat("heartRate_mean_overall", overall.mean)
		row.SetFloat("heartRate_median_overall", overall.median)
		row.SetFloat("heartRate_min_overall", overall.min)
		row.SetFloat("heartRate_max_overall", overall.max)
		if overall.stdOK {
			row.SetFloat("heartRate_std_overall", overall.std)
		}
		out.Append(row)
	}
	return out
}

// TrainingSummaryTable splits session start/stop timestamps into date and
// time columns and adds the weekday name. No numeric aggregation applies.
func (f *Filter) TrainingSummaryTable(t *table.Table) *table.Table {
	if aggregated(t, "start_date") {
		return t
	}
	out := t.Clone()
	splitDateTime(out, "start")
	splitDateTime(out, "stop")
	if out.HasCol("start_date") {
		out.AddCol("start_day_name")
		for _, row := range out.Rows {
			raw, ok := row.Get("start_date")
			if !ok {
				continue
			}
			if d, err := table.ParseDate(raw); err == nil {
				row["start_day_name"] = d.Time().Weekday().String()
			}
		}
	}
	out.Stage = table.StageDaily
	return out
}

func splitDateTime(t *table.Table, col string) {
	if !t.HasCol(col) {
		return
	}
	dateCol, timeCol := col+"_date", col+"_time"
	t.AddCol(dateCol)
	t.AddCol(timeCol)
	for _, row := range t.Rows {
		raw, ok := row.Get(col)
		if !ok {
			continue
		}
		ts, err := table.ParseDateTime(raw)
		if err != nil {
			continue
		}
		row[dateCol] = table.DateOf(ts).String()
		row[timeCol] = ts.Format("15:04:05")
	}
}
