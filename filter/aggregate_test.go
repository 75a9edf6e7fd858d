package filter

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/table"
)

func testFilter() *Filter {
	return &Filter{Policy: DefaultPolicy(), log: zap.NewNop()}
}

func hrRow(date, timeOfDay string, hr float64) table.Row {
	row := table.Row{"date": date, "timeOfDay": timeOfDay}
	row.SetFloat("heartRate", hr)
	return row
}

func TestActivityHRTableDropsZeroSentinels(t *testing.T) {
	tbl := table.New("date", "timeOfDay", "heartRate")
	tbl.Stage = table.StageRaw
	tbl.Append(hrRow("2021-03-01", "08:00:00", 0))
	tbl.Append(hrRow("2021-03-01", "09:00:00", 60))
	tbl.Append(hrRow("2021-03-01", "10:00:00", 70))
	tbl.Append(hrRow("2021-03-01", "11:00:00", 0))
	tbl.Append(hrRow("2021-03-01", "12:00:00", 80))

	got := testFilter().ActivityHRTable(tbl)
	require.Equal(t, 3, got.Len())
	assert.Equal(t, table.StageDaily, got.Stage)

	row := got.Rows[0]
	mean, _ := row.Float("heartRate_mean_overall")
	assert.Equal(t, 70.0, mean)
	count, _ := row.Float("heartRate_count_daily")
	assert.Equal(t, 3.0, count)
	rng, _ := row.Float("heartRate_range_daily")
	assert.Equal(t, 20.0, rng)
	min, _ := row.Float("heartRate_min_daily")
	assert.Equal(t, 60.0, min)
}

func TestActivityHRTableMaxTimeOfDayFirstOccurrence(t *testing.T) {
	tbl := table.New("date", "timeOfDay", "heartRate")
	tbl.Stage = table.StageRaw
	tbl.Append(hrRow("2021-03-01", "08:00:00", 90))
	tbl.Append(hrRow("2021-03-01", "14:00:00", 90))
	tbl.Append(hrRow("2021-03-01", "20:00:00", 70))

	got := testFilter().ActivityHRTable(tbl)
	tod, ok := got.Rows[0].Get("heartRate_max_timeOfDay_daily")
	require.True(t, ok)
	assert.Equal(t, "08:00:00", tod, "ties keep the first occurrence")
}

func TestActivitySummaryTableBothZeroRule(t *testing.T) {
	tbl := table.New("date", "calories", "step_total")
	tbl.Stage = table.StageRaw
	appendSummary := func(date string, cal, steps float64) {
		row := table.Row{"date": date}
		row.SetFloat("calories", cal)
		row.SetFloat("step_total", steps)
		tbl.Append(row)
	}
	appendSummary("2021-03-01", 0, 0) // placeholder, dropped
	appendSummary("2021-03-02", 0, 500)
	appendSummary("2021-03-03", 1800, 0)
	appendSummary("2021-03-04", 2000, 7000)

	got := testFilter().ActivitySummaryTable(tbl)
	require.Equal(t, 3, got.Len(), "only the all-zero row is a placeholder")

	// Overall statistics ignore the remaining zeros per column.
	calMean, _ := got.Rows[0].Float("calories_mean_overall")
	assert.Equal(t, 1900.0, calMean)
	stepMean, _ := got.Rows[0].Float("step_total_mean_overall")
	assert.Equal(t, 3750.0, stepMean)
}

func TestStepSeriesTableDailyReduction(t *testing.T) {
	tbl := table.New("date", "steps")
	tbl.Stage = table.StageRaw
	appendStep := func(date string, v float64) {
		row := table.Row{"date": date}
		row.SetFloat("steps", v)
		tbl.Append(row)
	}
	appendStep("2021-03-01", 100)
	appendStep("2021-03-01", -5) // non-positive, dropped
	appendStep("2021-03-01", 300)
	appendStep("2021-03-02", 0) // dropped
	appendStep("2021-03-02", 50)

	got := testFilter().StepSeriesTable(tbl)
	require.Equal(t, 2, got.Len(), "one row per day")
	assert.Equal(t, table.StageDaily, got.Stage)

	day1 := got.Rows[0]
	d, _ := day1.Get("date")
	assert.Equal(t, "2021-03-01", d)
	sum, _ := day1.Float("step_count_sum_daily")
	assert.Equal(t, 400.0, sum)
	count, _ := day1.Float("step_count_count_daily")
	assert.Equal(t, 2.0, count)

	overallSum, _ := day1.Float("step_count_sum_overall")
	assert.Equal(t, 450.0, overallSum)
	overallSum2, _ := got.Rows[1].Float("step_count_sum_overall")
	assert.Equal(t, overallSum, overallSum2, "overall broadcast on every row")
}

func TestBoundedDailyTablesExclusiveBounds(t *testing.T) {
	f := testFilter()

	breathing := table.New("date", "breathing_rate")
	breathing.Stage = table.StageRaw
	for _, v := range []float64{0, 12.5, 50, 49.9, -3} {
		row := table.Row{"date": "2021-03-01"}
		row.SetFloat("breathing_rate", v)
		breathing.Append(row)
	}
	got := f.BreathingRateTable(breathing)
	require.Equal(t, 1, got.Len())
	count, _ := got.Rows[0].Float("breathing_rate_count_daily")
	assert.Equal(t, 2.0, count, "0 and 50 are excluded, 12.5 and 49.9 kept")

	hrv := table.New("date", "hrv_value")
	hrv.Stage = table.StageRaw
	for _, v := range []float64{0, 55, 200, 199.5} {
		row := table.Row{"date": "2021-03-01"}
		row.SetFloat("hrv_value", v)
		hrv.Append(row)
	}
	got = f.HRVTable(hrv)
	count, _ = got.Rows[0].Float("hrv_value_count_daily")
	assert.Equal(t, 2.0, count)
}

func TestPolicyOverridesBounds(t *testing.T) {
	f := testFilter()
	f.Policy.HRVMax = 100

	hrv := table.New("date", "hrv_value")
	hrv.Stage = table.StageRaw
	for _, v := range []float64{55, 150} {
		row := table.Row{"date": "2021-03-01"}
		row.SetFloat("hrv_value", v)
		hrv.Append(row)
	}
	got := f.HRVTable(hrv)
	count, _ := got.Rows[0].Float("hrv_value_count_daily")
	assert.Equal(t, 1.0, count)
}

func TestTrainingHRSamplesHourlyWithDailyBroadcast(t *testing.T) {
	tbl := table.New("dateTime", "heartRate")
	tbl.Stage = table.StageRaw
	appendSample := func(dt string, hr float64) {
		row := table.Row{"dateTime": dt}
		row.SetFloat("heartRate", hr)
		tbl.Append(row)
	}
	appendSample("2021-03-01T10:00:00", 100)
	appendSample("2021-03-01T10:30:00", 120)
	appendSample("2021-03-01T11:00:00", 140)
	appendSample("2021-03-01T11:15:00", 0) // sentinel, dropped
	appendSample("2021-03-02T09:00:00", 90)

	got := testFilter().TrainingHRSamplesTable(tbl)
	require.Equal(t, 3, got.Len(), "one row per (date, hour)")
	assert.Equal(t, table.StageHourly, got.Stage)

	first := got.Rows[0]
	hour, _ := first.Float("hour")
	assert.Equal(t, 10.0, hour)
	hourlyMean, _ := first.Float("heartRate_mean_hourly")
	assert.Equal(t, 110.0, hourlyMean)

	// Daily statistics come from the raw filtered samples of the day, not
	// from re-aggregating the hourly rows.
	dailyMean, _ := first.Float("heartRate_mean_daily")
	assert.Equal(t, 120.0, dailyMean)
	dailyCount, _ := first.Float("heartRate_count_daily")
	assert.Equal(t, 3.0, dailyCount)

	second := got.Rows[1]
	dailyMean2, _ := second.Float("heartRate_mean_daily")
	assert.Equal(t, dailyMean, dailyMean2, "daily stats constant across the day")

	overallMean, _ := got.Rows[2].Float("heartRate_mean_overall")
	assert.Equal(t, 112.5, overallMean)
}

func TestTrainingSummaryTableSplitsTimestamps(t *testing.T) {
	tbl := table.New("start", "stop")
	tbl.Stage = table.StageRaw
	tbl.Append(table.Row{"start": "2021-03-01T18:30:00", "stop": "2021-03-01T19:45:00"})

	got := testFilter().TrainingSummaryTable(tbl)
	row := got.Rows[0]
	d, _ := row.Get("start_date")
	assert.Equal(t, "2021-03-01", d)
	tm, _ := row.Get("start_time")
	assert.Equal(t, "18:30:00", tm)
	day, _ := row.Get("start_day_name")
	assert.Equal(t, "Monday", day)
	stopTime, _ := row.Get("stop_time")
	assert.Equal(t, "19:45:00", stopTime)
}

func TestAggregationIdempotentAfterRoundTrip(t *testing.T) {
	tbl := table.New("date", "steps")
	tbl.Stage = table.StageRaw
	row := table.Row{"date": "2021-03-01"}
	row.SetFloat("steps", 250)
	tbl.Append(row)

	f := testFilter()
	once := f.StepSeriesTable(tbl)

	// A processed table reloaded from disk loses the stage marker; the
	// column sniff must still refuse to re-aggregate it.
	path := filepath.Join(t.TempDir(), "step_series.csv")
	require.NoError(t, once.WriteCSV(path))
	reloaded, err := table.ReadCSV(path)
	require.NoError(t, err)
	require.Equal(t, table.StageUnknown, reloaded.Stage)

	again := f.StepSeriesTable(reloaded)
	assert.Same(t, reloaded, again, "already aggregated table passes through")
	assert.Equal(t, once.Cols, again.Cols)
}
