package extract

import (
	"time"

	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/table"
)

// parseTrainingSessions flattens the exercises of one JSON training-session
// file into a session summary and the raw heart-rate sample series. Exercise
// timestamps are device-local; the timezoneOffset (minutes) is applied.
func parseTrainingSessions(doc map[string]any, username string, w table.Window, log *zap.Logger) (summary, samples *table.Table) {
	summary = table.New("username", "start", "stop", "duration", "duration_sec", "calories", "hr_avg", "hr_min", "hr_max")
	summary.Stage = table.StageRaw
	samples = table.New("username", "dateTime", "heartRate")
	samples.Stage = table.StageRaw

	exercises, _ := asSlice(doc["exercises"])
	for _, e := range exercises {
		ex, ok := asMap(e)
		if !ok {
			continue
		}
		startRaw, _ := asString(ex["startTime"])
		if startRaw == "" {
			continue
		}
		start, err := table.ParseDateTime(startRaw)
		if err != nil {
			log.Warn("could not parse exercise start time, skipping exercise", zap.String("startTime", startRaw))
			continue
		}
		tzOffset, _ := asNumber(ex["timezoneOffset"])
		offset := time.Duration(tzOffset) * time.Minute
		start = start.Add(offset)
		if !w.Contains(table.DateOf(start)) {
			continue
		}

		row := table.Row{
			"username": username,
			"start":    start.Format(datetimeLayout),
		}
		if stopRaw, _ := asString(ex["stopTime"]); stopRaw != "" {
			if stop, err := table.ParseDateTime(stopRaw); err == nil {
				row["stop"] = stop.Add(offset).Format(datetimeLayout)
			}
		}
		if durRaw, _ := asString(ex["duration"]); durRaw != "" {
			row["duration"] = durRaw
			if seconds, ok := isoDurationSeconds(durRaw); ok {
				row.SetFloat("duration_sec", seconds)
			}
		}
		setScalar(row, "calories", ex["kiloCalories"])
		if hr, ok := asMap(ex["heartRate"]); ok {
			setScalar(row, "hr_avg", hr["avg"])
			setScalar(row, "hr_min", hr["min"])
			setScalar(row, "hr_max", hr["max"])
		}
		summary.Append(row)

		sampleBlock, _ := asMap(ex["samples"])
		hrSamples, _ := asSlice(sampleBlock["heartRate"])
		for _, s := range hrSamples {
			sample, ok := asMap(s)
			if !ok {
				continue
			}
			tsRaw, _ := asString(sample["dateTime"])
			value, hasValue := cellString(sample["value"])
			if tsRaw == "" || !hasValue {
				continue
			}
			ts, err := table.ParseDateTime(tsRaw)
			if err != nil {
				continue
			}
			samples.Append(table.Row{
				"username":  username,
				"dateTime":  ts.Add(offset).Format(datetimeLayout),
				"heartRate": value,
			})
		}
	}
	return summary, samples
}
