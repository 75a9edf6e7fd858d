package extract

import (
	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/table"
)

// parseActivityDay flattens one daily activity file into a one-row summary
// and the per-sample step series.
func parseActivityDay(day map[string]any, username string, w table.Window, log *zap.Logger) (summary, steps *table.Table) {
	summary = table.New("username", "date", "start", "end", "calories", "step_total")
	summary.Stage = table.StageRaw
	steps = table.New("username", "date")
	steps.Stage = table.StageRaw

	raw, _ := asString(day["date"])
	if raw == "" {
		log.Warn("activity file has no date, skipping")
		return summary, steps
	}
	date, keep := nightDate(raw, w, log)
	if !keep {
		return summary, steps
	}

	row := table.Row{
		"username": username,
		"date":     date.String(),
	}
	if block, ok := asMap(day["summary"]); ok {
		setScalar(row, "start", block["startTime"])
		setScalar(row, "end", block["endTime"])
		setScalar(row, "calories", block["calories"])
		setScalar(row, "step_total", block["stepCount"])
	}
	summary.Append(row)

	samples, _ := asMap(day["samples"])
	stepSamples, _ := asSlice(samples["steps"])
	for _, s := range stepSamples {
		sample, ok := asMap(s)
		if !ok {
			continue
		}
		stepRow := table.Row{
			"username": username,
			"date":     date.String(),
		}
		for _, k := range sortedKeys(sample) {
			setScalar(stepRow, k, sample[k])
		}
		steps.Append(stepRow)
	}
	return summary, steps
}

// parseActivityHR flattens 24/7 optical heart-rate device days into one row
// per sample.
func parseActivityHR(doc map[string]any, username string, w table.Window, log *zap.Logger) *table.Table {
	t := table.New("username", "userId", "date")
	t.Stage = table.StageRaw

	days, _ := asSlice(doc["deviceDays"])
	for _, d := range days {
		day, ok := asMap(d)
		if !ok {
			continue
		}
		raw, _ := asString(day["date"])
		if raw == "" {
			continue
		}
		date, keep := nightDate(raw, w, log)
		if !keep {
			continue
		}
		samples, _ := asSlice(day["samples"])
		if len(samples) == 0 {
			continue
		}
		for _, s := range samples {
			sample, ok := asMap(s)
			if !ok {
				continue
			}
			row := table.Row{
				"username": username,
				"date":     date.String(),
			}
			setScalar(row, "userId", day["userId"])
			for _, k := range sortedKeys(sample) {
				setScalar(row, k, sample[k])
			}
			t.Append(row)
		}
	}
	return t
}
