package extract

import (
	"time"

	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/table"
)

const datetimeLayout = "2006-01-02T15:04:05"

// evaluation duration fields that also get a derived "<key>_minutes" column.
var (
	evaluationDurationKeys   = map[string]bool{"sleepSpan": true, "asleepDuration": true}
	interruptionDurationKeys = map[string]bool{"totalDuration": true, "shortDuration": true, "longDuration": true}
	phaseDurationKeys        = map[string]bool{"wake": true, "rem": true, "light": true, "deep": true, "unknown": true}
)

// parseSleepWake flattens sleep/wake state transitions. Each model carries a
// millisInDay offset from midnight of the night date; that is the only way to
// recover an absolute timestamp.
func parseSleepWake(nights []any, username string, w table.Window, log *zap.Logger) *table.Table {
	t := table.New("username", "datetime", "state")
	t.Stage = table.StageRaw
	for _, n := range nights {
		night, ok := asMap(n)
		if !ok {
			continue
		}
		raw, _ := asString(night["night"])
		if raw == "" {
			continue
		}
		date, keep := nightDate(raw, w, log)
		if !keep {
			continue
		}
		entries, _ := asSlice(night["sleepWake"])
		for _, e := range entries {
			entry, ok := asMap(e)
			if !ok {
				continue
			}
			changes, ok := asMap(entry["sleepStateChanges"])
			if !ok {
				continue
			}
			models, _ := asSlice(changes["sleepWakeStateChangeModels"])
			for _, m := range models {
				model, ok := asMap(m)
				if !ok {
					continue
				}
				millis, hasMillis := asNumber(model["millisInDay"])
				state, hasState := cellString(model["state"])
				if !hasMillis || !hasState {
					continue
				}
				ts := date.Time().Add(time.Duration(millis) * time.Millisecond)
				t.Append(table.Row{
					"username": username,
					"datetime": ts.Format(datetimeLayout),
					"state":    state,
				})
			}
		}
	}
	return t
}

// parseSleepScores flattens per-night sleep score results. Baseline blocks
// are not exported; the remaining scalar metrics pass through unprefixed.
func parseSleepScores(nights []any, username string, w table.Window, log *zap.Logger) *table.Table {
	t := table.New("username", "date", "night", "sleepScore")
	t.Stage = table.StageRaw
	for _, n := range nights {
		night, ok := asMap(n)
		if !ok {
			continue
		}
		raw, _ := asString(night["night"])
		if raw == "" {
			continue
		}
		date, keep := nightDate(raw, w, log)
		if !keep {
			continue
		}
		result, ok := asMap(night["sleepScoreResult"])
		if !ok || len(result) == 0 {
			continue
		}
		row := table.Row{
			"username": username,
			"date":     date.String(),
			"night":    raw,
		}
		for _, k := range sortedKeys(result) {
			setScalar(row, k, result[k])
		}
		t.Append(row)
	}
	return t
}

// parseSleepResults flattens per-night sleep evaluations and the hypnogram
// state changes anchored at sleepStart.
func parseSleepResults(nights []any, username string, w table.Window, log *zap.Logger) (result, hypnogram *table.Table) {
	result = table.New("username", "date", "night")
	result.Stage = table.StageRaw
	hypnogram = table.New("username", "date", "night", "datetime", "state", "offset_from_start", "offset_minutes")
	hypnogram.Stage = table.StageRaw

	for _, n := range nights {
		night, ok := asMap(n)
		if !ok {
			continue
		}
		raw, _ := asString(night["night"])
		if raw == "" {
			continue
		}
		date, keep := nightDate(raw, w, log)
		if !keep {
			continue
		}

		if evaluation, ok := asMap(night["evaluation"]); ok && len(evaluation) > 0 {
			row := table.Row{
				"username": username,
				"date":     date.String(),
				"night":    raw,
			}
			flattenEvaluation(row, evaluation)
			result.Append(row)
		}

		sleepResult, ok := asMap(night["sleepResult"])
		if !ok {
			continue
		}
		hyp, ok := asMap(sleepResult["hypnogram"])
		if !ok {
			continue
		}
		appendHypnogramRows(hypnogram, hyp, username, date, raw, log)
	}
	return result, hypnogram
}

// flattenEvaluation flattens one evaluation block. ISO-8601 durations keep
// their original form and gain a derived minutes column; a duration that does
// not parse keeps only the raw string.
func flattenEvaluation(row table.Row, evaluation map[string]any) {
	for _, key := range sortedKeys(evaluation) {
		value := evaluation[key]
		switch key {
		case "interruptions":
			if nested, ok := asMap(value); ok {
				flattenDurationMap(row, "interruptions", nested, interruptionDurationKeys)
				continue
			}
			setScalar(row, key, value)
		case "phaseDurations":
			if nested, ok := asMap(value); ok {
				flattenDurationMap(row, "phaseDurations", nested, phaseDurationKeys)
				continue
			}
			setScalar(row, key, value)
		case "analysis":
			if nested, ok := asMap(value); ok {
				flattenInto(row, "analysis", nested)
				continue
			}
			setScalar(row, key, value)
		default:
			if s, ok := asString(value); ok && evaluationDurationKeys[key] && isISODuration(s) {
				row[key] = s
				if minutes, ok := isoDurationMinutes(s); ok {
					row.SetFloat(key+"_minutes", minutes)
				}
				continue
			}
			setScalar(row, key, value)
		}
	}
}

func flattenDurationMap(row table.Row, prefix string, m map[string]any, durationKeys map[string]bool) {
	for _, k := range sortedKeys(m) {
		col := prefix + "_" + k
		if s, ok := asString(m[k]); ok && durationKeys[k] && isISODuration(s) {
			row[col] = s
			if minutes, ok := isoDurationMinutes(s); ok {
				row.SetFloat(col+"_minutes", minutes)
			}
			continue
		}
		setScalar(row, col, m[k])
	}
}

func appendHypnogramRows(t *table.Table, hyp map[string]any, username string, date table.Date, night string, log *zap.Logger) {
	startRaw, _ := asString(hyp["sleepStart"])
	if startRaw == "" {
		return
	}
	sleepStart, err := table.ParseDateTime(startRaw)
	if err != nil {
		log.Warn("could not parse sleep start time", zap.String("sleepStart", startRaw))
		return
	}
	changes, _ := asSlice(hyp["sleepStateChanges"])
	for _, c := range changes {
		change, ok := asMap(c)
		if !ok {
			continue
		}
		offsetRaw, _ := asString(change["offsetFromStart"])
		state, hasState := cellString(change["state"])
		if offsetRaw == "" || !hasState {
			continue
		}
		seconds, ok := isoDurationSeconds(offsetRaw)
		if !ok {
			log.Warn("could not parse state change offset", zap.String("offset", offsetRaw))
			continue
		}
		ts := sleepStart.Add(time.Duration(seconds * float64(time.Second)))
		t.Append(table.Row{
			"username":          username,
			"date":              date.String(),
			"night":             night,
			"datetime":          ts.Format(datetimeLayout),
			"state":             state,
			"offset_from_start": offsetRaw,
			"offset_minutes":    formatFloat(seconds / 60),
		})
	}
}

// parseRecoveryBlobs flattens interval-sampled HRV and breathing-rate
// sessions. Samples carry no individual time field; each timestamp is
// reconstructed as start + i*interval.
func parseRecoveryBlobs(nights []any, username string, w table.Window, log *zap.Logger) (hrv, breathing *table.Table) {
	hrv = table.New("username", "date", "datetime", "hrv_value", "sampling_interval_ms", "sample_index")
	hrv.Stage = table.StageRaw
	breathing = table.New("username", "date", "datetime", "breathing_rate", "sampling_interval_ms", "sample_index")
	breathing.Stage = table.StageRaw

	for _, n := range nights {
		night, ok := asMap(n)
		if !ok {
			continue
		}
		sessions, _ := asSlice(night["hrvData"])
		for _, s := range sessions {
			appendIntervalSamples(hrv, s, "hrv_value", username, w, log)
		}
		sessions, _ = asSlice(night["breathingRateData"])
		for _, s := range sessions {
			appendIntervalSamples(breathing, s, "breathing_rate", username, w, log)
		}
	}
	return hrv, breathing
}

func appendIntervalSamples(t *table.Table, session any, valueCol, username string, w table.Window, log *zap.Logger) {
	m, ok := asMap(session)
	if !ok {
		return
	}
	startRaw, _ := asString(m["startTime"])
	intervalMS, hasInterval := asNumber(m["samplingIntervalInMillis"])
	samples, _ := asSlice(m["samples"])
	if startRaw == "" || !hasInterval || intervalMS <= 0 || len(samples) == 0 {
		return
	}
	start, err := table.ParseDateTime(startRaw)
	if err != nil {
		log.Warn("could not parse session start time",
			zap.String("stream", valueCol), zap.String("startTime", startRaw))
		return
	}
	date := table.DateOf(start)
	if !w.Contains(date) {
		return
	}
	interval := time.Duration(intervalMS) * time.Millisecond
	intervalCell := formatFloat(intervalMS)
	for i, sample := range samples {
		value, ok := cellString(sample)
		if !ok {
			continue
		}
		ts := start.Add(time.Duration(i) * interval)
		row := table.Row{
			"username":             username,
			"date":                 date.String(),
			"datetime":             ts.Format(datetimeLayout),
			valueCol:               value,
			"sampling_interval_ms": intervalCell,
		}
		row.SetFloat("sample_index", float64(i))
		t.Append(row)
	}
}

// parseNightlyRecovery flattens per-night recovery summaries. Scalar metrics
// pass through unprefixed; nested breakdowns are flattened one level deep.
func parseNightlyRecovery(nights []any, username string, w table.Window, log *zap.Logger) *table.Table {
	t := table.New("username", "date", "night")
	t.Stage = table.StageRaw
	for _, n := range nights {
		night, ok := asMap(n)
		if !ok {
			continue
		}
		raw, _ := asString(night["night"])
		if raw == "" {
			continue
		}
		date, keep := nightDate(raw, w, log)
		if !keep {
			continue
		}
		row := table.Row{
			"username": username,
			"date":     date.String(),
			"night":    raw,
		}
		for _, k := range sortedKeys(night) {
			if k == "night" {
				continue
			}
			if nested, ok := asMap(night[k]); ok {
				flattenInto(row, k, nested)
				continue
			}
			setScalar(row, k, night[k])
		}
		t.Append(row)
	}
	return t
}
