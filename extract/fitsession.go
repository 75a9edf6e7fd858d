package extract

import (
	"bytes"
	"fmt"
	"math"

	"github.com/tormoder/fit"
	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/table"
)

// parseTrainingFIT extracts training summaries and heart-rate samples from a
// FIT-encoded training session. FIT fields use all-ones sentinels for
// "absent"; those are treated as missing, never as values.
func parseTrainingFIT(data []byte, username string, w table.Window, log *zap.Logger) (summary, samples *table.Table, err error) {
	summary = table.New("username", "start", "stop", "duration_sec", "calories", "hr_avg", "hr_min", "hr_max")
	summary.Stage = table.StageRaw
	samples = table.New("username", "dateTime", "heartRate")
	samples.Stage = table.StageRaw

	decoded, err := fit.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decode fit file: %w", err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return nil, nil, fmt.Errorf("activity fit expected: %w", err)
	}

	for _, session := range activity.Sessions {
		if session == nil {
			continue
		}
		start := session.StartTime
		if start.IsZero() || fit.IsBaseTime(start) {
			log.Warn("fit session has no start time, skipping")
			continue
		}
		if !w.Contains(table.DateOf(start)) {
			continue
		}

		row := table.Row{
			"username": username,
			"start":    start.Format(datetimeLayout),
		}
		if stop := session.Timestamp; !stop.IsZero() && !fit.IsBaseTime(stop) {
			row["stop"] = stop.Format(datetimeLayout)
		}
		if dur := session.GetTotalTimerTimeScaled(); dur > 0 && !math.IsNaN(dur) {
			row.SetFloat("duration_sec", dur)
		}
		if cal := validUint16(session.TotalCalories); cal > 0 {
			row.SetFloat("calories", float64(cal))
		}
		if avg := validUint8(session.AvgHeartRate); avg > 0 {
			row.SetFloat("hr_avg", float64(avg))
		}
		if max := validUint8(session.MaxHeartRate); max > 0 {
			row.SetFloat("hr_max", float64(max))
		}
		if min := minRecordHeartRate(activity.Records); min > 0 {
			row.SetFloat("hr_min", min)
		}
		summary.Append(row)
	}

	for _, rec := range activity.Records {
		if rec == nil {
			continue
		}
		hr := validUint8(rec.HeartRate)
		if hr == 0 {
			continue
		}
		ts := rec.Timestamp
		if ts.IsZero() || fit.IsBaseTime(ts) {
			continue
		}
		if !w.Contains(table.DateOf(ts)) {
			continue
		}
		row := table.Row{
			"username": username,
			"dateTime": ts.Format(datetimeLayout),
		}
		row.SetFloat("heartRate", float64(hr))
		samples.Append(row)
	}
	return summary, samples, nil
}

func minRecordHeartRate(records []*fit.RecordMsg) float64 {
	min := 0.0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		hr := validUint8(rec.HeartRate)
		if hr == 0 {
			continue
		}
		if min == 0 || float64(hr) < min {
			min = float64(hr)
		}
	}
	return min
}

func validUint8(v uint8) uint8 {
	if v == math.MaxUint8 {
		return 0
	}
	return v
}

func validUint16(v uint16) uint16 {
	if v == math.MaxUint16 {
		return 0
	}
	return v
}
