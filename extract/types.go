// Package extract reads per-user wearable export archives and flattens every
// known record type into independent row-sets, one row per leaf sample or
// event. It is a pure transform: nested JSON (or FIT) in, flat tables out.
package extract

import (
	"github.com/wearlab/polar-pipeline/table"
)

// StreamKind names one telemetry stream. The per-user output file for a
// stream is "<kind>.csv".
type StreamKind string

const (
	StreamSleepWakeSamples  StreamKind = "sleep_wake_samples"
	StreamSleepScores       StreamKind = "sleep_scores"
	StreamSleepResult       StreamKind = "sleep_result"
	StreamHypnogram         StreamKind = "hypnogram"
	StreamRecoveryHRV       StreamKind = "nightly_recovery_hrv_data"
	StreamRecoveryBreathing StreamKind = "nightly_recovery_breathing_data"
	StreamRecoverySummary   StreamKind = "nightly_recovery_summary"
	StreamActivitySummary   StreamKind = "activity_summary"
	StreamStepSeries        StreamKind = "step_series"
	StreamActivityHR        StreamKind = "activity_hr"
	StreamTrainingSummary   StreamKind = "training_summary"
	StreamTrainingHRSamples StreamKind = "training_hr_samples"
)

// KnownStreams lists every stream the pipeline produces, in output order.
var KnownStreams = []StreamKind{
	StreamTrainingSummary,
	StreamTrainingHRSamples,
	StreamActivitySummary,
	StreamStepSeries,
	StreamActivityHR,
	StreamSleepWakeSamples,
	StreamSleepScores,
	StreamSleepResult,
	StreamHypnogram,
	StreamRecoveryHRV,
	StreamRecoveryBreathing,
	StreamRecoverySummary,
}

// UserExport holds the flattened row-sets extracted for one user.
type UserExport struct {
	Username string
	Archives []string
	Streams  map[StreamKind]*table.Table
}

func newUserExport(username, archive string) *UserExport {
	return &UserExport{
		Username: username,
		Archives: []string{archive},
		Streams:  make(map[StreamKind]*table.Table),
	}
}

// merge concatenates the streams of other into e. Extraction itself never
// mutates shared state; each parser returns fresh tables and the caller
// concatenates exactly once per member.
func (e *UserExport) merge(streams map[StreamKind]*table.Table) {
	for kind, t := range streams {
		if t == nil || t.Empty() {
			continue
		}
		if existing, ok := e.Streams[kind]; ok {
			existing.Concat(t)
		} else {
			e.Streams[kind] = t
		}
	}
}

// MergeByUser combines exports that share a username, preserving first-seen
// user order.
func MergeByUser(exports []*UserExport) []*UserExport {
	byUser := make(map[string]*UserExport)
	order := make([]string, 0, len(exports))
	for _, ex := range exports {
		existing, ok := byUser[ex.Username]
		if !ok {
			byUser[ex.Username] = ex
			order = append(order, ex.Username)
			continue
		}
		existing.Archives = append(existing.Archives, ex.Archives...)
		existing.merge(ex.Streams)
	}
	out := make([]*UserExport, 0, len(order))
	for _, name := range order {
		out = append(out, byUser[name])
	}
	return out
}
