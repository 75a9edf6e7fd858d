package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/table"
)

const accountJSON = `{"username":"jane.12345@example.com"}`

const recoveryBlobJSON = `[
  {
    "night": "2021-03-02",
    "hrvData": [
      {
        "startTime": "2021-03-01T23:30:00",
        "samplingIntervalInMillis": 300000,
        "samples": [55, 60.5, null, 58]
      }
    ],
    "breathingRateData": [
      {
        "startTime": "2021-03-01T23:30:00",
        "samplingIntervalInMillis": 300000,
        "samples": [14.2, 13.8]
      }
    ]
  }
]`

const sleepResultJSON = `[
  {
    "night": "2021-03-02",
    "evaluation": {
      "sleepSpan": "PT8H30M",
      "asleepDuration": "PT7H45M",
      "continuity": 2.5,
      "interruptions": {"count": 12, "totalDuration": "PT45M"},
      "phaseDurations": {"deep": "PT1H30M", "rem": "PT2H"}
    },
    "sleepResult": {
      "hypnogram": {
        "sleepStart": "2021-03-01T23:00:00",
        "sleepStateChanges": [
          {"offsetFromStart": "PT0S", "state": "LIGHT"},
          {"offsetFromStart": "PT30M", "state": "DEEP"}
        ]
      }
    }
  },
  {
    "night": "not-a-date",
    "evaluation": {"sleepSpan": "PT6H"}
  }
]`

const sleepWakeJSON = `[
  {
    "night": "2021-03-02",
    "sleepWake": [
      {
        "sleepStateChanges": {
          "sleepWakeStateChangeModels": [
            {"millisInDay": 3600000, "state": "ASLEEP"},
            {"millisInDay": 7200000, "state": "AWAKE"}
          ]
        }
      }
    ]
  },
  {
    "night": "2019-05-01",
    "sleepWake": [
      {
        "sleepStateChanges": {
          "sleepWakeStateChangeModels": [
            {"millisInDay": 1000, "state": "ASLEEP"}
          ]
        }
      }
    ]
  }
]`

const activityJSON = `{
  "date": "2021-03-02",
  "summary": {
    "startTime": "2021-03-02T00:00:00",
    "endTime": "2021-03-02T23:59:59",
    "calories": 2200,
    "stepCount": 8432
  },
  "samples": {
    "steps": [
      {"time": "2021-03-02T08:00:00", "steps": 120},
      {"time": "2021-03-02T09:00:00", "steps": 450}
    ]
  }
}`

const trainingJSON = `{
  "exercises": [
    {
      "startTime": "2021-03-02T10:00:00",
      "stopTime": "2021-03-02T11:00:00",
      "timezoneOffset": 120,
      "duration": "PT1H",
      "kiloCalories": 540,
      "heartRate": {"avg": 132, "min": 95, "max": 171},
      "samples": {
        "heartRate": [
          {"dateTime": "2021-03-02T10:00:00", "value": 110},
          {"dateTime": "2021-03-02T10:00:01", "value": 112}
        ]
      }
    }
  ]
}`

func writeArchive(t *testing.T, dir, name string, members map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for member, content := range members {
		w, err := zw.Create(member)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func testWindow(t *testing.T) table.Window {
	t.Helper()
	start, err := table.ParseDate("2020-01-01")
	require.NoError(t, err)
	return table.Window{Start: start}
}

func TestProcessArchive(t *testing.T) {
	dir := t.TempDir()
	path := writeArchive(t, dir, "polar-user-data-export_a.zip", map[string]string{
		"account-data-2021.json":            accountJSON,
		"nightly_recovery_blob_2021.json":   recoveryBlobJSON,
		"sleep_result_2021.json":            sleepResultJSON,
		"sleep_wake_2021.json":              sleepWakeJSON,
		"activity-2021-03-02.json":          activityJSON,
		"training-session-2021-03-02.json":  trainingJSON,
		"unrelated-readme.txt":              "ignore me",
		"policies/privacy-notification.pdf": "ignore me too",
	})

	export, err := ProcessArchive(path, testWindow(t), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "jane.12345@example.com", export.Username)

	t.Run("hrv timestamps are start plus index times interval", func(t *testing.T) {
		hrv := export.Streams[StreamRecoveryHRV]
		require.NotNil(t, hrv)
		require.Equal(t, 3, hrv.Len(), "null sample dropped")

		second := hrv.Rows[1]
		dt, _ := second.Get("datetime")
		assert.Equal(t, "2021-03-01T23:35:00", dt)
		v, ok := second.Float("hrv_value")
		require.True(t, ok)
		assert.Equal(t, 60.5, v)
		idx, _ := second.Float("sample_index")
		assert.Equal(t, 1.0, idx)

		// Index continues over the dropped null.
		third := hrv.Rows[2]
		idx, _ = third.Float("sample_index")
		assert.Equal(t, 3.0, idx)
		dt, _ = third.Get("datetime")
		assert.Equal(t, "2021-03-01T23:45:00", dt)
	})

	t.Run("breathing samples share the reconstruction", func(t *testing.T) {
		br := export.Streams[StreamRecoveryBreathing]
		require.NotNil(t, br)
		require.Equal(t, 2, br.Len())
		v, _ := br.Rows[1].Float("breathing_rate")
		assert.Equal(t, 13.8, v)
	})

	t.Run("evaluation durations keep raw form and gain minutes", func(t *testing.T) {
		result := export.Streams[StreamSleepResult]
		require.NotNil(t, result)
		require.Equal(t, 1, result.Len(), "night with unparsable date skipped")

		row := result.Rows[0]
		span, _ := row.Get("sleepSpan")
		assert.Equal(t, "PT8H30M", span)
		minutes, ok := row.Float("sleepSpan_minutes")
		require.True(t, ok)
		assert.Equal(t, 510.0, minutes)

		asleep, _ := row.Float("asleepDuration_minutes")
		assert.Equal(t, 465.0, asleep)
		interruptions, _ := row.Float("interruptions_totalDuration_minutes")
		assert.Equal(t, 45.0, interruptions)
		deep, _ := row.Float("phaseDurations_deep_minutes")
		assert.Equal(t, 90.0, deep)
		count, _ := row.Float("interruptions_count")
		assert.Equal(t, 12.0, count)
		cont, _ := row.Float("continuity")
		assert.Equal(t, 2.5, cont)
	})

	t.Run("hypnogram anchors at sleep start", func(t *testing.T) {
		hyp := export.Streams[StreamHypnogram]
		require.NotNil(t, hyp)
		require.Equal(t, 2, hyp.Len())

		dt, _ := hyp.Rows[1].Get("datetime")
		assert.Equal(t, "2021-03-01T23:30:00", dt)
		minutes, _ := hyp.Rows[1].Float("offset_minutes")
		assert.Equal(t, 30.0, minutes)
		state, _ := hyp.Rows[1].Get("state")
		assert.Equal(t, "DEEP", state)
	})

	t.Run("sleep wake offsets from night midnight, window trims old nights", func(t *testing.T) {
		sw := export.Streams[StreamSleepWakeSamples]
		require.NotNil(t, sw)
		require.Equal(t, 2, sw.Len(), "2019 night is outside the window")

		dt, _ := sw.Rows[0].Get("datetime")
		assert.Equal(t, "2021-03-02T01:00:00", dt)
	})

	t.Run("activity summary and step series", func(t *testing.T) {
		summary := export.Streams[StreamActivitySummary]
		require.NotNil(t, summary)
		require.Equal(t, 1, summary.Len())
		cal, _ := summary.Rows[0].Float("calories")
		assert.Equal(t, 2200.0, cal)
		steps, _ := summary.Rows[0].Float("step_total")
		assert.Equal(t, 8432.0, steps)

		series := export.Streams[StreamStepSeries]
		require.NotNil(t, series)
		require.Equal(t, 2, series.Len())
		v, _ := series.Rows[1].Float("steps")
		assert.Equal(t, 450.0, v)
	})

	t.Run("training timestamps shift by the timezone offset", func(t *testing.T) {
		summary := export.Streams[StreamTrainingSummary]
		require.NotNil(t, summary)
		require.Equal(t, 1, summary.Len())

		row := summary.Rows[0]
		start, _ := row.Get("start")
		assert.Equal(t, "2021-03-02T12:00:00", start)
		stop, _ := row.Get("stop")
		assert.Equal(t, "2021-03-02T13:00:00", stop)
		durSec, _ := row.Float("duration_sec")
		assert.Equal(t, 3600.0, durSec)
		cal, _ := row.Float("calories")
		assert.Equal(t, 540.0, cal)

		samples := export.Streams[StreamTrainingHRSamples]
		require.NotNil(t, samples)
		require.Equal(t, 2, samples.Len())
		dt, _ := samples.Rows[0].Get("dateTime")
		assert.Equal(t, "2021-03-02T12:00:00", dt)
	})
}

func TestScanArchivesNoMatches(t *testing.T) {
	_, _, err := ScanArchives(Options{Dir: t.TempDir(), Logger: zap.NewNop()})
	assert.ErrorContains(t, err, "no archives matching")
}

func TestScanArchivesBrokenArchiveContinues(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "polar-user-data-export_good.zip", map[string]string{
		"account-data.json":        accountJSON,
		"activity-2021-03-02.json": activityJSON,
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polar-user-data-export_bad.zip"), []byte("not a zip"), 0o644))

	exports, failures, err := ScanArchives(Options{Dir: dir, Window: testWindow(t), Workers: 2, Logger: zap.NewNop()})
	require.NoError(t, err)
	require.Len(t, exports, 1)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Archive, "polar-user-data-export_bad.zip")
}

func TestMergeByUser(t *testing.T) {
	a := newUserExport("jane.12345@example.com", "a.zip")
	ta := table.New("username", "v")
	ta.Append(table.Row{"username": "jane.12345@example.com", "v": "1"})
	a.Streams[StreamActivitySummary] = ta

	b := newUserExport("jane.12345@example.com", "b.zip")
	tb := table.New("username", "v")
	tb.Append(table.Row{"username": "jane.12345@example.com", "v": "2"})
	b.Streams[StreamActivitySummary] = tb

	c := newUserExport("mike.67890@example.com", "c.zip")

	merged := MergeByUser([]*UserExport{a, b, c})
	require.Len(t, merged, 2)
	assert.Equal(t, []string{"a.zip", "b.zip"}, merged[0].Archives)
	assert.Equal(t, 2, merged[0].Streams[StreamActivitySummary].Len())
	assert.Equal(t, "mike.67890@example.com", merged[1].Username)
}

func TestClassifyMemberPrefixOrder(t *testing.T) {
	kind, ok := classifyMember("data/sleep_wake_2021.json")
	require.True(t, ok)
	assert.Equal(t, memberSleepWake, kind)

	kind, ok = classifyMember("nightly_recovery_blob_1.json")
	require.True(t, ok)
	assert.Equal(t, memberRecoveryBlob, kind)

	kind, ok = classifyMember("nightly_recovery_1.json")
	require.True(t, ok)
	assert.Equal(t, memberRecovery, kind)

	kind, ok = classifyMember("training-session-2021.fit")
	require.True(t, ok)
	assert.Equal(t, memberTrainingFIT, kind)

	_, ok = classifyMember("readme.txt")
	assert.False(t, ok)
}

func TestNightDateWindow(t *testing.T) {
	w := table.Window{
		Start: table.Date{Year: 2021, Month: time.January, Day: 1},
		End:   table.Date{Year: 2021, Month: time.December, Day: 31},
	}
	_, keep := nightDate("2021-06-15", w, zap.NewNop())
	assert.True(t, keep)
	_, keep = nightDate("2022-01-01", w, zap.NewNop())
	assert.False(t, keep)
	_, keep = nightDate("garbage", w, zap.NewNop())
	assert.False(t, keep)
}
