package extract

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wearlab/polar-pipeline/table"
)

// DefaultPattern matches the export archives produced for one user.
const DefaultPattern = "polar-user-data-export*"

// Options configures an archive scan. Workers bounds the number of archives
// decoded concurrently; zero means sequential.
type Options struct {
	Dir     string
	Pattern string
	Window  table.Window
	Workers int
	Logger  *zap.Logger
}

// ArchiveFailure records one archive that could not be processed. The batch
// continues; the failure is persisted downstream so "no data" can be told
// apart from "processing crashed".
type ArchiveFailure struct {
	Archive string
	Err     string
}

// memberKind tags one recognized archive member type. Each kind routes to one
// pure parser; adding a stream type is a closed addition here.
type memberKind int

const (
	memberSleepWake memberKind = iota
	memberSleepScore
	memberSleepResult
	memberRecoveryBlob
	memberRecovery
	memberActivity
	memberActivityHR
	memberTrainingJSON
	memberTrainingFIT
)

// classifyMember maps an archive member name to its kind. Prefix order
// matters: sleep_wake before sleep_score, nightly_recovery_blob before
// nightly_recovery.
func classifyMember(name string) (memberKind, bool) {
	base := path.Base(name)
	switch {
	case strings.HasPrefix(base, "sleep_wake") && strings.HasSuffix(base, ".json"):
		return memberSleepWake, true
	case strings.HasPrefix(base, "sleep_score") && strings.HasSuffix(base, ".json"):
		return memberSleepScore, true
	case strings.HasPrefix(base, "sleep_result") && strings.HasSuffix(base, ".json"):
		return memberSleepResult, true
	case strings.HasPrefix(base, "nightly_recovery_blob") && strings.HasSuffix(base, ".json"):
		return memberRecoveryBlob, true
	case strings.HasPrefix(base, "nightly_recovery") && strings.HasSuffix(base, ".json"):
		return memberRecovery, true
	case strings.HasPrefix(base, "activity-") && strings.HasSuffix(base, ".json"):
		return memberActivity, true
	case strings.HasPrefix(base, "247ohr_") && strings.HasSuffix(base, ".json"):
		return memberActivityHR, true
	case strings.HasPrefix(base, "training-session") && strings.HasSuffix(base, ".json"):
		return memberTrainingJSON, true
	case strings.HasPrefix(base, "training-session") && strings.HasSuffix(base, ".fit"):
		return memberTrainingFIT, true
	}
	return 0, false
}

// ScanArchives processes every archive matching the pattern. A broken archive
// fails on its own; the rest of the batch proceeds. No matching archives at
// all is a run-level error.
func ScanArchives(opts Options) ([]*UserExport, []ArchiveFailure, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}

	matches, err := filepath.Glob(filepath.Join(opts.Dir, pattern))
	if err != nil {
		return nil, nil, fmt.Errorf("glob archives: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil, fmt.Errorf("no archives matching %q found in %s", pattern, opts.Dir)
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	// Archives are independent; decode them concurrently and keep the glob
	// order in the result.
	slots := make([]*UserExport, len(matches))
	failSlots := make([]*ArchiveFailure, len(matches))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, archive := range matches {
		i, archive := i, archive
		g.Go(func() error {
			export, err := ProcessArchive(archive, opts.Window, log)
			if err != nil {
				log.Warn("archive failed, continuing batch",
					zap.String("archive", archive), zap.Error(err))
				failSlots[i] = &ArchiveFailure{Archive: archive, Err: err.Error()}
				return nil
			}
			slots[i] = export
			return nil
		})
	}
	_ = g.Wait()

	exports := make([]*UserExport, 0, len(matches))
	var failures []ArchiveFailure
	for i := range matches {
		if slots[i] != nil {
			exports = append(exports, slots[i])
		}
		if failSlots[i] != nil {
			failures = append(failures, *failSlots[i])
		}
	}
	return exports, failures, nil
}

// ProcessArchive extracts every recognized member of one export archive.
func ProcessArchive(archivePath string, w table.Window, log *zap.Logger) (*UserExport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	username, err := readUsername(&zr.Reader)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", archivePath, err)
	}

	export := newUserExport(username, archivePath)
	for _, member := range zr.File {
		kind, ok := classifyMember(member.Name)
		if !ok {
			continue
		}
		data, err := readMember(member)
		if err != nil {
			log.Warn("skipping unreadable member",
				zap.String("archive", archivePath), zap.String("member", member.Name), zap.Error(err))
			continue
		}
		streams, err := parseMember(kind, data, username, w, log)
		if err != nil {
			log.Warn("skipping unparsable member",
				zap.String("archive", archivePath), zap.String("member", member.Name), zap.Error(err))
			continue
		}
		export.merge(streams)
	}
	return export, nil
}

// parseMember routes one member payload to its flattener.
func parseMember(kind memberKind, data []byte, username string, w table.Window, log *zap.Logger) (map[StreamKind]*table.Table, error) {
	switch kind {
	case memberSleepWake:
		nights, err := decodeArray(data)
		if err != nil {
			return nil, err
		}
		return map[StreamKind]*table.Table{
			StreamSleepWakeSamples: parseSleepWake(nights, username, w, log),
		}, nil
	case memberSleepScore:
		nights, err := decodeArray(data)
		if err != nil {
			return nil, err
		}
		return map[StreamKind]*table.Table{
			StreamSleepScores: parseSleepScores(nights, username, w, log),
		}, nil
	case memberSleepResult:
		nights, err := decodeArray(data)
		if err != nil {
			return nil, err
		}
		result, hypnogram := parseSleepResults(nights, username, w, log)
		return map[StreamKind]*table.Table{
			StreamSleepResult: result,
			StreamHypnogram:   hypnogram,
		}, nil
	case memberRecoveryBlob:
		nights, err := decodeArray(data)
		if err != nil {
			return nil, err
		}
		hrv, breathing := parseRecoveryBlobs(nights, username, w, log)
		return map[StreamKind]*table.Table{
			StreamRecoveryHRV:       hrv,
			StreamRecoveryBreathing: breathing,
		}, nil
	case memberRecovery:
		nights, err := decodeArray(data)
		if err != nil {
			return nil, err
		}
		return map[StreamKind]*table.Table{
			StreamRecoverySummary: parseNightlyRecovery(nights, username, w, log),
		}, nil
	case memberActivity:
		day, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		summary, steps := parseActivityDay(day, username, w, log)
		return map[StreamKind]*table.Table{
			StreamActivitySummary: summary,
			StreamStepSeries:      steps,
		}, nil
	case memberActivityHR:
		doc, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		return map[StreamKind]*table.Table{
			StreamActivityHR: parseActivityHR(doc, username, w, log),
		}, nil
	case memberTrainingJSON:
		doc, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		summary, samples := parseTrainingSessions(doc, username, w, log)
		return map[StreamKind]*table.Table{
			StreamTrainingSummary:   summary,
			StreamTrainingHRSamples: samples,
		}, nil
	case memberTrainingFIT:
		summary, samples, err := parseTrainingFIT(data, username, w, log)
		if err != nil {
			return nil, err
		}
		return map[StreamKind]*table.Table{
			StreamTrainingSummary:   summary,
			StreamTrainingHRSamples: samples,
		}, nil
	}
	return nil, fmt.Errorf("unhandled member kind %d", kind)
}

func readUsername(zr *zip.Reader) (string, error) {
	for _, member := range zr.File {
		base := path.Base(member.Name)
		if !strings.HasPrefix(base, "account-data") || !strings.HasSuffix(base, ".json") {
			continue
		}
		data, err := readMember(member)
		if err != nil {
			return "", fmt.Errorf("read account data: %w", err)
		}
		var account struct {
			Username string `json:"username"`
		}
		if err := json.Unmarshal(data, &account); err != nil {
			return "", fmt.Errorf("decode account data: %w", err)
		}
		if account.Username == "" {
			return "", fmt.Errorf("account data has no username")
		}
		return account.Username, nil
	}
	return "", fmt.Errorf("no account-data member found")
}

func readMember(member *zip.File) ([]byte, error) {
	rc, err := member.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func decodeArray(data []byte) ([]any, error) {
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode json array: %w", err)
	}
	return out, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode json object: %w", err)
	}
	return out, nil
}

// nightDate parses a record's night date and applies the extraction window.
// keep=false either means the date is outside the window or it did not parse;
// unparsable dates are logged and the whole record is skipped.
func nightDate(raw string, w table.Window, log *zap.Logger) (table.Date, bool) {
	d, err := table.ParseDate(raw)
	if err != nil {
		log.Warn("could not parse night date, skipping record", zap.String("night", raw))
		return table.Date{}, false
	}
	return d, w.Contains(d)
}
