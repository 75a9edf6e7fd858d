package filter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/extract"
	"github.com/wearlab/polar-pipeline/table"
)

// Filter walks a directory of extracted stream CSVs, applies the temporal
// validity floor, aggregates each stream, and writes the results under
// OutputDir mirroring the input layout. The input may be flat or contain one
// subfolder per user.
type Filter struct {
	InputDir  string
	OutputDir string
	Overwrite bool
	Policy    Policy

	log *zap.Logger
}

// New validates the directory pair and prepares the output tree.
func New(inputDir, outputDir string, overwrite bool, policy Policy, log *zap.Logger) (*Filter, error) {
	info, err := os.Stat(inputDir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", inputDir)
	}
	if sameDir(inputDir, outputDir) {
		return nil, fmt.Errorf("input and output directory must differ: %s", inputDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Filter{
		InputDir:  inputDir,
		OutputDir: outputDir,
		Overwrite: overwrite,
		Policy:    policy,
		log:       log,
	}, nil
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// streamFilePattern matches exactly the per-stream CSV filenames the
// extractor writes; anything else in the tree is ignored.
var streamFilePattern = compileStreamPattern()

func compileStreamPattern() *regexp.Regexp {
	names := make([]string, len(extract.KnownStreams))
	for i, kind := range extract.KnownStreams {
		names[i] = regexp.QuoteMeta(string(kind))
	}
	return regexp.MustCompile(`^(` + strings.Join(names, "|") + `)\.csv$`)
}

// Run processes every recognized stream file under InputDir. It fails when
// the walk finds no stream files at all; individual file failures are logged
// and skipped so one bad CSV cannot sink a batch.
func (f *Filter) Run() error {
	entries, err := os.ReadDir(f.InputDir)
	if err != nil {
		return fmt.Errorf("read input directory: %w", err)
	}

	processed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			subEntries, err := os.ReadDir(filepath.Join(f.InputDir, entry.Name()))
			if err != nil {
				f.log.Warn("could not read user folder, skipping", zap.String("folder", entry.Name()), zap.Error(err))
				continue
			}
			for _, sub := range subEntries {
				if sub.IsDir() {
					continue
				}
				if f.processEntry(entry.Name(), sub.Name()) {
					processed++
				} else {
					f.log.Warn("unrecognized file skipped", zap.String("file", filepath.Join(entry.Name(), sub.Name())))
				}
			}
			continue
		}
		if f.processEntry("", entry.Name()) {
			processed++
		} else {
			f.log.Warn("unrecognized file skipped", zap.String("file", entry.Name()))
		}
	}

	if processed == 0 {
		return fmt.Errorf("no stream files found under %s", f.InputDir)
	}
	f.log.Info("filter run complete", zap.Int("files", processed))
	return nil
}

// processEntry handles one candidate file and reports whether it was a
// recognized stream file (regardless of per-file success).
func (f *Filter) processEntry(relDir, name string) bool {
	m := streamFilePattern.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	kind := extract.StreamKind(m[1])

	inPath := filepath.Join(f.InputDir, relDir, name)
	outPath := filepath.Join(f.OutputDir, relDir, name)
	if !f.Overwrite {
		if _, err := os.Stat(outPath); err == nil {
			f.log.Info("output exists, skipping", zap.String("path", outPath))
			return true
		}
	}

	t, err := table.ReadCSV(inPath)
	if err != nil {
		f.log.Warn("could not read stream file, skipping", zap.String("path", inPath), zap.Error(err))
		return true
	}

	if dateCol, ok := ResolveDateColumn(t); ok {
		t = FilterByDate(t, dateCol)
	}
	t = f.aggregate(kind, t)

	if relDir != "" {
		if err := os.MkdirAll(filepath.Join(f.OutputDir, relDir), 0o755); err != nil {
			f.log.Warn("could not create output folder", zap.String("folder", relDir), zap.Error(err))
			return true
		}
	}
	if err := t.WriteCSV(outPath); err != nil {
		f.log.Warn("could not write stream file", zap.String("path", outPath), zap.Error(err))
		return true
	}
	f.log.Debug("stream processed",
		zap.String("stream", string(kind)),
		zap.String("user", relDir),
		zap.Int("rows", t.Len()))
	return true
}

// aggregate routes a validated table to its stream aggregation. Streams
// without numeric reductions pass through unchanged.
func (f *Filter) aggregate(kind extract.StreamKind, t *table.Table) *table.Table {
	switch kind {
	case extract.StreamActivityHR:
		return f.ActivityHRTable(t)
	case extract.StreamActivitySummary:
		return f.ActivitySummaryTable(t)
	case extract.StreamStepSeries:
		return f.StepSeriesTable(t)
	case extract.StreamTrainingHRSamples:
		return f.TrainingHRSamplesTable(t)
	case extract.StreamTrainingSummary:
		return f.TrainingSummaryTable(t)
	case extract.StreamRecoveryBreathing:
		return f.BreathingRateTable(t)
	case extract.StreamRecoveryHRV:
		return f.HRVTable(t)
	default:
		return t
	}
}

// AggregateStream applies validation and aggregation to an in-memory table,
// for callers that hold extractor output directly instead of files on disk.
func (f *Filter) AggregateStream(kind extract.StreamKind, t *table.Table) *table.Table {
	if dateCol, ok := ResolveDateColumn(t); ok {
		t = FilterByDate(t, dateCol)
	}
	return f.aggregate(kind, t)
}
