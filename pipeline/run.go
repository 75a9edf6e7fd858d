// Package pipeline chains extraction, temporal validation, aggregation,
// fusion, and comparison over a directory of wearable export archives.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/compare"
	"github.com/wearlab/polar-pipeline/extract"
	"github.com/wearlab/polar-pipeline/filter"
	"github.com/wearlab/polar-pipeline/fusion"
	"github.com/wearlab/polar-pipeline/table"
)

// userIDPattern extracts the per-user folder name from a username of the form
// "firstname.12345@example.com". Usernames without the numeric id cannot be
// mapped to a folder and the user is reported, not guessed.
var userIDPattern = regexp.MustCompile(`\.(\d+)@`)

// errorsFilename collects per-run failure diagnostics so "no output" can be
// told apart from "nothing to process".
const errorsFilename = "processing_errors.csv"

// Run executes the full pipeline and writes all artifacts under
// opts.OutputDir: per-user parsed streams, filtered aggregates, optionally
// the fused master table and the group comparison.
func Run(opts Options) (*Result, error) {
	log := loggerOrNop(opts.Logger)
	result, format, err := extractStage(opts, log)
	if err != nil {
		if result != nil {
			writeErrorReport(result, opts.OutputDir, log)
		}
		return result, err
	}

	f, err := filter.New(result.ParsedDir, result.FilteredDir, opts.Overwrite, opts.Policy, log)
	if err != nil {
		return result, err
	}
	if err := f.Run(); err != nil {
		return result, fmt.Errorf("filter stage: %w", err)
	}

	// Fusion needs every user's filtered tables on disk, so it only starts
	// once the filter stage has fully finished.
	if opts.Master && format != fusion.FormatNone {
		byStream, err := fusion.LoadUserTables(result.FilteredDir, log)
		if err != nil {
			return result, fmt.Errorf("fusion stage: %w", err)
		}
		master, err := fusion.Fuse(byStream, log)
		if err != nil {
			return result, fmt.Errorf("fusion stage: %w", err)
		}
		paths, err := fusion.WriteMaster(master, opts.OutputDir, format)
		if err != nil {
			return result, fmt.Errorf("fusion stage: %w", err)
		}
		result.MasterPaths = paths

		if opts.Compare {
			result.CompareDir = filepath.Join(opts.OutputDir, "comparison")
			c, err := compare.New(opts.OutputDir, result.CompareDir, log)
			if err != nil {
				return result, fmt.Errorf("compare stage: %w", err)
			}
			if err := c.CompareGroups(); err != nil {
				return result, fmt.Errorf("compare stage: %w", err)
			}
		}
	}

	writeErrorReport(result, opts.OutputDir, log)
	return result, nil
}

// Parse runs only the extraction stage: archives in, per-user parsed stream
// CSVs out.
func Parse(opts Options) (*Result, error) {
	log := loggerOrNop(opts.Logger)
	result, _, err := extractStage(opts, log)
	if result != nil {
		writeErrorReport(result, opts.OutputDir, log)
	}
	return result, err
}

func loggerOrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// extractStage validates the options, scans the archives, and persists each
// user's raw streams. It returns the normalized save format for the later
// stages.
func extractStage(opts Options, log *zap.Logger) (*Result, string, error) {
	if strings.TrimSpace(opts.InputDir) == "" {
		return nil, "", fmt.Errorf("input directory is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return nil, "", fmt.Errorf("output directory is required")
	}
	if samePath(opts.InputDir, opts.OutputDir) {
		return nil, "", fmt.Errorf("input and output directory must differ: %s", opts.InputDir)
	}
	format := strings.ToLower(strings.TrimSpace(opts.SaveFormat))
	if format == "" {
		format = fusion.FormatCSV
	}
	if !fusion.ValidFormat(format) {
		return nil, "", fmt.Errorf("unsupported save format %q (expected csv|parquet|both|none)", opts.SaveFormat)
	}
	window, err := parseWindow(opts.StartDate, opts.EndDate)
	if err != nil {
		return nil, "", err
	}

	result := &Result{
		ParsedDir:   filepath.Join(opts.OutputDir, "parsed"),
		FilteredDir: filepath.Join(opts.OutputDir, "filtered"),
	}
	if err := os.MkdirAll(result.ParsedDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create parsed directory: %w", err)
	}

	exports, archiveFailures, err := extract.ScanArchives(extract.Options{
		Dir:     opts.InputDir,
		Pattern: opts.Pattern,
		Window:  window,
		Workers: opts.Workers,
		Logger:  log,
	})
	if err != nil {
		return nil, "", err
	}
	result.ArchiveFailures = archiveFailures

	users := extract.MergeByUser(exports)
	for _, user := range users {
		if err := saveUserStreams(user, result.ParsedDir); err != nil {
			log.Warn("user could not be persisted", zap.String("user", user.Username), zap.Error(err))
			result.UserFailures = append(result.UserFailures, UserFailure{
				User: user.Username,
				Err:  err.Error(),
				Rows: streamRowCount(user),
			})
			continue
		}
		result.Users++
	}
	if result.Users == 0 {
		return result, format, fmt.Errorf("no user data could be extracted from %s", opts.InputDir)
	}
	log.Info("extraction complete",
		zap.Int("users", result.Users),
		zap.Int("archive_failures", len(archiveFailures)))
	return result, format, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// parseWindow validates the optional date bounds. A malformed bound is a
// fatal configuration error, not a skippable record problem.
func parseWindow(start, end string) (table.Window, error) {
	var w table.Window
	if start != "" {
		d, err := table.ParseDate(start)
		if err != nil {
			return w, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		w.Start = d
	}
	if end != "" {
		d, err := table.ParseDate(end)
		if err != nil {
			return w, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		w.End = d
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return w, fmt.Errorf("end date %s precedes start date %s", end, start)
	}
	return w, nil
}

// saveUserStreams writes every extracted stream of one user into the user's
// folder under parsedDir, named by the numeric id from the username.
func saveUserStreams(user *extract.UserExport, parsedDir string) error {
	m := userIDPattern.FindStringSubmatch(user.Username)
	if m == nil {
		return fmt.Errorf("username %q does not encode a numeric user id", user.Username)
	}
	userDir := filepath.Join(parsedDir, m[1])
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return fmt.Errorf("create user folder: %w", err)
	}
	for _, kind := range extract.KnownStreams {
		t, ok := user.Streams[kind]
		if !ok || t.Empty() {
			continue
		}
		path := filepath.Join(userDir, string(kind)+".csv")
		if err := t.WriteCSV(path); err != nil {
			return fmt.Errorf("write %s: %w", string(kind), err)
		}
	}
	return nil
}

func streamRowCount(user *extract.UserExport) int {
	rows := 0
	for _, t := range user.Streams {
		rows += t.Len()
	}
	return rows
}

// writeErrorReport persists the run's failure records. No failures means no
// file.
func writeErrorReport(result *Result, outputDir string, log *zap.Logger) {
	if len(result.ArchiveFailures) == 0 && len(result.UserFailures) == 0 {
		return
	}
	t := table.New("kind", "subject", "error", "rows")
	for _, f := range result.ArchiveFailures {
		t.Append(table.Row{"kind": "archive", "subject": f.Archive, "error": f.Err})
	}
	for _, f := range result.UserFailures {
		row := table.Row{"kind": "user", "subject": f.User, "error": f.Err}
		row.SetFloat("rows", float64(f.Rows))
		t.Append(row)
	}
	path := filepath.Join(outputDir, errorsFilename)
	if err := t.WriteCSV(path); err != nil {
		log.Error("could not write error report", zap.String("path", path), zap.Error(err))
	}
}
