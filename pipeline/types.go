package pipeline

import (
	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/extract"
	"github.com/wearlab/polar-pipeline/filter"
)

// Options configures a full pipeline run.
type Options struct {
	InputDir   string
	OutputDir  string
	Pattern    string // archive glob, defaults to extract.DefaultPattern
	StartDate  string // inclusive, YYYY-MM-DD, empty means open
	EndDate    string // inclusive, YYYY-MM-DD, empty means open
	SaveFormat string // csv|parquet|both|none, defaults to csv
	Policy     filter.Policy
	Master     bool // fuse the filtered tables into the master daily table
	Compare    bool // run the group comparison on the master output
	Overwrite  bool
	Workers    int
	Logger     *zap.Logger
}

// UserFailure records one user whose data could not be fully persisted. Rows
// counts what had been extracted for the user when the failure hit.
type UserFailure struct {
	User string
	Err  string
	Rows int
}

// Result reports what a run produced.
type Result struct {
	Users           int
	ParsedDir       string
	FilteredDir     string
	CompareDir      string
	MasterPaths     []string
	ArchiveFailures []extract.ArchiveFailure
	UserFailures    []UserFailure
}
