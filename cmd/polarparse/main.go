package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/pipeline"
)

func main() {
	var (
		inputDir  = flag.String("input", "", "Directory containing the export archives")
		outputDir = flag.String("output", "", "Output directory")
		pattern   = flag.String("pattern", "", "Archive glob pattern (default polar-user-data-export*)")
		startDate = flag.String("start", "", "Inclusive start date YYYY-MM-DD")
		endDate   = flag.String("end", "", "Inclusive end date YYYY-MM-DD")
		workers   = flag.Int("workers", 4, "Concurrent archive decoders")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --input archives/ --output out/ [--start 2021-01-01] [--end 2021-12-31]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if strings.TrimSpace(*inputDir) == "" || strings.TrimSpace(*outputDir) == "" {
		flag.Usage()
		os.Exit(2)
	}

	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	result, err := pipeline.Parse(pipeline.Options{
		InputDir:  *inputDir,
		OutputDir: *outputDir,
		Pattern:   *pattern,
		StartDate: *startDate,
		EndDate:   *endDate,
		Workers:   *workers,
		Logger:    log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "polarparse failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("polarparse complete\n")
	fmt.Printf("users:          %d\n", result.Users)
	fmt.Printf("parsed streams: %s\n", result.ParsedDir)
	if n := len(result.ArchiveFailures) + len(result.UserFailures); n > 0 {
		fmt.Printf("failures:       %d (see processing_errors.csv)\n", n)
	}
}
