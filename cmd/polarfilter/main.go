package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/filter"
)

func main() {
	var (
		inputDir   = flag.String("input", "", "Directory of parsed stream CSVs (flat or one folder per user)")
		outputDir  = flag.String("output", "", "Output directory")
		policyPath = flag.String("policy", "", "Optional YAML file overriding the sample validity bounds")
		overwrite  = flag.Bool("overwrite", false, "Overwrite existing output files")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --input parsed/ --output filtered/ [--policy bounds.yaml] [--overwrite]\n", filepath.Base(os.Args[0]))
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

	policy := filter.DefaultPolicy()
	if *policyPath != "" {
		if policy, err = filter.LoadPolicy(*policyPath); err != nil {
			fmt.Fprintf(os.Stderr, "polarfilter failed: %v\n", err)
			os.Exit(1)
		}
	}

	f, err := filter.New(*inputDir, *outputDir, *overwrite, policy, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "polarfilter failed: %v\n", err)
		os.Exit(1)
	}
	if err := f.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "polarfilter failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("polarfilter complete\n")
	fmt.Printf("filtered streams: %s\n", *outputDir)
}
