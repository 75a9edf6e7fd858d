package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/compare"
)

func main() {
	var (
		inputDir  = flag.String("input", "", "Directory containing the master table")
		outputDir = flag.String("output", "", "Output directory for the group files")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s --input out/ --output out/comparison/\n", filepath.Base(os.Args[0]))
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

	c, err := compare.New(*inputDir, *outputDir, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "polarcompare failed: %v\n", err)
		os.Exit(1)
	}
	if err := c.CompareGroups(); err != nil {
		fmt.Fprintf(os.Stderr, "polarcompare failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("polarcompare complete\n")
	fmt.Printf("group files: %s\n", *outputDir)
}
