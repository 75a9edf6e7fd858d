package fusion

import (
	"fmt"
	"path/filepath"

	"github.com/wearlab/polar-pipeline/table"
)

// Save formats accepted by WriteMaster.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatBoth    = "both"
	FormatNone    = "none"
)

// ValidFormat reports whether format names a supported save format.
func ValidFormat(format string) bool {
	switch format {
	case FormatCSV, FormatParquet, FormatBoth, FormatNone:
		return true
	}
	return false
}

// WriteMaster persists the fused table under dir in the requested format and
// returns the paths written. FormatNone writes nothing.
func WriteMaster(t *table.Table, dir, format string) ([]string, error) {
	if !ValidFormat(format) {
		return nil, fmt.Errorf("unknown save format %q", format)
	}
	var paths []string
	if format == FormatCSV || format == FormatBoth {
		path := filepath.Join(dir, MasterBasename+".csv")
		if err := t.WriteCSV(path); err != nil {
			return paths, fmt.Errorf("write master csv: %w", err)
		}
		paths = append(paths, path)
	}
	if format == FormatParquet || format == FormatBoth {
		path := filepath.Join(dir, MasterBasename+".parquet")
		if err := t.WriteParquet(path); err != nil {
			return paths, fmt.Errorf("write master parquet: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
