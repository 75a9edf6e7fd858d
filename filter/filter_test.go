package filter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wearlab/polar-pipeline/table"
)

func writeStepSeries(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	tbl := table.New("date", "steps")
	row := table.Row{"date": "2021-03-01"}
	row.SetFloat("steps", 250)
	tbl.Append(row)
	old := table.Row{"date": "2018-01-01"}
	old.SetFloat("steps", 999)
	tbl.Append(old)
	require.NoError(t, tbl.WriteCSV(filepath.Join(dir, "step_series.csv")))
}

func TestFilterRunPerUserFolders(t *testing.T) {
	root := t.TempDir()
	inDir := filepath.Join(root, "parsed")
	outDir := filepath.Join(root, "filtered")
	writeStepSeries(t, filepath.Join(inDir, "12345"))
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "12345", "notes.csv"), []byte("a,b\n1,2\n"), 0o644))

	f, err := New(inDir, outDir, false, DefaultPolicy(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, f.Run())

	got, err := table.ReadCSV(filepath.Join(outDir, "12345", "step_series.csv"))
	require.NoError(t, err)
	require.Equal(t, 1, got.Len(), "pre-2020 row filtered out")
	sum, _ := got.Rows[0].Float("step_count_sum_daily")
	assert.Equal(t, 250.0, sum)

	_, err = os.Stat(filepath.Join(outDir, "12345", "notes.csv"))
	assert.True(t, os.IsNotExist(err), "unrecognized files are not copied")
}

func TestFilterRunFlatLayout(t *testing.T) {
	root := t.TempDir()
	inDir := filepath.Join(root, "parsed")
	outDir := filepath.Join(root, "filtered")
	writeStepSeries(t, inDir)

	f, err := New(inDir, outDir, false, DefaultPolicy(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, f.Run())

	_, err = os.Stat(filepath.Join(outDir, "step_series.csv"))
	assert.NoError(t, err)
}

func TestFilterRunSkipsExistingWithoutOverwrite(t *testing.T) {
	root := t.TempDir()
	inDir := filepath.Join(root, "parsed")
	outDir := filepath.Join(root, "filtered")
	writeStepSeries(t, inDir)

	f, err := New(inDir, outDir, false, DefaultPolicy(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, f.Run())

	marker := []byte("sentinel\n")
	outPath := filepath.Join(outDir, "step_series.csv")
	require.NoError(t, os.WriteFile(outPath, marker, 0o644))

	require.NoError(t, f.Run())
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, marker, data, "existing output kept without --overwrite")

	f.Overwrite = true
	require.NoError(t, f.Run())
	data, err = os.ReadFile(outPath)
	require.NoError(t, err)
	assert.NotEqual(t, marker, data)
}

func TestFilterRunNoStreamFiles(t *testing.T) {
	root := t.TempDir()
	inDir := filepath.Join(root, "empty")
	require.NoError(t, os.MkdirAll(inDir, 0o755))

	f, err := New(inDir, filepath.Join(root, "out"), false, DefaultPolicy(), zap.NewNop())
	require.NoError(t, err)
	assert.ErrorContains(t, f.Run(), "no stream files")
}

func TestNewRejectsSameDir(t *testing.T) {
	dir := t.TempDir()
	_, err := New(dir, dir, false, DefaultPolicy(), zap.NewNop())
	assert.ErrorContains(t, err, "must differ")
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bounds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hrv_max: 150\nbreathing_rate_max: 40\n"), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 150.0, p.HRVMax)
	assert.Equal(t, 40.0, p.BreathingRateMax)
	assert.Equal(t, 0.0, p.HRVMin, "unset keys keep defaults")
	assert.Equal(t, 50.0, DefaultPolicy().BreathingRateMax)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
