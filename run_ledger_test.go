package Surfclass

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLedger(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenRunLedger(filepath.Join(dir, "db", "runs.sqlite"))
	require.NoError(t, err)
	defer ledger.Close()

	features := writeFeatureStack(t, filepath.Join(dir, "in"))
	ok := NewRandomForestClassifier("", features, []float64{721500, 6150500, 722500, 6151500}, filepath.Join(dir, "out"),
		WithModel(&stubModel{features: 4, threshold: 50}), WithLedger(ledger), WithPreset("testmodel1"))
	_, err = ok.Start(context.Background())
	require.NoError(t, err)

	bad := NewRandomForestClassifier("", features, []float64{0, 0, 1, 1}, filepath.Join(dir, "out2"),
		WithModel(&stubModel{features: 4}), WithLedger(ledger))
	_, err = bad.Start(context.Background())
	require.Error(t, err)

	run, err := ledger.Get(ok.RunID())
	require.NoError(t, err)
	assert.Equal(t, "done", run.State)
	assert.Equal(t, "testmodel1", run.Preset)
	assert.Equal(t, 4, run.FeatureCount)
	assert.Equal(t, 50, run.WindowWidth)
	assert.Equal(t, 50, run.WindowXOff)
	assert.Equal(t, 2500, run.ValidPixels+run.InvalidPixels)
	assert.Contains(t, run.Footprint, `"Polygon"`)
	assert.Contains(t, run.BBox, `"Polygon"`)
	assert.NotEmpty(t, run.Warning)
	assert.NotNil(t, run.FinishedAt)
	assert.Empty(t, run.Error)

	failed, err := ledger.Get(bad.RunID())
	require.NoError(t, err)
	assert.Equal(t, "failed", failed.State)
	assert.Contains(t, failed.Error, "does not intersect")

	runs, err := ledger.Recent(0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = ledger.Recent(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	assert.Error(t, ledger.Finish("no-such-run", StateDone, nil, nil))
}
