package Surfclass

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var wholeRaster = []float64{721000, 6150000, 722000, 6151000}

func TestOutputFileName(t *testing.T) {
	assert.Equal(t, "classification.tif", OutputFileName("", ""))
	assert.Equal(t, "1km_6150_721_classification_v2.tif", OutputFileName("1km_6150_721_", "_v2"))
}

func classify(t *testing.T, features []string, outDir string, opts ...ClassifierOption) *ClassificationResult {
	t.Helper()
	opts = append([]ClassifierOption{WithModel(&stubModel{features: 4, threshold: 50})}, opts...)
	c := NewRandomForestClassifier("", features, wholeRaster, outDir, opts...)
	res, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, c.State())
	return res
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestClassifierEndToEnd(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))
	outDir := filepath.Join(dir, "out")

	res := classify(t, features, outDir, WithPrefix("test_"), WithTileSize(32))
	assert.Equal(t, filepath.Join(outDir, "test_classification.tif"), res.OutputPath)
	assert.Nil(t, res.Warning)
	assert.Equal(t, 16, res.Tiles)
	assert.Equal(t, 100*100-200, res.ValidPixels)
	assert.Equal(t, 200, res.InvalidPixels)
	assert.Equal(t, []string{"test_classification.tif"}, listDir(t, outDir), "no partial files left behind")

	values, rd, band := readTestRaster(t, res.OutputPath)
	assert.Equal(t, testGeoTransform, rd.GeoTransform())
	_, ref, _ := readTestRaster(t, features[0])
	assert.Equal(t, ref.Projection(), rd.Projection())
	require.True(t, band.HasNoData)
	assert.Equal(t, 0.0, band.NoDataValue)

	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			v := values[y*testWidth+x]
			switch {
			case !expectedValid(x, y):
				require.Equal(t, 0.0, v, "pixel (%d, %d) is nodata", x, y)
			case x < 50:
				require.Equal(t, 1.0, v, "pixel (%d, %d)", x, y)
			default:
				require.Equal(t, 2.0, v, "pixel (%d, %d)", x, y)
			}
		}
	}
}

func TestClassifierTileSizeIndependent(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))

	small := classify(t, features, filepath.Join(dir, "small"), WithTileSize(32))
	whole := classify(t, features, filepath.Join(dir, "whole"), WithTileSize(100))
	parallel := classify(t, features, filepath.Join(dir, "parallel"), WithTileSize(7), WithProcessors(-1))

	a, _, _ := readTestRaster(t, small.OutputPath)
	b, _, _ := readTestRaster(t, whole.OutputPath)
	c, _, _ := readTestRaster(t, parallel.OutputPath)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
}

func TestClassifierRepeatable(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))

	first := classify(t, features, filepath.Join(dir, "a"), WithTileSize(64))
	second := classify(t, features, filepath.Join(dir, "b"), WithTileSize(64))

	x, err := os.ReadFile(first.OutputPath)
	require.NoError(t, err)
	y, err := os.ReadFile(second.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestClassifierPartialBoundingBox(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))

	c := NewRandomForestClassifier("", features, []float64{721500, 6150500, 722500, 6151500}, filepath.Join(dir, "out"),
		WithModel(&stubModel{features: 4, threshold: 50}))
	res, err := c.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, PixelRect{50, 0, 100, 50}, res.Window.Rect())

	_, rd, _ := readTestRaster(t, res.OutputPath)
	assert.Equal(t, 50, rd.GetWidth())
	assert.Equal(t, 50, rd.GetHeight())
	assert.Equal(t, GeoTransform{721500, 10, 0, 6151000, 0, -10}, rd.GeoTransform())
}

func TestClassifierValidationFailuresCreateNothing(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))
	model := &stubModel{features: 4, threshold: 50}

	for name, tc := range map[string]struct {
		features []string
		bbox     []float64
		opts     []ClassifierOption
		check    func(t *testing.T, err error)
	}{
		"outside": {
			features: features,
			bbox:     []float64{800000, 6150000, 801000, 6151000},
			check: func(t *testing.T, err error) {
				var empty *EmptyWindowError
				assert.ErrorAs(t, err, &empty)
			},
		},
		"inverted bbox": {
			features: features,
			bbox:     []float64{722000, 6150000, 721000, 6151000},
			check: func(t *testing.T, err error) {
				var bbox *InvalidBoundingBoxError
				assert.ErrorAs(t, err, &bbox)
			},
		},
		"feature count": {
			features: features[:3],
			bbox:     wholeRaster,
			check: func(t *testing.T, err error) {
				var mismatch *FeatureCountMismatchError
				assert.ErrorAs(t, err, &mismatch)
			},
		},
		"preset count": {
			features: features,
			bbox:     wholeRaster,
			opts:     []ClassifierOption{WithPreset("randomforestndvi")},
			check: func(t *testing.T, err error) {
				var mismatch *FeatureCountMismatchError
				require.ErrorAs(t, err, &mismatch)
				assert.Equal(t, 10, mismatch.Expected)
			},
		},
		"class equals nodata": {
			features: features,
			bbox:     wholeRaster,
			opts:     []ClassifierOption{WithNoData(2)},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "nodata")
			},
		},
		"missing model": {
			features: features,
			bbox:     wholeRaster,
			opts:     []ClassifierOption{WithModel(nil)},
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "model")
			},
		},
	} {
		t.Run(name, func(t *testing.T) {
			outDir := filepath.Join(dir, strings.ReplaceAll(name, " ", "_"))
			opts := append([]ClassifierOption{WithModel(model)}, tc.opts...)
			c := NewRandomForestClassifier(filepath.Join(dir, "missing.model"), tc.features, tc.bbox, outDir, opts...)
			_, err := c.Start(context.Background())
			require.Error(t, err)
			tc.check(t, err)
			assert.Equal(t, StateFailed, c.State())
			_, statErr := os.Stat(outDir)
			assert.True(t, errors.Is(statErr, os.ErrNotExist), "output directory must not be created")
		})
	}
}

// constModel 不提供类别列表的模型，总是预测同一个标签
type constModel struct {
	features int
	label    int
}

func (m constModel) FeatureCount() int { return m.features }

func (m constModel) Predict(features mat.Matrix) ([]int, error) {
	rows, _ := features.Dims()
	out := make([]int, rows)
	for i := range out {
		out[i] = m.label
	}
	return out, nil
}

func TestClassifierRejectsUnlistedLabels(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))

	for name, tc := range map[string]struct {
		label int
		op    string
	}{
		"too large for byte": {label: 300, op: "write"},
		"negative for byte":  {label: -3, op: "write"},
		"equals nodata":      {label: 0, op: "predict"},
	} {
		t.Run(name, func(t *testing.T) {
			outDir := filepath.Join(dir, strings.ReplaceAll(name, " ", "_"))
			c := NewRandomForestClassifier("", features, wholeRaster, outDir,
				WithModel(constModel{features: 4, label: tc.label}), WithProcessors(2))
			_, err := c.Start(context.Background())
			var tileErr *TileIOError
			require.ErrorAs(t, err, &tileErr)
			assert.Equal(t, tc.op, tileErr.Op)
			assert.Equal(t, StateFailed, c.State())

			entries, err := os.ReadDir(outDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "partial output must be removed")
		})
	}
}

func TestClassifierAlreadyStarted(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))
	c := NewRandomForestClassifier("", features, wholeRaster, filepath.Join(dir, "out"),
		WithModel(&stubModel{features: 4, threshold: 50}))

	_, err := c.Start(context.Background())
	require.NoError(t, err)

	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	var started *AlreadyStartedError
	require.ErrorAs(t, err, &started)
	assert.Equal(t, StateDone, started.State)
}

func TestClassifierCancelled(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))
	outDir := filepath.Join(dir, "out")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewRandomForestClassifier("", features, wholeRaster, outDir,
		WithModel(&stubModel{features: 4, threshold: 50}), WithTileSize(16))
	_, err := c.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, c.State())
	assert.Empty(t, listDir(t, outDir), "partial output is removed")
}

func TestClassifierWithTrainedModel(t *testing.T) {
	dir := t.TempDir()
	features := writeFeatureStack(t, filepath.Join(dir, "in"))

	// 训练样本：特征0 小于 50 为类别 1，否则为类别 2
	model := filepath.Join(dir, "model.sav")
	td := filepath.Join(dir, "train.npz")
	x, y := stackSamples(200)
	writeArchive(t, td, x, y)
	_, err := TrainFromArchive(context.Background(), TrainRequest{
		TrainingData: td,
		OutputFile:   model,
		Options:      TrainOptions{NumTrees: 15, Seed: 11, Processors: 1},
	})
	require.NoError(t, err)

	c := NewRandomForestClassifier(model, features, wholeRaster, filepath.Join(dir, "out"), WithPostfix("_rf"))
	res, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "classification_rf.tif", filepath.Base(res.OutputPath))

	values, _, _ := readTestRaster(t, res.OutputPath)
	assert.Equal(t, 1.0, values[49*testWidth+20])
	assert.Equal(t, 2.0, values[60*testWidth+80])
	assert.Equal(t, 0.0, values[0])
}

// stackSamples 按 writeFeatureStack 的特征定义生成训练样本，x < 50 为类别1
func stackSamples(n int) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(5))
	features := mat.NewDense(n, 4, nil)
	classes := make([]int, n)
	for i := 0; i < n; i++ {
		x, y := rng.Intn(testWidth), 10+rng.Intn(testHeight-10)
		features.SetRow(i, []float64{float64(x), float64(y), float64(x + y), float64((x * y) % 7)})
		classes[i] = 1
		if x >= 50 {
			classes[i] = 2
		}
	}
	return features, classes
}
