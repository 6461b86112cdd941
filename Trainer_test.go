package Surfclass

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func writeArchive(t *testing.T, path string, features *mat.Dense, classes []int) {
	t.Helper()
	n, _ := features.Dims()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	require.NoError(t, WriteTrainingData(path, &TrainingData{IDs: ids, Classes: classes, Features: features}))
}

func TestTrainingDataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.npz")
	x, y := blobs(12, 1)
	writeArchive(t, path, x, y)

	ids, classes, features, err := LoadTrainingData(path)
	require.NoError(t, err)
	assert.Len(t, ids, 12)
	assert.Equal(t, int64(1), ids[0])
	assert.Equal(t, y, classes)
	assert.True(t, mat.Equal(x, features))
}

// numpyArray 按 numpy.savez 的格式写出的数组
type numpyArray struct {
	name    string
	descr   string
	shape   []int
	fortran bool
	data    any
}

func writeNumpyArchive(t *testing.T, path string, arrays ...numpyArray) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, a := range arrays {
		dims := make([]string, len(a.shape))
		for i, d := range a.shape {
			dims[i] = fmt.Sprint(d)
		}
		shape := "(" + strings.Join(dims, ", ") + ")"
		if len(a.shape) == 1 {
			shape = fmt.Sprintf("(%d,)", a.shape[0])
		}
		order := "False"
		if a.fortran {
			order = "True"
		}
		header := fmt.Sprintf("{'descr': '%s', 'fortran_order': %s, 'shape': %s, }", a.descr, order, shape)
		pad := 64 - (10+len(header)+1)%64
		header += strings.Repeat(" ", pad%64) + "\n"

		w, err := zw.Create(a.name + ".npy")
		require.NoError(t, err)
		var buf bytes.Buffer
		buf.WriteString("\x93NUMPY\x01\x00")
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(len(header))))
		buf.WriteString(header)
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, a.data))
		_, err = w.Write(buf.Bytes())
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestReadTrainingDataNumpyTypes(t *testing.T) {
	dir := t.TempDir()

	f32 := filepath.Join(dir, "f32.npz")
	writeNumpyArchive(t, f32,
		numpyArray{name: "ids", descr: "<i8", shape: []int{3}, data: []int64{7, 8, 9}},
		numpyArray{name: "classes", descr: "<i4", shape: []int{3}, data: []int32{1, 2, 1}},
		numpyArray{name: "features", descr: "<f4", shape: []int{3, 2}, data: []float32{0.5, 10, 1.5, 20, 2.5, 30}},
	)
	td, err := ReadTrainingData(f32)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, td.IDs)
	assert.Equal(t, []int{1, 2, 1}, td.Classes)
	assert.True(t, mat.Equal(mat.NewDense(3, 2, []float64{0.5, 10, 1.5, 20, 2.5, 30}), td.Features))

	fortran := filepath.Join(dir, "fortran.npz")
	writeNumpyArchive(t, fortran,
		numpyArray{name: "ids", descr: "<i4", shape: []int{2}, data: []int32{1, 2}},
		numpyArray{name: "classes", descr: "|u1", shape: []int{2}, data: []uint8{3, 4}},
		numpyArray{name: "features", descr: "<f8", shape: []int{2, 3}, fortran: true, data: []float64{1, 4, 2, 5, 3, 6}},
	)
	td, err = ReadTrainingData(fortran)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, td.Classes)
	assert.True(t, mat.Equal(mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6}), td.Features))

	fractional := filepath.Join(dir, "fractional.npz")
	writeNumpyArchive(t, fractional,
		numpyArray{name: "ids", descr: "<i8", shape: []int{1}, data: []int64{1}},
		numpyArray{name: "classes", descr: "<f4", shape: []int{1}, data: []float32{1.5}},
		numpyArray{name: "features", descr: "<f4", shape: []int{1, 1}, data: []float32{0}},
	)
	_, err = ReadTrainingData(fractional)
	assert.ErrorContains(t, err, "not an integer")
}

func TestDescribeFeatures(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 10,
		2, 10,
		3, 10,
		4, 10,
	})
	stats := DescribeFeatures(x, []string{"a", "b"})
	require.Len(t, stats, 2)
	assert.Equal(t, "a", stats[0].Name)
	assert.Equal(t, 1.0, stats[0].Min)
	assert.Equal(t, 4.0, stats[0].Max)
	assert.InDelta(t, 2.5, stats[0].Mean, 1e-12)
	assert.InDelta(t, 5.0/3.0, stats[0].Variance, 1e-12)
	assert.Equal(t, 0.0, stats[1].Variance)

	lines := FormatFeatureStats(stats)
	assert.Len(t, lines, 3)
}

func TestTrainFromArchiveGeneric(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "generic.npz")
	x, y := blobs(120, 8)
	writeArchive(t, data, x, y)

	var out bytes.Buffer
	model := filepath.Join(dir, "generic.model")
	res, err := TrainFromArchive(context.Background(), TrainRequest{
		TrainingData: data,
		OutputFile:   model,
		Options:      TrainOptions{NumTrees: 10, Seed: 3},
		Metrics:      NewMetrics(),
		Stats:        &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Stats for feature data:")
	assert.Equal(t, 120, res.Summary.Samples)
	assert.Equal(t, map[int]int{3: 40, 7: 40, 9: 40}, res.Summary.ClassCounts)
	assert.Greater(t, res.Summary.TrainAccuracy, 0.9)

	loaded, err := LoadModel(model)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.FeatureCount())

	s, err := ReadModelSummary(SummaryPath(model))
	require.NoError(t, err)
	assert.Equal(t, "generic.model", s.Model)
	assert.Len(t, s.FeatureStats, 2)
}

func TestTrainFromArchivePresetFeatureCount(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "ndvi.npz")
	x, y := blobs(30, 8)
	writeArchive(t, data, x, y)

	_, err := TrainFromArchive(context.Background(), TrainRequest{
		TrainingData: data,
		OutputFile:   filepath.Join(dir, "ndvi.model"),
		Preset:       "randomforestndvi",
	})
	var mismatch *FeatureCountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 10, mismatch.Expected)
	assert.Equal(t, 2, mismatch.Actual)
}

func TestTrainFromArchivePresetNames(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "ndvi.npz")
	n := 60
	x := mat.NewDense(n, 10, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		y[i] = 1 + i%2
		for j := 0; j < 10; j++ {
			x.Set(i, j, float64(y[i]*10+j))
		}
	}
	writeArchive(t, data, x, y)

	res, err := TrainFromArchive(context.Background(), TrainRequest{
		TrainingData: data,
		OutputFile:   filepath.Join(dir, "ndvi.model"),
		Preset:       "randomforestndvi",
		Options:      TrainOptions{NumTrees: 3},
	})
	require.NoError(t, err)
	preset, _ := GetPreset("randomforestndvi")
	assert.Equal(t, preset.FeatureNames, res.Model.FeatureNames())
	assert.Equal(t, "randomforestndvi", res.Summary.Preset)
}
