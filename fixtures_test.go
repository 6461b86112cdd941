package Surfclass

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// 测试栅格：100x100，10m 像元，左上角 (721000, 6151000)
var testGeoTransform = GeoTransform{721000, 10, 0, 6151000, 0, -10}

const (
	testWidth  = 100
	testHeight = 100
)

func testWKT(t *testing.T, epsg int) string {
	t.Helper()
	InitializeGDAL()
	sr, err := godal.NewSpatialRefFromEPSG(epsg)
	require.NoError(t, err)
	defer sr.Close()
	wkt, err := sr.WKT()
	require.NoError(t, err)
	return wkt
}

func nodataValue(v float64) *float64 { return &v }

type testRaster struct {
	width, height int
	gt            GeoTransform
	wkt           string
	nodata        *float64
	dataType      godal.DataType // 默认 Float64
	fill          func(x, y int) float64
}

// writeTestRaster 写出单波段 GeoTIFF
func writeTestRaster(t *testing.T, path string, r testRaster) string {
	t.Helper()
	InitializeGDAL()
	if r.width == 0 {
		r.width, r.height = testWidth, testHeight
	}
	if r.gt == (GeoTransform{}) {
		r.gt = testGeoTransform
	}
	if r.dataType == godal.Unknown {
		r.dataType = godal.Float64
	}
	ds, err := godal.Create(godal.GTiff, path, 1, r.dataType, r.width, r.height)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform(r.gt))
	if r.wkt != "" {
		require.NoError(t, ds.SetProjection(r.wkt))
	}
	band := ds.Bands()[0]
	if r.nodata != nil {
		require.NoError(t, band.SetNoData(*r.nodata))
	}
	buf := make([]float64, r.width*r.height)
	for y := 0; y < r.height; y++ {
		for x := 0; x < r.width; x++ {
			if r.fill != nil {
				buf[y*r.width+x] = r.fill(x, y)
			}
		}
	}
	require.NoError(t, band.Write(0, 0, buf, r.width, r.height))
	require.NoError(t, ds.Close())
	return path
}

// readTestRaster 读取单波段栅格的全部像素
func readTestRaster(t *testing.T, path string) ([]float64, *RasterDataset, *BandInfo) {
	t.Helper()
	rd, err := OpenRasterDataset(path)
	require.NoError(t, err)
	t.Cleanup(func() { rd.Close() })
	info, err := rd.GetBandInfo(1)
	require.NoError(t, err)
	buf := make([]float64, rd.GetWidth()*rd.GetHeight())
	require.NoError(t, rd.ReadBandDataRect(1, 0, 0, rd.GetWidth(), rd.GetHeight(), buf))
	return buf, rd, info
}

// writeFeatureStack 写出四个对齐的特征栅格。特征0在左上角 10x10 像素为 NoData，
// 特征2在第 50 行为 NoData
func writeFeatureStack(t *testing.T, dir string) []string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	wkt := testWKT(t, 25832)
	fills := []func(x, y int) float64{
		func(x, y int) float64 {
			if x < 10 && y < 10 {
				return -9999
			}
			return float64(x)
		},
		func(x, y int) float64 { return float64(y) },
		func(x, y int) float64 {
			if y == 50 {
				return math.NaN()
			}
			return float64(x + y)
		},
		func(x, y int) float64 { return float64((x * y) % 7) },
	}
	nodata := []*float64{nodataValue(-9999), nil, nodataValue(math.NaN()), nil}
	paths := make([]string, len(fills))
	for i := range fills {
		paths[i] = writeTestRaster(t, filepath.Join(dir, "feature"+string(rune('1'+i))+".tif"), testRaster{
			wkt:    wkt,
			nodata: nodata[i],
			fill:   fills[i],
		})
	}
	return paths
}

// expectedValid writeFeatureStack 中像素 (x, y) 是否有效
func expectedValid(x, y int) bool {
	return !(x < 10 && y < 10) && y != 50
}

// stubModel 特征0 小于阈值为类别1，否则为类别2；记录收到的行数
type stubModel struct {
	features  int
	threshold float64
	names     []string

	mu   sync.Mutex
	rows []int
}

func (m *stubModel) FeatureCount() int      { return m.features }
func (m *stubModel) FeatureNames() []string { return m.names }
func (m *stubModel) Classes() []int         { return []int{1, 2} }

func (m *stubModel) Predict(features mat.Matrix) ([]int, error) {
	rows, _ := features.Dims()
	m.mu.Lock()
	m.rows = append(m.rows, rows)
	m.mu.Unlock()
	out := make([]int, rows)
	for i := range out {
		if features.At(i, 0) < m.threshold {
			out[i] = 1
		} else {
			out[i] = 2
		}
	}
	return out, nil
}
