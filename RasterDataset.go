// RasterDataset.go
package Surfclass

import (
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"
)

var gdalOnce sync.Once

// InitializeGDAL 注册 GDAL 驱动（只执行一次）
func InitializeGDAL() {
	gdalOnce.Do(func() {
		godal.RegisterAll()
	})
}

// BandInfo 波段信息
type BandInfo struct {
	BandIndex   int
	DataType    string
	NoDataValue float64
	HasNoData   bool
}

// IsNoData 判断像素值是否为 NoData。NaN 的 NoData 匹配 NaN 像素。
// Float32 波段按 float32 精度比较，像素读入 float64 后与双精度 NoData 不相等
func (b BandInfo) IsNoData(v float64) bool {
	if !b.HasNoData {
		return false
	}
	if math.IsNaN(b.NoDataValue) {
		return math.IsNaN(v)
	}
	if b.DataType == "Float32" {
		return float32(v) == float32(b.NoDataValue)
	}
	return v == b.NoDataValue
}

// RasterDataset 只读栅格数据集
type RasterDataset struct {
	path         string
	dataset      *godal.Dataset
	width        int
	height       int
	bandCount    int
	geoTransform GeoTransform
	projection   string
}

// DatasetInfo 数据集信息
type DatasetInfo struct {
	Path         string
	Width        int
	Height       int
	BandCount    int
	GeoTransform GeoTransform
	Projection   string
}

// OpenRasterDataset 以只读方式打开栅格
func OpenRasterDataset(path string) (*RasterDataset, error) {
	InitializeGDAL()

	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to open raster %s: %w", path, err)
	}

	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("raster %s has no geotransform: %w", path, err)
	}

	return &RasterDataset{
		path:         path,
		dataset:      ds,
		width:        st.SizeX,
		height:       st.SizeY,
		bandCount:    st.NBands,
		geoTransform: GeoTransform(gt),
		projection:   ds.Projection(),
	}, nil
}

// Close 关闭数据集，可重复调用
func (rd *RasterDataset) Close() error {
	if rd.dataset == nil {
		return nil
	}
	err := rd.dataset.Close()
	rd.dataset = nil
	if err != nil {
		return fmt.Errorf("failed to close raster %s: %w", rd.path, err)
	}
	return nil
}

func (rd *RasterDataset) Path() string              { return rd.path }
func (rd *RasterDataset) GetWidth() int             { return rd.width }
func (rd *RasterDataset) GetHeight() int            { return rd.height }
func (rd *RasterDataset) GetBandCount() int         { return rd.bandCount }
func (rd *RasterDataset) GeoTransform() GeoTransform { return rd.geoTransform }
func (rd *RasterDataset) Projection() string        { return rd.projection }

// GetInfo 获取数据集信息
func (rd *RasterDataset) GetInfo() DatasetInfo {
	return DatasetInfo{
		Path:         rd.path,
		Width:        rd.width,
		Height:       rd.height,
		BandCount:    rd.bandCount,
		GeoTransform: rd.geoTransform,
		Projection:   rd.projection,
	}
}

func (rd *RasterDataset) band(bandIndex int) (godal.Band, error) {
	if rd.dataset == nil {
		return godal.Band{}, fmt.Errorf("dataset %s is closed", rd.path)
	}
	if bandIndex < 1 || bandIndex > rd.bandCount {
		return godal.Band{}, fmt.Errorf("invalid band index %d for %s (%d bands)", bandIndex, rd.path, rd.bandCount)
	}
	return rd.dataset.Bands()[bandIndex-1], nil
}

// GetBandInfo 获取指定波段信息
func (rd *RasterDataset) GetBandInfo(bandIndex int) (*BandInfo, error) {
	band, err := rd.band(bandIndex)
	if err != nil {
		return nil, err
	}
	nodata, ok := band.NoData()
	return &BandInfo{
		BandIndex:   bandIndex,
		DataType:    band.Structure().DataType.String(),
		NoDataValue: nodata,
		HasNoData:   ok,
	}, nil
}

// ReadBandDataRect 读取波段矩形区域数据到 buffer（行优先，长度 width*height）
func (rd *RasterDataset) ReadBandDataRect(bandIndex, x, y, width, height int, buffer []float64) error {
	if x < 0 || y < 0 || x+width > rd.width || y+height > rd.height {
		return fmt.Errorf("rectangle (%d, %d, %d, %d) out of bounds for %s", x, y, width, height, rd.path)
	}
	if len(buffer) != width*height {
		return fmt.Errorf("buffer size mismatch: expected %d, got %d", width*height, len(buffer))
	}
	band, err := rd.band(bandIndex)
	if err != nil {
		return err
	}
	if err := band.Read(x, y, buffer, width, height); err != nil {
		return fmt.Errorf("failed to read band %d of %s: %w", bandIndex, rd.path, err)
	}
	return nil
}
