// Surfclass/tiff_writer.go
package Surfclass

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/google/uuid"
)

// OutputOptions 分类结果栅格参数
type OutputOptions struct {
	DataType  string  // GDAL 数据类型名，默认 Byte
	NoData    float64 // 默认0
	BlockSize int     // GTiff 块大小，默认256
}

func (o *OutputOptions) setDefaults() {
	if o.DataType == "" {
		o.DataType = "Byte"
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 256
	}
}

// ParseDataType 解析 GDAL 数据类型名（不区分大小写）
func ParseDataType(name string) (godal.DataType, error) {
	switch strings.ToLower(name) {
	case "byte", "uint8":
		return godal.Byte, nil
	case "uint16":
		return godal.UInt16, nil
	case "int16":
		return godal.Int16, nil
	case "uint32":
		return godal.UInt32, nil
	case "int32":
		return godal.Int32, nil
	case "float32":
		return godal.Float32, nil
	case "float64":
		return godal.Float64, nil
	}
	return godal.Unknown, fmt.Errorf("unsupported output data type %q", name)
}

// dataTypeRange 整型数据类型可表示的取值范围
func dataTypeRange(dt godal.DataType) (float64, float64, bool) {
	switch dt {
	case godal.Byte:
		return 0, math.MaxUint8, true
	case godal.UInt16:
		return 0, math.MaxUint16, true
	case godal.Int16:
		return math.MinInt16, math.MaxInt16, true
	case godal.UInt32:
		return 0, math.MaxUint32, true
	case godal.Int32:
		return math.MinInt32, math.MaxInt32, true
	}
	return 0, 0, false
}

// CheckValueFits 检查值能否无损写入该数据类型
func CheckValueFits(dataType string, v float64) error {
	dt, err := ParseDataType(dataType)
	if err != nil {
		return err
	}
	lo, hi, integer := dataTypeRange(dt)
	if !integer {
		return nil
	}
	if math.IsNaN(v) || v != math.Trunc(v) || v < lo || v > hi {
		return fmt.Errorf("value %g cannot be stored as %s", v, dt)
	}
	return nil
}

// OutputRasterWriter 单波段分类结果写入器。
// 先写隐藏的 .partial 文件，Finalize 后才重命名为最终文件
type OutputRasterWriter struct {
	path        string
	partialPath string
	window      RasterWindow
	opts        OutputOptions
	dataset     *godal.Dataset
	band        godal.Band
	lo, hi      float64
	integer     bool
	mu          sync.Mutex
	closed      bool
	finalized   bool
}

// CreateOutputRaster 创建与窗口同尺寸的 GeoTIFF，写入窗口地理变换、投影与 NoData
func CreateOutputRaster(path string, window RasterWindow, opts OutputOptions) (*OutputRasterWriter, error) {
	opts.setDefaults()
	if window.Width <= 0 || window.Height <= 0 {
		return nil, errors.New("invalid dimensions")
	}
	dt, err := ParseDataType(opts.DataType)
	if err != nil {
		return nil, err
	}
	if err := CheckValueFits(opts.DataType, opts.NoData); err != nil {
		return nil, fmt.Errorf("invalid nodata: %w", err)
	}

	InitializeGDAL()

	dir := filepath.Dir(path)
	partial := filepath.Join(dir, fmt.Sprintf(".%s.%s.partial", filepath.Base(path), uuid.New().String()))

	ds, err := godal.Create(godal.GTiff, partial, 1, dt, window.Width, window.Height,
		godal.CreationOption(
			"TILED=YES",
			"COMPRESS=LZW",
			fmt.Sprintf("BLOCKXSIZE=%d", opts.BlockSize),
			fmt.Sprintf("BLOCKYSIZE=%d", opts.BlockSize),
		))
	if err != nil {
		return nil, fmt.Errorf("failed to create output raster %s: %w", partial, err)
	}

	w := &OutputRasterWriter{
		path:        path,
		partialPath: partial,
		window:      window,
		opts:        opts,
		dataset:     ds,
		band:        ds.Bands()[0],
	}
	w.lo, w.hi, w.integer = dataTypeRange(dt)

	fail := func(err error) (*OutputRasterWriter, error) {
		w.Abort()
		return nil, err
	}
	if err := ds.SetGeoTransform(window.GeoTransform); err != nil {
		return fail(fmt.Errorf("failed to set geotransform: %w", err))
	}
	if window.Projection != "" {
		if err := ds.SetProjection(window.Projection); err != nil {
			return fail(fmt.Errorf("failed to set projection: %w", err))
		}
	}
	if err := w.band.SetNoData(opts.NoData); err != nil {
		return fail(fmt.Errorf("failed to set nodata: %w", err))
	}
	return w, nil
}

// Path 最终输出路径
func (w *OutputRasterWriter) Path() string { return w.path }

// PartialPath 写入过程中的临时路径
func (w *OutputRasterWriter) PartialPath() string { return w.partialPath }

// WriteTile 写入瓦片到窗口内的对应位置
func (w *OutputRasterWriter) WriteTile(tile Tile, values []float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("writer is closed")
	}
	if len(values) != tile.PixelCount() {
		return fmt.Errorf("buffer size mismatch: expected %d, got %d", tile.PixelCount(), len(values))
	}
	if tile.X < 0 || tile.Y < 0 || tile.X+tile.Width > w.window.Width || tile.Y+tile.Height > w.window.Height {
		return fmt.Errorf("tile %s outside output %dx%d", tile, w.window.Width, w.window.Height)
	}
	// GDAL 会把越界值截断到类型范围内
	if w.integer {
		for i, v := range values {
			if math.IsNaN(v) || v != math.Trunc(v) || v < w.lo || v > w.hi {
				return fmt.Errorf("value %g at pixel %d of tile %s cannot be stored as %s", v, i, tile, w.opts.DataType)
			}
		}
	}
	if err := w.band.Write(tile.X, tile.Y, values, tile.Width, tile.Height); err != nil {
		return fmt.Errorf("failed to write tile %s: %w", tile, err)
	}
	return nil
}

func (w *OutputRasterWriter) close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.dataset.Close()
}

// Finalize 刷新并关闭数据集，然后重命名为最终文件
func (w *OutputRasterWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return nil
	}
	if w.closed {
		return errors.New("writer was aborted")
	}
	if err := w.close(); err != nil {
		os.Remove(w.partialPath)
		return fmt.Errorf("failed to flush output raster: %w", err)
	}
	if err := os.Rename(w.partialPath, w.path); err != nil {
		os.Remove(w.partialPath)
		return fmt.Errorf("failed to move output raster into place: %w", err)
	}
	w.finalized = true
	return nil
}

// Abort 关闭并删除临时文件。Finalize 之后调用无效
func (w *OutputRasterWriter) Abort() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return
	}
	if err := w.close(); err != nil {
		log().Debugf("closing aborted output %s: %v", w.partialPath, err)
	}
	if err := os.Remove(w.partialPath); err != nil && !os.IsNotExist(err) {
		log().Warnf("failed to remove partial output %s: %v", w.partialPath, err)
	}
}
