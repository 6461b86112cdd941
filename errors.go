package Surfclass

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyStarted Start 被重复调用
var ErrAlreadyStarted = errors.New("classification already started")

// InvalidBoundingBoxError 边界框不合法（xmin >= xmax 或 ymin >= ymax，或包含非有限值）
type InvalidBoundingBoxError struct {
	XMin, YMin, XMax, YMax float64
	Reason                 string
}

func (e *InvalidBoundingBoxError) Error() string {
	return fmt.Sprintf("invalid bounding box (%g, %g, %g, %g): %s",
		e.XMin, e.YMin, e.XMax, e.YMax, e.Reason)
}

// EmptyWindowError 裁剪后的窗口宽度或高度为0
type EmptyWindowError struct {
	Requested PixelRect
	Width     int
	Height    int
}

func (e *EmptyWindowError) Error() string {
	return fmt.Sprintf("bounding box does not intersect raster %dx%d (requested pixels %s)",
		e.Width, e.Height, e.Requested)
}

// MisalignedRasterError 特征栅格之间地理变换、投影或覆盖范围不一致
type MisalignedRasterError struct {
	Reference string
	Offending string
	Attribute string
	Expected  string
	Actual    string
}

func (e *MisalignedRasterError) Error() string {
	return fmt.Sprintf("raster %s is not aligned with %s: %s differs (expected %s, got %s)",
		e.Offending, e.Reference, e.Attribute, e.Expected, e.Actual)
}

// FeatureCountMismatchError 模型特征数与输入特征数不一致
type FeatureCountMismatchError struct {
	Expected int
	Actual   int
}

func (e *FeatureCountMismatchError) Error() string {
	return fmt.Sprintf("model expects %d features, got %d", e.Expected, e.Actual)
}

// FeatureSchemaMismatchError 特征名称与训练时的顺序不一致
type FeatureSchemaMismatchError struct {
	Position int
	Expected string
	Actual   string
}

func (e *FeatureSchemaMismatchError) Error() string {
	return fmt.Sprintf("feature %d: model was trained on %q, got %q", e.Position+1, e.Expected, e.Actual)
}

// TileIOError 单个瓦片处理失败。Tile 的偏移相对于窗口，Window 为窗口在源栅格中的位置
type TileIOError struct {
	Tile   Tile
	Window RasterWindow
	Op     string
	Err    error
}

// RasterOffset 瓦片左上角在源栅格中的像素坐标
func (e *TileIOError) RasterOffset() (int, int) {
	return e.Window.XOff + e.Tile.X, e.Window.YOff + e.Tile.Y
}

func (e *TileIOError) Error() string {
	x, y := e.RasterOffset()
	return fmt.Sprintf("tile #%d at raster pixel (%d, %d) size %dx%d (window offset (%d, %d)): %s failed: %v",
		e.Tile.Index, x, y, e.Tile.Width, e.Tile.Height, e.Tile.X, e.Tile.Y, e.Op, e.Err)
}

func (e *TileIOError) Unwrap() error { return e.Err }

// AlreadyStartedError 分类器状态不允许再次启动
type AlreadyStartedError struct {
	State State
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("%v (state: %s)", ErrAlreadyStarted, e.State)
}

func (e *AlreadyStartedError) Unwrap() error { return ErrAlreadyStarted }

// BoundsClampedWarning 请求的边界框超出栅格范围，窗口已被裁剪。
// 非致命，由调用方记录。
type BoundsClampedWarning struct {
	Requested PixelRect
	Clamped   PixelRect
}

func (w *BoundsClampedWarning) String() string {
	var sides []string
	if w.Clamped.X0 > w.Requested.X0 {
		sides = append(sides, fmt.Sprintf("left %d", w.Clamped.X0-w.Requested.X0))
	}
	if w.Clamped.Y0 > w.Requested.Y0 {
		sides = append(sides, fmt.Sprintf("top %d", w.Clamped.Y0-w.Requested.Y0))
	}
	if w.Clamped.X1 < w.Requested.X1 {
		sides = append(sides, fmt.Sprintf("right %d", w.Requested.X1-w.Clamped.X1))
	}
	if w.Clamped.Y1 < w.Requested.Y1 {
		sides = append(sides, fmt.Sprintf("bottom %d", w.Requested.Y1-w.Clamped.Y1))
	}
	return fmt.Sprintf("bounding box clamped to raster extent: requested %s, using %s (pixels cut: %s)",
		w.Requested, w.Clamped, strings.Join(sides, ", "))
}

// PixelsLost 被裁掉的像素数
func (w *BoundsClampedWarning) PixelsLost() int {
	return w.Requested.Area() - w.Clamped.Area()
}
