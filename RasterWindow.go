/*
Copyright (C) 2025 [GrainArc]

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package Surfclass

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// pixelEpsilon 像素坐标取整容差，避免恰好落在像素边上的坐标因浮点误差多扩一个像素
const pixelEpsilon = 1e-9

// BoundingBox 地理边界框（栅格原生坐标系单位）
type BoundingBox struct {
	bound orb.Bound
}

// NewBoundingBox 创建并校验边界框
func NewBoundingBox(xmin, ymin, xmax, ymax float64) (BoundingBox, error) {
	for _, v := range []float64{xmin, ymin, xmax, ymax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return BoundingBox{}, &InvalidBoundingBoxError{xmin, ymin, xmax, ymax, "coordinates must be finite"}
		}
	}
	if xmin >= xmax {
		return BoundingBox{}, &InvalidBoundingBoxError{xmin, ymin, xmax, ymax, "xmin must be less than xmax"}
	}
	if ymin >= ymax {
		return BoundingBox{}, &InvalidBoundingBoxError{xmin, ymin, xmax, ymax, "ymin must be less than ymax"}
	}
	return BoundingBox{bound: orb.Bound{Min: orb.Point{xmin, ymin}, Max: orb.Point{xmax, ymax}}}, nil
}

// BoundingBoxFromSlice 从 [xmin, ymin, xmax, ymax] 创建边界框
func BoundingBoxFromSlice(v []float64) (BoundingBox, error) {
	if len(v) != 4 {
		return BoundingBox{}, &InvalidBoundingBoxError{Reason: fmt.Sprintf("expected 4 values, got %d", len(v))}
	}
	return NewBoundingBox(v[0], v[1], v[2], v[3])
}

func (b BoundingBox) XMin() float64 { return b.bound.Min.X() }
func (b BoundingBox) YMin() float64 { return b.bound.Min.Y() }
func (b BoundingBox) XMax() float64 { return b.bound.Max.X() }
func (b BoundingBox) YMax() float64 { return b.bound.Max.Y() }

// Bound 返回 orb 边界
func (b BoundingBox) Bound() orb.Bound { return b.bound }

// IsZero 是否未初始化
func (b BoundingBox) IsZero() bool { return b.bound == orb.Bound{} }

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%g, %g, %g, %g]", b.XMin(), b.YMin(), b.XMax(), b.YMax())
}

// GeoTransform GDAL 仿射变换参数
//
//	Xgeo = gt[0] + px*gt[1] + py*gt[2]
//	Ygeo = gt[3] + px*gt[4] + py*gt[5]
type GeoTransform [6]float64

// Apply 像素坐标转地理坐标
func (gt GeoTransform) Apply(px, py float64) (x, y float64) {
	return gt[0] + px*gt[1] + py*gt[2], gt[3] + px*gt[4] + py*gt[5]
}

// Inverse 计算逆变换
func (gt GeoTransform) Inverse() (GeoTransform, error) {
	det := gt[1]*gt[5] - gt[2]*gt[4]
	if det == 0 || math.IsNaN(det) {
		return GeoTransform{}, fmt.Errorf("geotransform %v is not invertible", [6]float64(gt))
	}
	inv := 1 / det
	return GeoTransform{
		(gt[2]*gt[3] - gt[0]*gt[5]) * inv,
		gt[5] * inv,
		-gt[2] * inv,
		(-gt[1]*gt[3] + gt[0]*gt[4]) * inv,
		-gt[4] * inv,
		gt[1] * inv,
	}, nil
}

// Shift 将原点移动到像素 (xoff, yoff)
func (gt GeoTransform) Shift(xoff, yoff int) GeoTransform {
	out := gt
	out[0], out[3] = gt.Apply(float64(xoff), float64(yoff))
	return out
}

// PixelRect 半开像素矩形 [X0,X1) × [Y0,Y1)
type PixelRect struct {
	X0, Y0, X1, Y1 int
}

func (r PixelRect) Width() int  { return r.X1 - r.X0 }
func (r PixelRect) Height() int { return r.Y1 - r.Y0 }

// Area 像素数，空矩形为0
func (r PixelRect) Area() int {
	if r.Width() <= 0 || r.Height() <= 0 {
		return 0
	}
	return r.Width() * r.Height()
}

func (r PixelRect) String() string {
	return fmt.Sprintf("x[%d,%d) y[%d,%d)", r.X0, r.X1, r.Y0, r.Y1)
}

// RasterWindow 分类窗口：参考栅格中的像素矩形及其地理参考
type RasterWindow struct {
	XOff, YOff    int
	Width, Height int
	// GeoTransform 以窗口左上角为原点
	GeoTransform GeoTransform
	Projection   string
}

// Rect 窗口在参考栅格中的像素矩形
func (w RasterWindow) Rect() PixelRect {
	return PixelRect{w.XOff, w.YOff, w.XOff + w.Width, w.YOff + w.Height}
}

// PixelCount 窗口像素总数
func (w RasterWindow) PixelCount() int { return w.Width * w.Height }

// Bounds 窗口的地理范围
func (w RasterWindow) Bounds() orb.Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, c := range [][2]float64{{0, 0}, {float64(w.Width), 0}, {0, float64(w.Height)}, {float64(w.Width), float64(w.Height)}} {
		x, y := w.GeoTransform.Apply(c[0], c[1])
		b = b.Extend(orb.Point{x, y})
	}
	return b
}

func (w RasterWindow) String() string {
	return fmt.Sprintf("window %dx%d at (%d, %d)", w.Width, w.Height, w.XOff, w.YOff)
}

// ComputeWindow 根据边界框与参考栅格的仿射变换计算分类窗口。
// 最小角向下取整、最大角向上取整以完整覆盖边界框，随后裁剪到栅格范围内；
// 发生裁剪时返回非空的 BoundsClampedWarning。
func ComputeWindow(bbox BoundingBox, gt GeoTransform, rasterWidth, rasterHeight int) (RasterWindow, *BoundsClampedWarning, error) {
	if bbox.IsZero() {
		return RasterWindow{}, nil, &InvalidBoundingBoxError{Reason: "bounding box is not set"}
	}
	inv, err := gt.Inverse()
	if err != nil {
		return RasterWindow{}, nil, err
	}

	minPX, minPY := math.Inf(1), math.Inf(1)
	maxPX, maxPY := math.Inf(-1), math.Inf(-1)
	corners := [][2]float64{
		{bbox.XMin(), bbox.YMin()}, {bbox.XMax(), bbox.YMin()},
		{bbox.XMin(), bbox.YMax()}, {bbox.XMax(), bbox.YMax()},
	}
	for _, c := range corners {
		px, py := inv.Apply(c[0], c[1])
		minPX, maxPX = math.Min(minPX, px), math.Max(maxPX, px)
		minPY, maxPY = math.Min(minPY, py), math.Max(maxPY, py)
	}

	requested := PixelRect{
		X0: int(math.Floor(minPX + pixelEpsilon)),
		Y0: int(math.Floor(minPY + pixelEpsilon)),
		X1: int(math.Ceil(maxPX - pixelEpsilon)),
		Y1: int(math.Ceil(maxPY - pixelEpsilon)),
	}
	clamped := PixelRect{
		X0: clampInt(requested.X0, 0, rasterWidth),
		Y0: clampInt(requested.Y0, 0, rasterHeight),
		X1: clampInt(requested.X1, 0, rasterWidth),
		Y1: clampInt(requested.Y1, 0, rasterHeight),
	}
	if clamped.Width() <= 0 || clamped.Height() <= 0 {
		return RasterWindow{}, nil, &EmptyWindowError{Requested: requested, Width: rasterWidth, Height: rasterHeight}
	}

	var warning *BoundsClampedWarning
	if clamped != requested {
		warning = &BoundsClampedWarning{Requested: requested, Clamped: clamped}
	}

	return RasterWindow{
		XOff:         clamped.X0,
		YOff:         clamped.Y0,
		Width:        clamped.Width(),
		Height:       clamped.Height(),
		GeoTransform: gt.Shift(clamped.X0, clamped.Y0),
	}, warning, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
