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
	"strings"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// ValidityMask 每个像素一个布尔值，true 表示所有特征均有定义
type ValidityMask []bool

// Count 有效像素数
func (m ValidityMask) Count() int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

// FeatureStackReader 按特征顺序读取对齐的单波段栅格，输出瓦片特征矩阵
type FeatureStackReader struct {
	spec     FeatureSpec
	datasets []*RasterDataset
	bands    []BandInfo
	window   *RasterWindow

	mu sync.Mutex
}

// OpenFeatureStack 打开特征布局中的所有栅格，并校验地理变换与投影完全一致。
// 以第一个文件为参考
func OpenFeatureStack(spec FeatureSpec) (*FeatureStackReader, error) {
	if len(spec) == 0 {
		return nil, fmt.Errorf("feature list is empty")
	}
	r := &FeatureStackReader{
		spec:     spec,
		datasets: make([]*RasterDataset, 0, len(spec)),
		bands:    make([]BandInfo, 0, len(spec)),
	}
	for i, layer := range spec {
		ds, err := OpenRasterDataset(layer.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("feature %d: %w", i+1, err)
		}
		r.datasets = append(r.datasets, ds)

		info, err := ds.GetBandInfo(layer.Band)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("feature %d: %w", i+1, err)
		}
		if !info.HasNoData {
			log().Debugf("feature %d (%s) declares no nodata value, all pixels treated as valid", i+1, layer.Path)
		}
		r.bands = append(r.bands, *info)

		if i > 0 {
			if err := checkAlignment(r.datasets[0], ds); err != nil {
				r.Close()
				return nil, err
			}
		}
	}
	return r, nil
}

// NewFeatureStackReader 打开特征栅格并绑定到指定窗口
func NewFeatureStackReader(spec FeatureSpec, window RasterWindow) (*FeatureStackReader, error) {
	r, err := OpenFeatureStack(spec)
	if err != nil {
		return nil, err
	}
	if err := r.UseWindow(window); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func checkAlignment(ref, ds *RasterDataset) error {
	if ref.GeoTransform() != ds.GeoTransform() {
		return &MisalignedRasterError{
			Reference: ref.Path(),
			Offending: ds.Path(),
			Attribute: "geotransform",
			Expected:  fmt.Sprint([6]float64(ref.GeoTransform())),
			Actual:    fmt.Sprint([6]float64(ds.GeoTransform())),
		}
	}
	if strings.TrimSpace(ref.Projection()) != strings.TrimSpace(ds.Projection()) {
		return &MisalignedRasterError{
			Reference: ref.Path(),
			Offending: ds.Path(),
			Attribute: "crs",
			Expected:  abbreviate(ref.Projection()),
			Actual:    abbreviate(ds.Projection()),
		}
	}
	return nil
}

func abbreviate(s string) string {
	const maxLen = 60
	if s == "" {
		return "<none>"
	}
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// Reference 参考栅格（第一个特征）信息
func (r *FeatureStackReader) Reference() DatasetInfo {
	return r.datasets[0].GetInfo()
}

// FeatureCount 特征数
func (r *FeatureStackReader) FeatureCount() int { return len(r.spec) }

// Bands 各特征的波段信息
func (r *FeatureStackReader) Bands() []BandInfo { return r.bands }

// ComputeWindow 以参考栅格计算边界框对应的窗口，并绑定到读取器
func (r *FeatureStackReader) ComputeWindow(bbox BoundingBox) (RasterWindow, *BoundsClampedWarning, error) {
	ref := r.datasets[0]
	window, warning, err := ComputeWindow(bbox, ref.GeoTransform(), ref.GetWidth(), ref.GetHeight())
	if err != nil {
		return RasterWindow{}, nil, err
	}
	window.Projection = ref.Projection()
	if err := r.UseWindow(window); err != nil {
		return RasterWindow{}, nil, err
	}
	return window, warning, nil
}

// UseWindow 校验所有栅格都覆盖窗口后绑定窗口
func (r *FeatureStackReader) UseWindow(window RasterWindow) error {
	if window.Width <= 0 || window.Height <= 0 {
		return &EmptyWindowError{Requested: window.Rect()}
	}
	rect := window.Rect()
	for _, ds := range r.datasets {
		if rect.X0 < 0 || rect.Y0 < 0 || rect.X1 > ds.GetWidth() || rect.Y1 > ds.GetHeight() {
			return &MisalignedRasterError{
				Reference: r.datasets[0].Path(),
				Offending: ds.Path(),
				Attribute: "extent",
				Expected:  fmt.Sprintf("at least %s", rect),
				Actual:    fmt.Sprintf("%dx%d", ds.GetWidth(), ds.GetHeight()),
			}
		}
	}
	if window.Projection == "" {
		window.Projection = r.datasets[0].Projection()
	}
	r.window = &window
	return nil
}

// Window 已绑定的窗口
func (r *FeatureStackReader) Window() (RasterWindow, bool) {
	if r.window == nil {
		return RasterWindow{}, false
	}
	return *r.window, true
}

// ReadTile 读取瓦片的特征矩阵（像素行优先 × 特征）及有效性掩膜。
// 任一特征为 NoData 的像素无效
func (r *FeatureStackReader) ReadTile(tile Tile) (*mat.Dense, ValidityMask, error) {
	if r.window == nil {
		return nil, nil, fmt.Errorf("reader has no window")
	}
	if tile.Width <= 0 || tile.Height <= 0 ||
		tile.X < 0 || tile.Y < 0 || tile.X+tile.Width > r.window.Width || tile.Y+tile.Height > r.window.Height {
		return nil, nil, fmt.Errorf("tile %s outside %s", tile, r.window)
	}

	n := tile.Width * tile.Height
	k := len(r.spec)
	data := make([]float64, n*k)
	buf := make([]float64, n)
	mask := make(ValidityMask, n)
	for i := range mask {
		mask[i] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	x := r.window.XOff + tile.X
	y := r.window.YOff + tile.Y
	for j, ds := range r.datasets {
		if err := ds.ReadBandDataRect(r.spec[j].Band, x, y, tile.Width, tile.Height, buf); err != nil {
			return nil, nil, err
		}
		band := r.bands[j]
		for i, v := range buf {
			data[i*k+j] = v
			if band.IsNoData(v) {
				mask[i] = false
			}
		}
	}
	return mat.NewDense(n, k, data), mask, nil
}

// Close 释放所有文件句柄
func (r *FeatureStackReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, ds := range r.datasets {
		if err := ds.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
