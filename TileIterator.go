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
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// DefaultTileSize 默认瓦片边长（像素）
const DefaultTileSize = 256

// Tile 窗口内的一个矩形块，X/Y 相对于窗口左上角
type Tile struct {
	Index  int
	X      int
	Y      int
	Width  int
	Height int
}

func (t Tile) String() string {
	return fmt.Sprintf("#%d [%d,%d %dx%d]", t.Index, t.X, t.Y, t.Width, t.Height)
}

// PixelCount 瓦片像素数
func (t Tile) PixelCount() int { return t.Width * t.Height }

// PartitionWindow 按行优先把窗口切分为互不重叠的瓦片，边缘瓦片较小且不填充
func PartitionWindow(window RasterWindow, tileSize int) ([]Tile, error) {
	if tileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", tileSize)
	}
	if window.Width <= 0 || window.Height <= 0 {
		return nil, &EmptyWindowError{Requested: window.Rect(), Width: window.Width, Height: window.Height}
	}
	cols := (window.Width + tileSize - 1) / tileSize
	rows := (window.Height + tileSize - 1) / tileSize
	tiles := make([]Tile, 0, cols*rows)
	for y := 0; y < window.Height; y += tileSize {
		for x := 0; x < window.Width; x += tileSize {
			tiles = append(tiles, Tile{
				Index:  len(tiles),
				X:      x,
				Y:      y,
				Width:  min(tileSize, window.Width-x),
				Height: min(tileSize, window.Height-y),
			})
		}
	}
	return tiles, nil
}

// TileReader 按瓦片读取特征矩阵
type TileReader interface {
	ReadTile(tile Tile) (*mat.Dense, ValidityMask, error)
}

// TilePredictor 只对有效像素预测
type TilePredictor interface {
	Predict(features *mat.Dense, mask ValidityMask) ([]int, error)
}

// TileWriter 写出一个瓦片的分类结果（行优先，长度为瓦片像素数）
type TileWriter interface {
	WriteTile(tile Tile, values []float64) error
}

// TileStats 一次运行的统计
type TileStats struct {
	Tiles          int
	ValidPixels    int
	InvalidPixels  int
	ProcessingTime time.Duration
}

// TileIterator 逐瓦片执行 读取 -> 预测 -> 回填 -> 写出
type TileIterator struct {
	TileSize   int
	Processors int // 1 为顺序执行
	NoData     float64
	Metrics    *Metrics

	tiles   atomic.Int64
	valid   atomic.Int64
	invalid atomic.Int64
}

// NewTileIterator 创建瓦片迭代器
func NewTileIterator(tileSize, processors int, nodata float64) *TileIterator {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	if processors == 0 {
		processors = 1
	}
	return &TileIterator{TileSize: tileSize, Processors: processors, NoData: nodata}
}

// Run 处理窗口内的所有瓦片。任一瓦片失败即停止其余瓦片并返回 TileIOError；
// ctx 取消时在瓦片之间中止并返回 ctx.Err()
func (it *TileIterator) Run(ctx context.Context, window RasterWindow, reader TileReader, predictor TilePredictor, writer TileWriter) (TileStats, error) {
	start := time.Now()
	it.tiles.Store(0)
	it.valid.Store(0)
	it.invalid.Store(0)

	tiles, err := PartitionWindow(window, it.TileSize)
	if err != nil {
		return TileStats{}, err
	}
	workers, err := ResolveProcessors(it.Processors)
	if err != nil {
		return TileStats{}, err
	}
	log().Debugf("processing %d tiles of %d px over %s with %d worker(s)", len(tiles), it.TileSize, window, workers)

	if workers == 1 {
		err = it.runSequential(ctx, window, tiles, reader, predictor, writer)
	} else {
		err = it.runParallel(ctx, window, tiles, workers, reader, predictor, writer)
	}
	return it.stats(time.Since(start)), err
}

func (it *TileIterator) stats(d time.Duration) TileStats {
	return TileStats{
		Tiles:          int(it.tiles.Load()),
		ValidPixels:    int(it.valid.Load()),
		InvalidPixels:  int(it.invalid.Load()),
		ProcessingTime: d,
	}
}

func (it *TileIterator) runSequential(ctx context.Context, window RasterWindow, tiles []Tile, reader TileReader, predictor TilePredictor, writer TileWriter) error {
	for _, tile := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := it.processTile(window, tile, reader, predictor, writer); err != nil {
			return err
		}
	}
	return nil
}

func (it *TileIterator) runParallel(ctx context.Context, window RasterWindow, tiles []Tile, workers int, reader TileReader, predictor TilePredictor, writer TileWriter) error {
	pool, err := NewTileWorkerPool(workers)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, tile := range tiles {
		if err := pool.Acquire(gctx); err != nil {
			break
		}
		tile := tile
		g.Go(func() error {
			defer pool.Release()
			if err := gctx.Err(); err != nil {
				return err
			}
			return it.processTile(window, tile, reader, predictor, writer)
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return ctx.Err()
}

func (it *TileIterator) processTile(window RasterWindow, tile Tile, reader TileReader, predictor TilePredictor, writer TileWriter) error {
	start := time.Now()
	tileErr := func(op string, err error) error {
		return &TileIOError{Tile: tile, Window: window, Op: op, Err: err}
	}

	features, mask, err := reader.ReadTile(tile)
	if err != nil {
		return tileErr("read", err)
	}
	if len(mask) != tile.PixelCount() {
		return tileErr("read", fmt.Errorf("got %d mask entries for %d pixels", len(mask), tile.PixelCount()))
	}

	valid := mask.Count()
	var labels []int
	if valid > 0 {
		labels, err = predictor.Predict(features, mask)
		if err != nil {
			return tileErr("predict", err)
		}
		if len(labels) != valid {
			return tileErr("predict", fmt.Errorf("got %d labels for %d valid pixels", len(labels), valid))
		}
		for _, l := range labels {
			if float64(l) == it.NoData {
				return tileErr("predict", fmt.Errorf("predicted class %d equals the nodata value", l))
			}
		}
	}

	out := scatter(labels, mask, it.NoData)
	if err := writer.WriteTile(tile, out); err != nil {
		return tileErr("write", err)
	}

	invalid := len(mask) - valid
	it.tiles.Add(1)
	it.valid.Add(int64(valid))
	it.invalid.Add(int64(invalid))
	d := time.Since(start)
	it.Metrics.observeTile(d, valid, invalid)
	log().Debugf("tile %s: %d valid, %d nodata, %v", tile, valid, invalid, d)
	return nil
}

// scatter 将有效像素的标签按顺序放回瓦片，无效像素填 nodata
func scatter(labels []int, mask ValidityMask, nodata float64) []float64 {
	out := make([]float64, len(mask))
	j := 0
	for i, ok := range mask {
		if ok {
			out[i] = float64(labels[j])
			j++
		} else {
			out[i] = nodata
		}
	}
	return out
}
