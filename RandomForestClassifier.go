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
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State 分类器生命周期状态
type State int32

const (
	StateCreated State = iota
	StateValidated
	StateRunning
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateValidated:
		return "validated"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// OutputFileName 输出文件名：{prefix}classification{postfix}.tif
func OutputFileName(prefix, postfix string) string {
	return prefix + "classification" + postfix + ".tif"
}

// ClassificationResult 一次分类运行的结果
type ClassificationResult struct {
	RunID         string
	OutputPath    string
	Window        RasterWindow
	Warning       *BoundsClampedWarning
	Tiles         int
	ValidPixels   int
	InvalidPixels int
	Duration      time.Duration
}

type classifierConfig struct {
	prefix       string
	postfix      string
	tileSize     int
	processors   int
	output       OutputOptions
	preset       string
	featureNames []string
	ledger       *RunLedger
	metrics      *Metrics
	model        TrainedModel
	overwrite    bool
}

// ClassifierOption 分类器选项
type ClassifierOption func(*classifierConfig)

// WithPrefix 输出文件名前缀
func WithPrefix(prefix string) ClassifierOption {
	return func(c *classifierConfig) { c.prefix = prefix }
}

// WithPostfix 输出文件名后缀
func WithPostfix(postfix string) ClassifierOption {
	return func(c *classifierConfig) { c.postfix = postfix }
}

// WithTileSize 瓦片边长，默认256
func WithTileSize(n int) ClassifierOption {
	return func(c *classifierConfig) { c.tileSize = n }
}

// WithProcessors 并行数，默认1（顺序）。-1 全部CPU，-2 保留一个
func WithProcessors(n int) ClassifierOption {
	return func(c *classifierConfig) { c.processors = n }
}

// WithNoData 输出 NoData 值，默认0
func WithNoData(v float64) ClassifierOption {
	return func(c *classifierConfig) { c.output.NoData = v }
}

// WithDataType 输出数据类型，默认 Byte
func WithDataType(dt string) ClassifierOption {
	return func(c *classifierConfig) { c.output.DataType = dt }
}

// WithPreset 使用预设特征布局（校验特征数并提供特征名称）
func WithPreset(name string) ClassifierOption {
	return func(c *classifierConfig) { c.preset = name }
}

// WithFeatureNames 为通用特征布局指定特征名称
func WithFeatureNames(names ...string) ClassifierOption {
	return func(c *classifierConfig) { c.featureNames = names }
}

// WithLedger 记录运行到台账
func WithLedger(l *RunLedger) ClassifierOption {
	return func(c *classifierConfig) { c.ledger = l }
}

// WithMetrics 记录指标
func WithMetrics(m *Metrics) ClassifierOption {
	return func(c *classifierConfig) { c.metrics = m }
}

// WithModel 直接使用已加载的模型，不再从 modelPath 读取
func WithModel(m TrainedModel) ClassifierOption {
	return func(c *classifierConfig) { c.model = m }
}

// WithOverwrite 是否覆盖已存在的输出文件，默认覆盖
func WithOverwrite(overwrite bool) ClassifierOption {
	return func(c *classifierConfig) { c.overwrite = overwrite }
}

// RandomForestClassifier 在边界框范围内逐像素分类地表，生成分类栅格。
// 每个实例只能 Start 一次
type RandomForestClassifier struct {
	modelPath    string
	featurePaths []string
	bbox         []float64
	outDir       string
	cfg          classifierConfig

	started atomic.Bool
	state   atomic.Int32
	runID   string
}

// NewRandomForestClassifier 创建分类器，bbox 为 [xmin, ymin, xmax, ymax]。
// 参数在 Start 时校验
func NewRandomForestClassifier(modelPath string, featurePaths []string, bbox []float64, outDir string, opts ...ClassifierOption) *RandomForestClassifier {
	cfg := classifierConfig{
		tileSize:   DefaultTileSize,
		processors: 1,
		overwrite:  true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RandomForestClassifier{
		modelPath:    modelPath,
		featurePaths: append([]string(nil), featurePaths...),
		bbox:         append([]float64(nil), bbox...),
		outDir:       outDir,
		cfg:          cfg,
		runID:        uuid.New().String(),
	}
}

// State 当前状态
func (c *RandomForestClassifier) State() State { return State(c.state.Load()) }

// RunID 本次运行ID
func (c *RandomForestClassifier) RunID() string { return c.runID }

// OutputPath 最终输出路径
func (c *RandomForestClassifier) OutputPath() string {
	return filepath.Join(c.outDir, OutputFileName(c.cfg.prefix, c.cfg.postfix))
}

type validatedRun struct {
	reader  *FeatureStackReader
	adapter *ClassifierAdapter
	window  RasterWindow
	warning *BoundsClampedWarning
	spec    FeatureSpec
}

// Start 校验输入、逐瓦片分类并写出结果。
// 校验全部通过之前不会创建任何输出文件；失败或取消时删除未完成的输出
func (c *RandomForestClassifier) Start(ctx context.Context) (*ClassificationResult, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, &AlreadyStartedError{State: c.State()}
	}
	start := time.Now()
	c.beginLedger()

	v, err := c.validate()
	if err != nil {
		return nil, c.fail(nil, err)
	}
	defer v.reader.Close()
	c.state.Store(int32(StateValidated))

	result := &ClassificationResult{
		RunID:      c.runID,
		OutputPath: c.OutputPath(),
		Window:     v.window,
		Warning:    v.warning,
	}
	log().Infof("classifying %s (%d features) into %s", v.window, len(v.spec), result.OutputPath)

	if err := os.MkdirAll(c.outDir, 0755); err != nil {
		return nil, c.fail(result, fmt.Errorf("failed to create output directory: %w", err))
	}
	if !c.cfg.overwrite {
		if _, err := os.Stat(result.OutputPath); err == nil {
			return nil, c.fail(result, fmt.Errorf("output %s already exists", result.OutputPath))
		}
	}

	c.state.Store(int32(StateRunning))
	writer, err := CreateOutputRaster(result.OutputPath, v.window, c.cfg.output)
	if err != nil {
		return nil, c.fail(result, err)
	}

	it := NewTileIterator(c.cfg.tileSize, c.cfg.processors, c.cfg.output.NoData)
	it.Metrics = c.cfg.metrics
	stats, err := it.Run(ctx, v.window, v.reader, v.adapter, writer)
	result.Tiles = stats.Tiles
	result.ValidPixels = stats.ValidPixels
	result.InvalidPixels = stats.InvalidPixels
	if err != nil {
		writer.Abort()
		return nil, c.fail(result, err)
	}
	if err := writer.Finalize(); err != nil {
		return nil, c.fail(result, err)
	}

	result.Duration = time.Since(start)
	c.state.Store(int32(StateDone))
	c.cfg.metrics.observeRun(StateDone)
	c.finishLedger(StateDone, result, nil)
	log().Infof("classification done: %d tiles, %d classified pixels, %d nodata pixels in %v",
		result.Tiles, result.ValidPixels, result.InvalidPixels, result.Duration)
	return result, nil
}

func (c *RandomForestClassifier) validate() (*validatedRun, error) {
	bbox, err := BoundingBoxFromSlice(c.bbox)
	if err != nil {
		return nil, err
	}
	if c.cfg.tileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", c.cfg.tileSize)
	}
	if _, err := ResolveProcessors(c.cfg.processors); err != nil {
		return nil, err
	}
	if _, err := ParseDataType(c.cfg.output.DataType); c.cfg.output.DataType != "" && err != nil {
		return nil, err
	}

	model := c.cfg.model
	if model == nil {
		rf, err := LoadModel(c.modelPath)
		if err != nil {
			return nil, err
		}
		model = rf
	}

	var spec FeatureSpec
	if c.cfg.preset != "" {
		preset, ok := GetPreset(c.cfg.preset)
		if !ok {
			return nil, fmt.Errorf("unknown preset %q (available: %s)", c.cfg.preset, strings.Join(PresetNames(), ", "))
		}
		spec, err = preset.Spec(c.featurePaths)
	} else {
		spec, err = NewFeatureSpec(c.featurePaths, c.cfg.featureNames)
	}
	if err != nil {
		return nil, err
	}

	adapter, err := NewClassifierAdapter(model, spec)
	if err != nil {
		return nil, err
	}
	if err := c.checkClasses(model); err != nil {
		return nil, err
	}

	reader, err := OpenFeatureStack(spec)
	if err != nil {
		return nil, err
	}
	window, warning, err := reader.ComputeWindow(bbox)
	if err != nil {
		reader.Close()
		return nil, err
	}
	if warning != nil {
		log().Warn(warning.String())
	}
	return &validatedRun{reader: reader, adapter: adapter, window: window, warning: warning, spec: spec}, nil
}

// checkClasses 类别标签必须能写入输出数据类型，且不能与 NoData 相同
func (c *RandomForestClassifier) checkClasses(model TrainedModel) error {
	lister, ok := model.(ClassLister)
	if !ok {
		return nil
	}
	dt := c.cfg.output.DataType
	if dt == "" {
		dt = "Byte"
	}
	for _, cls := range lister.Classes() {
		if float64(cls) == c.cfg.output.NoData {
			return fmt.Errorf("class %d equals the output nodata value", cls)
		}
		if err := CheckValueFits(dt, float64(cls)); err != nil {
			return fmt.Errorf("class %d: %w", cls, err)
		}
	}
	return nil
}

func (c *RandomForestClassifier) fail(result *ClassificationResult, err error) error {
	c.state.Store(int32(StateFailed))
	c.cfg.metrics.observeRun(StateFailed)
	c.finishLedger(StateFailed, result, err)
	return err
}

func (c *RandomForestClassifier) beginLedger() {
	if c.cfg.ledger == nil {
		return
	}
	run := &ClassificationRun{
		ID:           c.runID,
		Preset:       c.cfg.preset,
		ModelPath:    c.modelPath,
		FeatureCount: len(c.featurePaths),
		FeaturePaths: strings.Join(c.featurePaths, "\n"),
		OutputPath:   c.OutputPath(),
		TileSize:     c.cfg.tileSize,
		Processors:   c.cfg.processors,
		State:        StateCreated.String(),
	}
	if bbox, err := BoundingBoxFromSlice(c.bbox); err == nil {
		if s, err := boundToGeoJSON(bbox.Bound()); err == nil {
			run.BBox = s
		}
	}
	if err := c.cfg.ledger.Begin(run); err != nil {
		log().Warnf("run ledger: %v", err)
	}
}

func (c *RandomForestClassifier) finishLedger(state State, result *ClassificationResult, runErr error) {
	if c.cfg.ledger == nil {
		return
	}
	if err := c.cfg.ledger.Finish(c.runID, state, result, runErr); err != nil {
		log().Warnf("run ledger: %v", err)
	}
}
