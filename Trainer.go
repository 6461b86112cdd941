package Surfclass

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// TrainRequest 从训练数据归档训练模型的参数
type TrainRequest struct {
	TrainingData string
	OutputFile   string
	// Preset 为空时训练通用模型，特征数取自训练数据
	Preset  string
	Options TrainOptions
	Metrics *Metrics
	// Stats 非空时写出特征描述统计
	Stats io.Writer
}

// TrainResult 训练结果
type TrainResult struct {
	Model   *RandomForest
	Summary ModelSummary
}

// TrainFromArchive 读取 .npz 训练数据，训练随机森林，保存模型及 YAML 摘要
func TrainFromArchive(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	td, err := ReadTrainingData(req.TrainingData)
	if err != nil {
		return nil, err
	}
	samples, k := td.Features.Dims()

	opts := req.Options
	var preset Preset
	if req.Preset != "" {
		var ok bool
		preset, ok = GetPreset(req.Preset)
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", req.Preset)
		}
		if k != preset.FeatureCount() {
			return nil, &FeatureCountMismatchError{Expected: preset.FeatureCount(), Actual: k}
		}
		if len(opts.FeatureNames) == 0 {
			opts.FeatureNames = preset.FeatureNames
		}
	}

	stats := DescribeFeatures(td.Features, opts.FeatureNames)
	if req.Stats != nil {
		fmt.Fprintln(req.Stats, "Stats for feature data:")
		for _, line := range FormatFeatureStats(stats) {
			fmt.Fprintln(req.Stats, line)
		}
	}

	model := req.Preset
	if model == "" {
		model = "genericmodel"
	}
	log().Debugf("training %s with arguments: %s, %s, %d trees", model, req.TrainingData, req.OutputFile, opts.NumTrees)

	start := time.Now()
	rf, err := TrainRandomForest(ctx, td.Features, td.Classes, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to train %s: %w", model, err)
	}
	elapsed := time.Since(start)
	req.Metrics.observeTrees(len(rf.Trees))

	acc, err := rf.Accuracy(td.Features, td.Classes)
	if err != nil {
		return nil, err
	}

	if err := SaveModel(req.OutputFile, rf); err != nil {
		return nil, err
	}
	summary := rf.Summarize(filepath.Base(req.OutputFile))
	summary.Preset = req.Preset
	summary.TrainingData = req.TrainingData
	summary.Samples = samples
	summary.TrainAccuracy = acc
	summary.ClassCounts = ClassCounts(td.Classes)
	summary.FeatureStats = stats
	summary.TrainedAt = start.UTC()
	summary.TrainingTimeMs = elapsed.Milliseconds()
	if err := WriteModelSummary(SummaryPath(req.OutputFile), summary); err != nil {
		return nil, err
	}

	if abs, err := filepath.Abs(req.OutputFile); err == nil {
		log().Debugf("training done, written model to: %s", abs)
	}
	log().Infof("trained %d trees on %d samples x %d features in %v (training accuracy %.4f)",
		len(rf.Trees), samples, k, elapsed, acc)
	return &TrainResult{Model: rf, Summary: summary}, nil
}
