package Surfclass

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	modelFormat  = "surfclass-randomforest"
	modelVersion = 1
)

type modelEnvelope struct {
	Format  string
	Version int
	Created time.Time
	Forest  *RandomForest
}

// SaveModel 保存模型。先写临时文件再重命名，避免留下不完整的模型
func SaveModel(path string, rf *RandomForest) error {
	if rf == nil {
		return fmt.Errorf("model is nil")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.New().String()))
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create model file: %w", err)
	}
	env := modelEnvelope{Format: modelFormat, Version: modelVersion, Created: time.Now().UTC(), Forest: rf}
	if err := gob.NewEncoder(f).Encode(&env); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move model into place: %w", err)
	}
	return nil
}

// LoadModel 读取随机森林模型
func LoadModel(path string) (*RandomForest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model: %w", err)
	}
	defer f.Close()

	var env modelEnvelope
	if err := gob.NewDecoder(f).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}
	if env.Format != modelFormat {
		return nil, fmt.Errorf("model %s has unknown format %q", path, env.Format)
	}
	if env.Version > modelVersion {
		return nil, fmt.Errorf("model %s has version %d, newest supported is %d", path, env.Version, modelVersion)
	}
	if env.Forest == nil || env.Forest.Features <= 0 || len(env.Forest.Trees) == 0 {
		return nil, fmt.Errorf("model %s is empty", path)
	}
	return env.Forest, nil
}

// ModelSummary 模型摘要，写入模型旁的 YAML 文件
type ModelSummary struct {
	Model          string         `yaml:"model"`
	Preset         string         `yaml:"preset,omitempty"`
	TrainingData   string         `yaml:"training_data,omitempty"`
	Samples        int            `yaml:"samples,omitempty"`
	Features       int            `yaml:"features"`
	FeatureNames   []string       `yaml:"feature_names,omitempty"`
	Classes        []int          `yaml:"classes"`
	Trees          int            `yaml:"trees"`
	Seed           int64          `yaml:"seed"`
	MaxDepth       int            `yaml:"max_depth,omitempty"`
	TrainAccuracy  float64        `yaml:"train_accuracy,omitempty"`
	ClassCounts    map[int]int    `yaml:"class_counts,omitempty"`
	FeatureStats   []FeatureStats `yaml:"feature_stats,omitempty"`
	TrainedAt      time.Time      `yaml:"trained_at,omitempty"`
	TrainingTimeMs int64          `yaml:"training_time_ms,omitempty"`
}

// Summarize 从模型生成摘要
func (rf *RandomForest) Summarize(modelPath string) ModelSummary {
	return ModelSummary{
		Model:        modelPath,
		Features:     rf.Features,
		FeatureNames: rf.Names,
		Classes:      rf.Labels,
		Trees:        len(rf.Trees),
		Seed:         rf.Params.Seed,
		MaxDepth:     rf.Params.MaxDepth,
	}
}

// SummaryPath 模型摘要文件路径
func SummaryPath(modelPath string) string {
	return modelPath + ".yaml"
}

// WriteModelSummary 写出 YAML 摘要
func WriteModelSummary(path string, s ModelSummary) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to encode model summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write model summary: %w", err)
	}
	return nil
}

// ReadModelSummary 读取 YAML 摘要
func ReadModelSummary(path string) (*ModelSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s ModelSummary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode model summary %s: %w", path, err)
	}
	return &s, nil
}
