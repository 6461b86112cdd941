package Surfclass

import (
	"fmt"
	"sort"
)

// FeatureLayer 特征向量中的一列：单波段栅格文件
type FeatureLayer struct {
	Path string
	Band int
	// Name 可选的特征名称，与模型记录的训练特征名称逐位比对
	Name string
}

// FeatureSpec 有序的特征布局，顺序必须与训练时一致
type FeatureSpec []FeatureLayer

// NewFeatureSpec 由文件路径列表创建特征布局（波段固定为1）。
// names 可为空；非空时长度必须与 paths 相同
func NewFeatureSpec(paths []string, names []string) (FeatureSpec, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("feature list is empty")
	}
	if len(names) != 0 && len(names) != len(paths) {
		return nil, fmt.Errorf("got %d feature names for %d feature files", len(names), len(paths))
	}
	spec := make(FeatureSpec, len(paths))
	for i, p := range paths {
		if p == "" {
			return nil, fmt.Errorf("feature %d: empty path", i+1)
		}
		spec[i] = FeatureLayer{Path: p, Band: 1}
		if len(names) != 0 {
			spec[i].Name = names[i]
		}
	}
	return spec, nil
}

// Paths 文件路径
func (s FeatureSpec) Paths() []string {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = l.Path
	}
	return out
}

// Names 特征名称；任一特征未命名时返回 nil
func (s FeatureSpec) Names() []string {
	out := make([]string, len(s))
	for i, l := range s {
		if l.Name == "" {
			return nil
		}
		out[i] = l.Name
	}
	return out
}

// Preset 预定义的特征组合，对应固定的分类/训练子命令
type Preset struct {
	Name         string
	Description  string
	FeatureNames []string
	// FeatureHelp 每个特征的命令行说明
	FeatureHelp []string
}

// FeatureCount 预设的特征数
func (p Preset) FeatureCount() int { return len(p.FeatureNames) }

// Spec 按预设为文件列表命名
func (p Preset) Spec(paths []string) (FeatureSpec, error) {
	if len(paths) != p.FeatureCount() {
		return nil, &FeatureCountMismatchError{Expected: p.FeatureCount(), Actual: len(paths)}
	}
	return NewFeatureSpec(paths, p.FeatureNames)
}

var presets = map[string]Preset{
	"testmodel1": {
		Name:         "testmodel1",
		Description:  "Amplitude with n=3 neighbourhood derivatives",
		FeatureNames: []string{"amplitude", "amplitude_diffmean_3", "amplitude_mean_3", "amplitude_var_3"},
		FeatureHelp:  []string{"Amplitude", "Diffmean Amplitude n=3", "Mean Amplitude n=3", "Var Amplitude n=3"},
	},
	"randomforestndvi": {
		Name:        "randomforestndvi",
		Description: "Amplitude, NDVI and pulse width with n=5 derivatives plus return number",
		FeatureNames: []string{
			"amplitude", "amplitude_mean_5", "amplitude_var_5",
			"ndvi", "ndvi_mean_5", "ndvi_var_5",
			"pulsewidth", "pulsewidth_mean_5", "pulsewidth_var_5",
			"returnnumber",
		},
		FeatureHelp: []string{
			"Amplitude", "Amplitude Mean n=5", "Amplitude Var n=5",
			"NDVI", "NDVI Mean n=5", "NDVI Var n=5",
			"Pulse width n=5", "Pulse width Mean n=5", "Pulse width Var n=5",
			"ReturnNumber",
		},
	},
}

// GetPreset 按名称查找预设
func GetPreset(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames 所有预设名称（排序）
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
