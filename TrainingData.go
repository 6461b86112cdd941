package Surfclass

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sbinet/npyio/npy"
	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// 训练数据归档（.npz）中的数组名称
const (
	TrainingIDsKey      = "ids"
	TrainingClassesKey  = "classes"
	TrainingFeaturesKey = "features"
)

// TrainingData 带标签的训练样本
type TrainingData struct {
	IDs      []int64
	Classes  []int
	Features *mat.Dense
}

// LoadTrainingData 读取训练数据归档，返回 (ids, classes, features)
func LoadTrainingData(path string) ([]int64, []int, *mat.Dense, error) {
	td, err := ReadTrainingData(path)
	if err != nil {
		return nil, nil, nil, err
	}
	return td.IDs, td.Classes, td.Features, nil
}

// ReadTrainingData 读取训练数据归档。数组可以是任意整数或浮点类型，
// 特征转换为 float64，类别必须为整数值
func ReadTrainingData(path string) (*TrainingData, error) {
	f, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open training data %s: %w", path, err)
	}
	defer f.Close()

	// numpy 写出的条目带 .npy 后缀
	entries := map[string]string{}
	for _, k := range f.Keys() {
		entries[strings.TrimSuffix(k, ".npy")] = k
	}
	for _, k := range []string{TrainingIDsKey, TrainingClassesKey, TrainingFeaturesKey} {
		if _, ok := entries[k]; !ok {
			return nil, fmt.Errorf("training data %s has no %q array", path, k)
		}
	}

	ids, _, err := readNumeric[int64](f, entries[TrainingIDsKey])
	if err != nil {
		return nil, fmt.Errorf("failed to read %q from %s: %w", TrainingIDsKey, path, err)
	}
	rawClasses, _, err := readNumeric[float64](f, entries[TrainingClassesKey])
	if err != nil {
		return nil, fmt.Errorf("failed to read %q from %s: %w", TrainingClassesKey, path, err)
	}
	values, hdr, err := readNumeric[float64](f, entries[TrainingFeaturesKey])
	if err != nil {
		return nil, fmt.Errorf("failed to read %q from %s: %w", TrainingFeaturesKey, path, err)
	}
	features, err := featureMatrix(values, hdr)
	if err != nil {
		return nil, fmt.Errorf("%q in %s: %w", TrainingFeaturesKey, path, err)
	}

	rows, _ := features.Dims()
	if len(rawClasses) != rows || len(ids) != rows {
		return nil, fmt.Errorf("training data %s is inconsistent: %d ids, %d classes, %d feature rows",
			path, len(ids), len(rawClasses), rows)
	}

	td := &TrainingData{IDs: ids, Classes: make([]int, len(rawClasses)), Features: features}
	for i, c := range rawClasses {
		if c != math.Trunc(c) {
			return nil, fmt.Errorf("training data %s: class %v of sample %d is not an integer", path, c, i)
		}
		td.Classes[i] = int(c)
	}
	return td, nil
}

type npyNumber interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// readNumeric 按数组的实际 dtype 读取并转换为 T
func readNumeric[T npyNumber](f *npz.Reader, name string) ([]T, *npy.Header, error) {
	hdr := f.Header(name)
	if hdr == nil {
		return nil, nil, fmt.Errorf("no header for array %q", name)
	}
	var (
		out []T
		err error
	)
	switch dtype := strings.TrimLeft(hdr.Descr.Type, "<>|="); dtype {
	case "i1":
		out, err = readAs[int8, T](f, name)
	case "i2":
		out, err = readAs[int16, T](f, name)
	case "i4":
		out, err = readAs[int32, T](f, name)
	case "i8":
		out, err = readAs[int64, T](f, name)
	case "u1":
		out, err = readAs[uint8, T](f, name)
	case "u2":
		out, err = readAs[uint16, T](f, name)
	case "u4":
		out, err = readAs[uint32, T](f, name)
	case "u8":
		out, err = readAs[uint64, T](f, name)
	case "f4":
		out, err = readAs[float32, T](f, name)
	case "f8":
		out, err = readAs[float64, T](f, name)
	default:
		err = fmt.Errorf("unsupported dtype %q", hdr.Descr.Type)
	}
	return out, hdr, err
}

func readAs[S, T npyNumber](f *npz.Reader, name string) ([]T, error) {
	var src []S
	if err := f.Read(name, &src); err != nil {
		return nil, err
	}
	out := make([]T, len(src))
	for i, v := range src {
		out[i] = T(v)
	}
	return out, nil
}

// featureMatrix 按数组形状构造 样本数 x 特征数 矩阵，一维数组视为单特征
func featureMatrix(values []float64, hdr *npy.Header) (*mat.Dense, error) {
	shape := hdr.Descr.Shape
	var rows, cols int
	switch len(shape) {
	case 1:
		rows, cols = shape[0], 1
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, fmt.Errorf("expected a 2-d array, got shape %v", shape)
	}
	if rows*cols != len(values) {
		return nil, fmt.Errorf("shape %v does not match %d values", shape, len(values))
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("empty feature array with shape %v", shape)
	}
	if hdr.Descr.Fortran && cols > 1 {
		// 列优先存储
		return mat.DenseCopyOf(mat.NewDense(cols, rows, values).T()), nil
	}
	return mat.NewDense(rows, cols, values), nil
}

// WriteTrainingData 写出训练数据归档
func WriteTrainingData(path string, td *TrainingData) error {
	w, err := npz.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create training data %s: %w", path, err)
	}
	classes := make([]int64, len(td.Classes))
	for i, c := range td.Classes {
		classes[i] = int64(c)
	}
	if err := w.Write(TrainingIDsKey, td.IDs); err != nil {
		w.Close()
		return err
	}
	if err := w.Write(TrainingClassesKey, classes); err != nil {
		w.Close()
		return err
	}
	if err := w.Write(TrainingFeaturesKey, td.Features); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// FeatureStats 单个特征的描述统计
type FeatureStats struct {
	Feature  int     `yaml:"feature"`
	Name     string  `yaml:"name,omitempty"`
	Count    int     `yaml:"count"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Mean     float64 `yaml:"mean"`
	Variance float64 `yaml:"variance"`
	Skewness float64 `yaml:"skewness"`
	Kurtosis float64 `yaml:"kurtosis"`
}

// DescribeFeatures 按列计算描述统计（样本方差、偏度、超额峰度）
func DescribeFeatures(features mat.Matrix, names []string) []FeatureStats {
	rows, cols := features.Dims()
	out := make([]FeatureStats, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, features)
		s := FeatureStats{Feature: j + 1, Count: rows}
		if j < len(names) {
			s.Name = names[j]
		}
		if rows > 0 {
			s.Min = floats.Min(col)
			s.Max = floats.Max(col)
			s.Mean, s.Variance = stat.MeanVariance(col, nil)
			s.Skewness = stat.Skew(col, nil)
			s.Kurtosis = stat.ExKurtosis(col, nil)
		}
		out[j] = s
	}
	return out
}

// ClassCounts 每个类别的样本数
func ClassCounts(classes []int) map[int]int {
	out := map[int]int{}
	for _, c := range classes {
		out[c]++
	}
	return out
}

// FormatFeatureStats 以表格形式格式化描述统计
func FormatFeatureStats(stats []FeatureStats) []string {
	lines := []string{fmt.Sprintf("%-4s %-20s %8s %14s %14s %14s %14s %10s %10s",
		"#", "name", "nobs", "min", "max", "mean", "variance", "skewness", "kurtosis")}
	sorted := append([]FeatureStats(nil), stats...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Feature < sorted[j].Feature })
	for _, s := range sorted {
		lines = append(lines, fmt.Sprintf("%-4d %-20s %8d %14.6g %14.6g %14.6g %14.6g %10.4g %10.4g",
			s.Feature, s.Name, s.Count, s.Min, s.Max, s.Mean, s.Variance, finite(s.Skewness), finite(s.Kurtosis)))
	}
	return lines
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
