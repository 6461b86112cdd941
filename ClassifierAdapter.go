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

	"gonum.org/v1/gonum/mat"
)

// TrainedModel 训练好的分类模型。推理期间只读，可被多个瓦片协程共享
type TrainedModel interface {
	// FeatureCount 训练时的特征数
	FeatureCount() int
	// Predict 对每一行特征预测一个类别标签
	Predict(features mat.Matrix) ([]int, error)
}

// FeatureNamer 记录了训练特征名称的模型
type FeatureNamer interface {
	FeatureNames() []string
}

// ClassLister 可列出类别标签的模型
type ClassLister interface {
	Classes() []int
}

// ClassifierAdapter 包装模型，保证特征数与顺序和训练时一致，且只对有效像素预测
type ClassifierAdapter struct {
	model    TrainedModel
	features int
}

// NewClassifierAdapter 创建适配器。特征数不一致时立即失败；
// 模型与特征布局都带名称时逐位比对
func NewClassifierAdapter(model TrainedModel, spec FeatureSpec) (*ClassifierAdapter, error) {
	if model == nil {
		return nil, fmt.Errorf("model is nil")
	}
	if model.FeatureCount() != len(spec) {
		return nil, &FeatureCountMismatchError{Expected: model.FeatureCount(), Actual: len(spec)}
	}
	if namer, ok := model.(FeatureNamer); ok {
		if err := checkFeatureNames(namer.FeatureNames(), spec.Names()); err != nil {
			return nil, err
		}
	}
	return &ClassifierAdapter{model: model, features: len(spec)}, nil
}

func checkFeatureNames(trained, given []string) error {
	if len(trained) == 0 || len(given) == 0 {
		return nil
	}
	for i := range given {
		if i >= len(trained) {
			break
		}
		if trained[i] != given[i] {
			return &FeatureSchemaMismatchError{Position: i, Expected: trained[i], Actual: given[i]}
		}
	}
	return nil
}

// FeatureCount 特征数
func (a *ClassifierAdapter) FeatureCount() int { return a.features }

// Model 被包装的模型
func (a *ClassifierAdapter) Model() TrainedModel { return a.model }

// Predict 只对掩膜中有效的行调用模型，返回的标签与有效行一一对应
func (a *ClassifierAdapter) Predict(features *mat.Dense, mask ValidityMask) ([]int, error) {
	rows, cols := features.Dims()
	if cols != a.features {
		return nil, &FeatureCountMismatchError{Expected: a.features, Actual: cols}
	}
	if len(mask) != rows {
		return nil, fmt.Errorf("mask has %d entries for %d rows", len(mask), rows)
	}

	valid := mask.Count()
	if valid == 0 {
		return nil, nil
	}

	input := features
	if valid != rows {
		input = mat.NewDense(valid, cols, nil)
		r := 0
		for i, ok := range mask {
			if ok {
				input.SetRow(r, features.RawRowView(i))
				r++
			}
		}
	}

	labels, err := a.model.Predict(input)
	if err != nil {
		return nil, err
	}
	if len(labels) != valid {
		return nil, fmt.Errorf("model returned %d labels for %d rows", len(labels), valid)
	}
	return labels, nil
}
