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
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// TrainOptions 随机森林训练参数
type TrainOptions struct {
	NumTrees int // 树的数量，默认100
	// Processors 并行数：-1 全部CPU，-2 保留一个CPU，N 为N个
	Processors     int
	Seed           int64
	MaxDepth       int // 0 表示不限制
	MinSamplesLeaf int // 默认1
	MaxFeatures    int // 每次分裂候选特征数，0 表示 sqrt(特征数)
	FeatureNames   []string
}

func (o *TrainOptions) setDefaults(nFeatures int) {
	if o.NumTrees <= 0 {
		o.NumTrees = 100
	}
	if o.Processors == 0 {
		o.Processors = -1
	}
	if o.MinSamplesLeaf <= 0 {
		o.MinSamplesLeaf = 1
	}
	if o.MaxFeatures <= 0 || o.MaxFeatures > nFeatures {
		o.MaxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}
}

// TreeNode 决策树节点，Feature < 0 为叶子节点
type TreeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	// Class 叶子（或内部节点多数）类别在 RandomForest.Labels 中的下标
	Class int
}

// DecisionTree 以扁平数组存储的 CART 决策树，根节点下标为0
type DecisionTree struct {
	Nodes []TreeNode
}

func (t *DecisionTree) classify(row []float64) int {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Class
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// RandomForest 随机森林分类模型。推理只读且确定：多数投票，平票取较小标签
type RandomForest struct {
	Features int
	Names    []string
	Labels   []int
	Trees    []DecisionTree
	Params   TrainOptions
}

func (rf *RandomForest) FeatureCount() int      { return rf.Features }
func (rf *RandomForest) FeatureNames() []string { return rf.Names }
func (rf *RandomForest) Classes() []int         { return rf.Labels }

// Predict 对每行特征投票
func (rf *RandomForest) Predict(features mat.Matrix) ([]int, error) {
	rows, cols := features.Dims()
	if cols != rf.Features {
		return nil, &FeatureCountMismatchError{Expected: rf.Features, Actual: cols}
	}
	if len(rf.Trees) == 0 {
		return nil, fmt.Errorf("random forest has no trees")
	}

	out := make([]int, rows)
	votes := make([]int, len(rf.Labels))
	row := make([]float64, cols)
	raw, isRaw := features.(mat.RawRowViewer)
	for i := 0; i < rows; i++ {
		var r []float64
		if isRaw {
			r = raw.RawRowView(i)
		} else {
			r = mat.Row(row, i, features)
		}
		for c := range votes {
			votes[c] = 0
		}
		for t := range rf.Trees {
			votes[rf.Trees[t].classify(r)]++
		}
		out[i] = rf.Labels[argmax(votes)]
	}
	return out, nil
}

// Accuracy 在给定样本上的准确率
func (rf *RandomForest) Accuracy(features mat.Matrix, classes []int) (float64, error) {
	pred, err := rf.Predict(features)
	if err != nil {
		return 0, err
	}
	if len(pred) != len(classes) {
		return 0, fmt.Errorf("got %d classes for %d rows", len(classes), len(pred))
	}
	if len(pred) == 0 {
		return 0, nil
	}
	hit := 0
	for i := range pred {
		if pred[i] == classes[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(pred)), nil
}

// TrainRandomForest 训练随机森林。每棵树使用由 Seed 和树序号决定的随机源，
// 因此结果与并行数无关
func TrainRandomForest(ctx context.Context, features mat.Matrix, classes []int, opts TrainOptions) (*RandomForest, error) {
	n, k := features.Dims()
	if n == 0 || k == 0 {
		return nil, fmt.Errorf("training data is empty")
	}
	if len(classes) != n {
		return nil, fmt.Errorf("got %d class labels for %d samples", len(classes), n)
	}
	if len(opts.FeatureNames) != 0 && len(opts.FeatureNames) != k {
		return nil, fmt.Errorf("got %d feature names for %d features", len(opts.FeatureNames), k)
	}
	opts.setDefaults(k)

	x := make([]float64, n*k)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			v := features.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("sample %d feature %d is not finite", i, j+1)
			}
			x[i*k+j] = v
		}
	}

	labels, y := encodeLabels(classes)
	workers, err := ResolveProcessors(opts.Processors)
	if err != nil {
		return nil, err
	}

	trees := make([]DecisionTree, opts.NumTrees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := 0; t < opts.NumTrees; t++ {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b := &treeBuilder{
				x:        x,
				k:        k,
				y:        y,
				nClasses: len(labels),
				opts:     opts,
				rng:      rand.New(rand.NewSource(opts.Seed + int64(t)*1000003)),
			}
			samples := make([]int, n)
			for i := range samples {
				samples[i] = b.rng.Intn(n)
			}
			b.build(samples, 0)
			trees[t] = DecisionTree{Nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &RandomForest{
		Features: k,
		Names:    append([]string(nil), opts.FeatureNames...),
		Labels:   labels,
		Trees:    trees,
		Params:   opts,
	}, nil
}

func encodeLabels(classes []int) ([]int, []int) {
	set := map[int]struct{}{}
	for _, c := range classes {
		set[c] = struct{}{}
	}
	labels := make([]int, 0, len(set))
	for c := range set {
		labels = append(labels, c)
	}
	sort.Ints(labels)
	index := make(map[int]int, len(labels))
	for i, c := range labels {
		index[c] = i
	}
	y := make([]int, len(classes))
	for i, c := range classes {
		y[i] = index[c]
	}
	return labels, y
}

func argmax(v []int) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

type treeBuilder struct {
	x        []float64
	k        int
	y        []int
	nClasses int
	opts     TrainOptions
	rng      *rand.Rand
	nodes    []TreeNode
}

func (b *treeBuilder) counts(samples []int) []int {
	c := make([]int, b.nClasses)
	for _, s := range samples {
		c[b.y[s]]++
	}
	return c
}

func (b *treeBuilder) build(samples []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Feature: -1})

	counts := b.counts(samples)
	majority := argmax(counts)
	b.nodes[idx].Class = majority

	if counts[majority] == len(samples) ||
		len(samples) < 2*b.opts.MinSamplesLeaf ||
		(b.opts.MaxDepth > 0 && depth >= b.opts.MaxDepth) {
		return idx
	}

	feature, threshold, ok := b.bestSplit(samples, counts)
	if !ok {
		return idx
	}

	var left, right []int
	for _, s := range samples {
		if b.x[s*b.k+feature] <= threshold {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[idx] = TreeNode{Feature: feature, Threshold: threshold, Left: l, Right: r, Class: majority}
	return idx
}

// bestSplit 在随机选取的候选特征中寻找基尼不纯度最小的分裂点。
// 候选特征取值全部相同时继续尝试其余特征
func (b *treeBuilder) bestSplit(samples []int, counts []int) (int, float64, bool) {
	n := len(samples)
	bestFeature, bestThreshold := -1, 0.0
	bestImpurity := math.Inf(1)

	sorted := make([]int, n)
	left := make([]int, b.nClasses)
	right := make([]int, b.nClasses)
	visited := 0
	for _, f := range b.rng.Perm(b.k) {
		if visited >= b.opts.MaxFeatures && bestFeature >= 0 {
			break
		}
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool {
			return b.x[sorted[i]*b.k+f] < b.x[sorted[j]*b.k+f]
		})
		lo, hi := b.x[sorted[0]*b.k+f], b.x[sorted[n-1]*b.k+f]
		if lo == hi {
			continue
		}
		visited++

		for c := range left {
			left[c] = 0
		}
		copy(right, counts)
		for i := 0; i < n-1; i++ {
			cls := b.y[sorted[i]]
			left[cls]++
			right[cls]--
			v, next := b.x[sorted[i]*b.k+f], b.x[sorted[i+1]*b.k+f]
			if v == next {
				continue
			}
			nl, nr := i+1, n-i-1
			if nl < b.opts.MinSamplesLeaf || nr < b.opts.MinSamplesLeaf {
				continue
			}
			impurity := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
			if impurity < bestImpurity-1e-12 {
				bestImpurity = impurity
				bestFeature = f
				bestThreshold = v + (next-v)/2
				if bestThreshold >= next {
					bestThreshold = v
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sum += p * p
	}
	return 1 - sum
}

// ResolveProcessors 将并行数参数解析为实际协程数：
// -1 全部CPU，-2 保留一个，-k 为 CPU+1-k，N 不超过CPU数，0 非法
func ResolveProcessors(p int) (int, error) {
	cpus := runtime.NumCPU()
	switch {
	case p == 0:
		return 0, fmt.Errorf("processors must not be 0")
	case p > 0:
		if p > cpus {
			return cpus, nil
		}
		return p, nil
	default:
		n := cpus + 1 + p
		if n < 1 {
			n = 1
		}
		return n, nil
	}
}
