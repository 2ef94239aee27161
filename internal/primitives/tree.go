package primitives

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"genens/internal/workflow"
)

// DecisionTree is a CART classifier. MaxFeatures is the fraction of columns
// drawn at random for every split; the draw is seeded so that identical
// hyperparameters give identical trees.
type DecisionTree struct {
	Criterion       string
	MaxFeatures     float64
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            int64

	root    *treeNode
	dim     int
	classes []float64
}

type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	label     float64
	leaf      bool
}

type treeBuilder struct {
	ctx     context.Context
	x       [][]float64
	y       []float64
	rng     *rand.Rand
	tree    *DecisionTree
	nSplit  int
	classes []float64
	index   map[float64]int
}

func (t *DecisionTree) Fit(ctx context.Context, x [][]float64, y []float64) error {
	if err := checkTraining(x, y); err != nil {
		return err
	}
	switch t.Criterion {
	case "", "gini", "entropy":
	default:
		return fmt.Errorf("%w: unknown criterion %q", ErrInput, t.Criterion)
	}
	if t.MaxDepth < 1 {
		return fmt.Errorf("%w: max_depth=%d", ErrInput, t.MaxDepth)
	}

	d := len(x[0])
	frac := t.MaxFeatures
	if frac <= 0 || frac > 1 {
		frac = 1
	}
	nSplit := int(math.Round(frac * float64(d)))
	if nSplit < 1 {
		nSplit = 1
	}

	classes := classesOf(y)
	b := &treeBuilder{
		ctx:     ctx,
		x:       x,
		y:       y,
		rng:     rand.New(rand.NewSource(t.Seed)),
		tree:    t,
		nSplit:  nSplit,
		classes: classes,
		index:   classIndex(classes),
	}
	rows := make([]int, len(x))
	for i := range rows {
		rows[i] = i
	}
	root, err := b.grow(rows, 1)
	if err != nil {
		return err
	}
	t.root, t.dim, t.classes = root, d, classes
	return nil
}

func (b *treeBuilder) grow(rows []int, depth int) (*treeNode, error) {
	if err := b.ctx.Err(); err != nil {
		return nil, err
	}
	counts := b.counts(rows)
	label := b.classes[argmaxInt(counts)]

	minSplit := b.tree.MinSamplesSplit
	if minSplit < 2 {
		minSplit = 2
	}
	if depth > b.tree.MaxDepth || len(rows) < minSplit || pure(counts) {
		return &treeNode{leaf: true, label: label}, nil
	}

	feature, threshold, ok := b.bestSplit(rows, counts)
	if !ok {
		return &treeNode{leaf: true, label: label}, nil
	}
	var left, right []int
	for _, r := range rows {
		if b.x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l, err := b.grow(left, depth+1)
	if err != nil {
		return nil, err
	}
	r, err := b.grow(right, depth+1)
	if err != nil {
		return nil, err
	}
	return &treeNode{feature: feature, threshold: threshold, left: l, right: r, label: label}, nil
}

func (b *treeBuilder) counts(rows []int) []int {
	counts := make([]int, len(b.classes))
	for _, r := range rows {
		counts[b.index[b.y[r]]]++
	}
	return counts
}

func (b *treeBuilder) bestSplit(rows []int, counts []int) (int, float64, bool) {
	minLeaf := b.tree.MinSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}
	features := b.rng.Perm(len(b.x[0]))[:b.nSplit]
	parent := b.impurity(counts, len(rows))

	bestGain, bestFeature, bestThreshold := 0.0, -1, 0.0
	sorted := append([]int(nil), rows...)
	left := make([]int, len(b.classes))
	right := make([]int, len(b.classes))
	for _, f := range features {
		f := f
		sort.SliceStable(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })
		for c := range left {
			left[c] = 0
			right[c] = counts[c]
		}
		for i := 0; i < len(sorted)-1; i++ {
			ci := b.index[b.y[sorted[i]]]
			left[ci]++
			right[ci]--
			lo, hi := b.x[sorted[i]][f], b.x[sorted[i+1]][f]
			nl, nr := i+1, len(sorted)-i-1
			if lo == hi || nl < minLeaf || nr < minLeaf {
				continue
			}
			n := float64(len(sorted))
			child := float64(nl)/n*b.impurity(left, nl) + float64(nr)/n*b.impurity(right, nr)
			if gain := parent - child; gain > bestGain {
				bestGain, bestFeature, bestThreshold = gain, f, lo+(hi-lo)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func (b *treeBuilder) impurity(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	var out float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(n)
		if b.tree.Criterion == "entropy" {
			out -= p * math.Log2(p)
		} else {
			out += p * (1 - p)
		}
	}
	return out
}

func (t *DecisionTree) Predict(ctx context.Context, x [][]float64) ([]float64, error) {
	if t.root == nil {
		return nil, workflow.ErrNotTrained
	}
	if err := checkWidth(x, t.dim); err != nil {
		return nil, err
	}
	out := make([]float64, len(x))
	for i, row := range x {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		n := t.root
		for !n.leaf {
			if row[n.feature] <= n.threshold {
				n = n.left
			} else {
				n = n.right
			}
		}
		out[i] = n.label
	}
	return out, nil
}

func (t *DecisionTree) Clone() workflow.Estimator {
	return &DecisionTree{
		Criterion:       t.Criterion,
		MaxFeatures:     t.MaxFeatures,
		MaxDepth:        t.MaxDepth,
		MinSamplesSplit: t.MinSamplesSplit,
		MinSamplesLeaf:  t.MinSamplesLeaf,
		Seed:            t.Seed,
	}
}

func pure(counts []int) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func argmaxInt(values []int) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
