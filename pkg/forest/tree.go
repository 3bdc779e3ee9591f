package forest

import (
	"cmp"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	leaf = -1

	// minGain is the smallest impurity decrease accepted for a split.
	minGain = 1e-12
)

// Node is a single decision or leaf node. Leaves carry Feature == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
	Samples   int     `json:"n"`
}

// Tree is a CART regression tree stored as a flat node list in pre-order.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for x.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature == leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

func (t *Tree) validate(numFeatures int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.Feature == leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return fmt.Errorf("node %d splits on feature %d of %d", i, n.Feature, numFeatures)
		}
		// pre-order layout: children always come after their parent
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has out of range children (%d, %d)", i, n.Left, n.Right)
		}
	}
	return nil
}

type builder struct {
	cfg        Config
	x          [][]float64
	y          []float64
	rng        *rand.Rand
	features   []int
	nodes      []Node
	importance []float64
}

type split struct {
	feature    int
	threshold  float64
	gain       float64
	leftValue  float64
	rightValue float64
	left       []int
	right      []int
}

func newBuilder(cfg Config, x [][]float64, y []float64, rng *rand.Rand) *builder {
	nf := len(x[0])
	features := make([]int, nf)
	for i := range features {
		features[i] = i
	}
	return &builder{
		cfg:        cfg,
		x:          x,
		y:          y,
		rng:        rng,
		features:   features,
		importance: make([]float64, nf),
	}
}

func (b *builder) build(idx []int) *Tree {
	b.nodes = b.nodes[:0]
	b.grow(idx, 0, bounds{lower: math.Inf(-1), upper: math.Inf(1)})
	return &Tree{Nodes: slices.Clone(b.nodes)}
}

// bounds limits the values a subtree may predict. Splits on an increasing
// feature give the left child an upper and the right child a lower bound,
// both at the midpoint of the two child values.
type bounds struct {
	lower float64
	upper float64
}

func (bd bounds) clip(v float64) float64 {
	return math.Max(bd.lower, math.Min(bd.upper, v))
}

func (b *builder) increasing(f int) bool {
	return f < len(b.cfg.Monotonic) && b.cfg.Monotonic[f] > 0
}

// grow appends the subtree for idx and returns its root index.
func (b *builder) grow(idx []int, depth int, bd bounds) int {
	vals := make([]float64, len(idx))
	for i, j := range idx {
		vals[i] = b.y[j]
	}
	mean := stat.Mean(vals, nil)
	value := bd.clip(mean)

	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf, Value: value, Samples: len(idx)})

	if len(idx) < b.cfg.MinSamplesSplit || (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		return self
	}

	best, ok := b.bestSplit(idx, sse(vals, mean), bd)
	if !ok {
		return self
	}

	b.importance[best.feature] += best.gain

	leftBounds, rightBounds := bd, bd
	if b.increasing(best.feature) {
		mid := (best.leftValue + best.rightValue) / 2
		leftBounds.upper = mid
		rightBounds.lower = mid
	}

	left := b.grow(best.left, depth+1, leftBounds)
	right := b.grow(best.right, depth+1, rightBounds)
	b.nodes[self] = Node{
		Feature:   best.feature,
		Threshold: best.threshold,
		Left:      left,
		Right:     right,
		Value:     value,
		Samples:   len(idx),
	}
	return self
}

func (b *builder) candidates() []int {
	if b.cfg.MaxFeatures <= 0 || b.cfg.MaxFeatures >= len(b.features) {
		return b.features
	}
	perm := b.rng.Perm(len(b.features))
	return perm[:b.cfg.MaxFeatures]
}

// bestSplit finds the split with the largest reduction of the sum of squared
// errors. On increasing features a split whose bounded left value exceeds its
// bounded right value is skipped.
func (b *builder) bestSplit(idx []int, parentSSE float64, bd bounds) (split, bool) {
	var (
		best  split
		found bool
		n     = len(idx)
	)
	if parentSSE <= minGain {
		return best, false
	}

	sorted := make([]int, n)
	for _, f := range b.candidates() {
		inc := b.increasing(f)
		copy(sorted, idx)
		slices.SortStableFunc(sorted, func(a, c int) int {
			return cmp.Compare(b.x[a][f], b.x[c][f])
		})

		var totalSum, totalSq float64
		for _, j := range sorted {
			totalSum += b.y[j]
			totalSq += b.y[j] * b.y[j]
		}

		var leftSum, leftSq float64
		for i := 0; i < n-1; i++ {
			yi := b.y[sorted[i]]
			leftSum += yi
			leftSq += yi * yi

			nl := i + 1
			nr := n - nl
			if nl < b.cfg.MinSamplesLeaf || nr < b.cfg.MinSamplesLeaf {
				continue
			}
			lo := b.x[sorted[i]][f]
			hi := b.x[sorted[i+1]][f]
			if lo == hi {
				continue
			}

			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			lv := bd.clip(leftSum / float64(nl))
			rv := bd.clip(rightSum / float64(nr))
			if inc && lv > rv {
				continue
			}

			childSSE := max(0, leftSq-leftSum*leftSum/float64(nl)) +
				max(0, rightSq-rightSum*rightSum/float64(nr))
			gain := parentSSE - childSSE
			if gain > minGain && (!found || gain > best.gain) {
				found = true
				thr := lo + (hi-lo)/2
				if thr >= hi {
					thr = lo
				}
				best = split{feature: f, threshold: thr, gain: gain, leftValue: lv, rightValue: rv}
			}
		}
	}

	if !found {
		return best, false
	}

	for _, j := range idx {
		if b.x[j][best.feature] <= best.threshold {
			best.left = append(best.left, j)
		} else {
			best.right = append(best.right, j)
		}
	}
	return best, true
}

func sse(vals []float64, mean float64) float64 {
	d := make([]float64, len(vals))
	copy(d, vals)
	floats.AddConst(-mean, d)
	return floats.Dot(d, d)
}
