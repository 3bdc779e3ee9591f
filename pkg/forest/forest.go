package forest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

const (
	TreesDefault           = 100
	MinSamplesSplitDefault = 2
	MinSamplesLeafDefault  = 1

	importanceTolerance = 1e-6

	// seedStride spaces per-tree seeds so neighbouring trees do not share bootstrap draws.
	seedStride = 7919
)

// ErrInvalidData is returned when the training matrix is empty or ragged.
var ErrInvalidData = errors.New("invalid training data")

// Config controls forest fitting.
type Config struct {
	Trees           int
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 means all features at every split
	Seed            int64
	Workers         int // 0 means runtime.NumCPU()

	// Monotonic holds one entry per feature: 1 forces predictions to be
	// non-decreasing in that feature, 0 leaves it unconstrained.
	Monotonic []int
}

// DefaultConfig mirrors a stock random-forest regressor.
func DefaultConfig() Config {
	return Config{
		Trees:           TreesDefault,
		MinSamplesSplit: MinSamplesSplitDefault,
		MinSamplesLeaf:  MinSamplesLeafDefault,
		Seed:            42,
	}
}

func (c Config) normalized() Config {
	if c.Trees <= 0 {
		c.Trees = TreesDefault
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = MinSamplesSplitDefault
	}
	if c.MinSamplesLeaf < 1 {
		c.MinSamplesLeaf = MinSamplesLeafDefault
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	return c
}

// Forest is an ensemble of bagged regression trees.
type Forest struct {
	NumFeatures int       `json:"num_features"`
	Trees       []*Tree   `json:"trees"`
	Importances []float64 `json:"importances"`
}

// Fit trains a forest on x (rows of equal width) and targets y.
// Each tree draws its bootstrap sample from its own seeded source, so the
// result does not depend on how trees are scheduled across workers.
func Fit(ctx context.Context, x [][]float64, y []float64, cfg Config) (*Forest, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d targets", ErrInvalidData, len(x), len(y))
	}
	nf := len(x[0])
	if nf == 0 {
		return nil, fmt.Errorf("%w: rows have no features", ErrInvalidData)
	}
	for i := range x {
		if len(x[i]) != nf {
			return nil, fmt.Errorf("%w: row %d has %d features, expected %d", ErrInvalidData, i, len(x[i]), nf)
		}
	}

	if cfg.Monotonic != nil {
		if len(cfg.Monotonic) != nf {
			return nil, fmt.Errorf("%w: %d monotonic constraints for %d features", ErrInvalidData, len(cfg.Monotonic), nf)
		}
		for j, c := range cfg.Monotonic {
			if c != 0 && c != 1 {
				return nil, fmt.Errorf("%w: feature %d has unsupported monotonic constraint %d", ErrInvalidData, j, c)
			}
		}
	}

	cfg = cfg.normalized()
	slog.Debug("fitting forest", "trees", cfg.Trees, "rows", len(x), "features", nf, "workers", cfg.Workers)

	trees := make([]*Tree, cfg.Trees)
	imps := make([][]float64, cfg.Trees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i := 0; i < cfg.Trees; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(cfg.Seed + int64(i)*seedStride))
			sample := make([]int, len(x))
			for k := range sample {
				sample[k] = rng.Intn(len(x))
			}
			b := newBuilder(cfg, x, y, rng)
			trees[i] = b.build(sample)
			imps[i] = b.importance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Forest{
		NumFeatures: nf,
		Trees:       trees,
		Importances: averageImportances(imps, nf),
	}, nil
}

// Predict averages the predictions of all trees.
func (f *Forest) Predict(x []float64) (float64, error) {
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("%w: got %d features, expected %d", ErrInvalidData, len(x), f.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return 0, fmt.Errorf("%w: forest has no trees", ErrInvalidData)
	}
	var sum float64
	for _, t := range f.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// Validate checks the structure of a forest, e.g. after decoding.
func (f *Forest) Validate() error {
	if f == nil || len(f.Trees) == 0 {
		return fmt.Errorf("%w: forest has no trees", ErrInvalidData)
	}
	if f.NumFeatures <= 0 {
		return fmt.Errorf("%w: forest declares %d features", ErrInvalidData, f.NumFeatures)
	}
	if len(f.Importances) != f.NumFeatures {
		return fmt.Errorf("%w: %d importances for %d features", ErrInvalidData, len(f.Importances), f.NumFeatures)
	}
	for j, v := range f.Importances {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: importance %d is %v", ErrInvalidData, j, v)
		}
	}
	if sum := floats.Sum(f.Importances); math.Abs(sum-1) > importanceTolerance {
		return fmt.Errorf("%w: importances sum to %v, expected 1", ErrInvalidData, sum)
	}
	for i, t := range f.Trees {
		if t == nil {
			return fmt.Errorf("%w: tree %d is nil", ErrInvalidData, i)
		}
		if err := t.validate(f.NumFeatures); err != nil {
			return fmt.Errorf("%w: tree %d: %v", ErrInvalidData, i, err)
		}
	}
	return nil
}

// averageImportances normalizes each tree's impurity decrease, averages the
// trees and renormalizes so the result sums to 1.
func averageImportances(perTree [][]float64, nf int) []float64 {
	out := make([]float64, nf)
	for _, imp := range perTree {
		total := floats.Sum(imp)
		if total <= 0 {
			continue
		}
		for j, v := range imp {
			out[j] += v / total
		}
	}

	total := floats.Sum(out)
	if total <= 0 {
		floats.AddConst(1/float64(nf), out)
		return out
	}
	floats.Scale(1/total, out)
	return out
}
