package model

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/mchmarny/regretguard/pkg/dataset"
	"github.com/mchmarny/regretguard/pkg/feature"
	"github.com/mchmarny/regretguard/pkg/forest"
	"gonum.org/v1/gonum/stat"
)

const (
	// SchemaVersion is bumped whenever the bundle layout changes.
	SchemaVersion = 1

	TestFractionDefault = 0.2
)

var (
	// ErrMissingArtifact is returned when no bundle exists at the given path.
	ErrMissingArtifact = errors.New("model bundle not found, run the trainer first")

	// ErrSchemaMismatch is returned when a bundle expects a different feature layout.
	ErrSchemaMismatch = errors.New("model bundle schema mismatch")
)

// Bundle is the trained artifact handed from the trainer to the scorer.
type Bundle struct {
	SchemaVersion int            `json:"schema_version"`
	Features      []string       `json:"features"`
	MAE           float64        `json:"mae"`
	TrainRows     int            `json:"train_rows"`
	TestRows      int            `json:"test_rows"`
	Seed          int64          `json:"seed"`
	TrainedAt     time.Time      `json:"trained_at"`
	Forest        *forest.Forest `json:"forest"`
}

// FeatureImportance pairs a feature with its share of the forest's impurity decrease.
type FeatureImportance struct {
	Name       string  `json:"name" yaml:"name"`
	Importance float64 `json:"importance" yaml:"importance"`
}

// TrainOptions configures Train.
type TrainOptions struct {
	Forest       forest.Config
	TestFraction float64
	Seed         int64
}

// DefaultTrainOptions returns the 80/20 split and a 100 tree forest.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Forest:       forest.DefaultConfig(),
		TestFraction: TestFractionDefault,
		Seed:         42,
	}
}

// Train splits the table, fits the forest on the training part and reports
// the mean absolute error on the held-out part.
func Train(ctx context.Context, t *dataset.Table, opt TrainOptions) (*Bundle, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !feature.SameOrder(t.Columns) {
		return nil, fmt.Errorf("%w: table columns %v", ErrSchemaMismatch, t.Columns)
	}
	if opt.TestFraction <= 0 || opt.TestFraction >= 1 {
		opt.TestFraction = TestFractionDefault
	}

	n := t.Len()
	nTest := int(math.Ceil(float64(n) * opt.TestFraction))
	if nTest < 1 || n-nTest < 1 {
		return nil, fmt.Errorf("%w: %d rows is too few to split", dataset.ErrDataSchema, n)
	}

	perm := rand.New(rand.NewSource(opt.Seed)).Perm(n)
	test := t.Subset(perm[:nTest])
	train := t.Subset(perm[nTest:])

	fcfg := opt.Forest
	fcfg.Seed = opt.Seed
	if fcfg.Monotonic == nil {
		fcfg.Monotonic = feature.Increasing()
	}
	start := time.Now()
	f, err := forest.Fit(ctx, train.X, train.Y, fcfg)
	if err != nil {
		return nil, fmt.Errorf("fitting forest: %w", err)
	}

	b := &Bundle{
		SchemaVersion: SchemaVersion,
		Features:      slices.Clone(t.Columns),
		TrainRows:     train.Len(),
		TestRows:      test.Len(),
		Seed:          opt.Seed,
		TrainedAt:     time.Now().UTC(),
		Forest:        f,
	}

	b.MAE, err = b.meanAbsoluteError(test)
	if err != nil {
		return nil, err
	}

	slog.Debug("model trained",
		"train_rows", b.TrainRows,
		"test_rows", b.TestRows,
		"trees", len(f.Trees),
		"mae", b.MAE,
		"duration", time.Since(start).String(),
	)
	return b, nil
}

func (b *Bundle) meanAbsoluteError(t *dataset.Table) (float64, error) {
	errs := make([]float64, t.Len())
	for i, x := range t.X {
		p, err := b.Forest.Predict(x)
		if err != nil {
			return 0, fmt.Errorf("predicting held-out row %d: %w", i, err)
		}
		errs[i] = math.Abs(t.Y[i] - p)
	}
	return stat.Mean(errs, nil), nil
}

// Predict scores a canonical feature vector, reordering it to the bundle's declared columns.
func (b *Bundle) Predict(vec []float64) (float64, error) {
	x, err := feature.Ordered(vec, b.Features)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return b.Forest.Predict(x)
}

// Importances returns the features ranked by importance, highest first.
// Ties keep the bundle's column order.
func (b *Bundle) Importances() []FeatureImportance {
	list := make([]FeatureImportance, len(b.Features))
	for i, name := range b.Features {
		list[i] = FeatureImportance{Name: name, Importance: b.Forest.Importances[i]}
	}
	slices.SortStableFunc(list, func(a, c FeatureImportance) int {
		return cmp.Compare(c.Importance, a.Importance)
	})
	return list
}

// Validate checks that the bundle matches the feature layout this build computes.
func (b *Bundle) Validate() error {
	if b.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: bundle version %d, expected %d", ErrSchemaMismatch, b.SchemaVersion, SchemaVersion)
	}
	if !feature.SameOrder(b.Features) {
		return fmt.Errorf("%w: bundle features %v, expected %v", ErrSchemaMismatch, b.Features, feature.Names())
	}
	if b.Forest == nil {
		return fmt.Errorf("%w: bundle has no estimator", ErrSchemaMismatch)
	}
	if b.Forest.NumFeatures != len(b.Features) {
		return fmt.Errorf("%w: estimator expects %d features, bundle lists %d",
			ErrSchemaMismatch, b.Forest.NumFeatures, len(b.Features))
	}
	if err := b.Forest.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return nil
}
