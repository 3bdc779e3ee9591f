package score

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mchmarny/regretguard/pkg/feature"
	"github.com/mchmarny/regretguard/pkg/model"
)

// Classification cutoffs on the 0-100 regret scale.
const (
	LowThreshold  = 40.0
	HighThreshold = 60.0

	TopKDefault = 3

	minScore = 0.0
	maxScore = 100.0
)

// Level is the caller-facing risk band of a score.
type Level string

const (
	LevelLow     Level = "low"
	LevelCaution Level = "caution"
	LevelHigh    Level = "high"
)

// Thresholds holds the two cutoffs separating the low, caution and high bands.
type Thresholds struct {
	Low  float64 `json:"low" yaml:"low"`
	High float64 `json:"high" yaml:"high"`
}

// DefaultThresholds returns the LowThreshold/HighThreshold pair.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: LowThreshold, High: HighThreshold}
}

// Classify maps a score to its band. Scores above High are high risk,
// scores above Low are caution, everything else is low.
func (t Thresholds) Classify(s float64) Level {
	switch {
	case s > t.High:
		return LevelHigh
	case s > t.Low:
		return LevelCaution
	default:
		return LevelLow
	}
}

// Assessment is the response to one scoring request.
type Assessment struct {
	Context     feature.Context           `json:"context" yaml:"context"`
	Features    feature.Engineered        `json:"features" yaml:"features"`
	RegretScore float64                   `json:"regret_score" yaml:"regret_score"`
	Level       Level                     `json:"level" yaml:"level"`
	TopFeatures []string                  `json:"top_features" yaml:"top_features"`
	Drivers     []model.FeatureImportance `json:"drivers,omitempty" yaml:"drivers,omitempty"`
}

// HighRisk reports whether the assessment is in the high band.
func (a *Assessment) HighRisk() bool {
	return a != nil && a.Level == LevelHigh
}

// Scorer answers scoring requests against a loaded bundle. It holds no
// mutable state and is safe for concurrent use.
type Scorer struct {
	bundle     *model.Bundle
	thresholds Thresholds
	topK       int
	ranking    []model.FeatureImportance
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithThresholds overrides the classification cutoffs.
func WithThresholds(t Thresholds) Option {
	return func(s *Scorer) {
		s.thresholds = t
	}
}

// WithTopK sets how many features are returned as top drivers.
func WithTopK(k int) Option {
	return func(s *Scorer) {
		if k > 0 {
			s.topK = k
		}
	}
}

// New creates a Scorer for b.
func New(b *model.Bundle, opts ...Option) (*Scorer, error) {
	if b == nil {
		return nil, model.ErrMissingArtifact
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	s := &Scorer{
		bundle:     b,
		thresholds: DefaultThresholds(),
		topK:       TopKDefault,
	}
	for _, o := range opts {
		o(s)
	}
	if s.thresholds.Low > s.thresholds.High {
		return nil, fmt.Errorf("low threshold %.1f is above high threshold %.1f", s.thresholds.Low, s.thresholds.High)
	}
	s.ranking = b.Importances()
	return s, nil
}

// Load reads the bundle at path and wraps it in a Scorer.
func Load(path string, opts ...Option) (*Scorer, error) {
	b, err := model.Load(path)
	if err != nil {
		return nil, err
	}
	return New(b, opts...)
}

// Bundle returns the underlying bundle.
func (s *Scorer) Bundle() *model.Bundle {
	return s.bundle
}

// Thresholds returns the classification cutoffs in use.
func (s *Scorer) Thresholds() Thresholds {
	return s.thresholds
}

// Score validates c, derives its features, and predicts the regret score.
func (s *Scorer) Score(c feature.Context) (*Assessment, error) {
	if err := feature.Validate(c); err != nil {
		return nil, err
	}

	raw, err := s.bundle.Predict(feature.Vector(c))
	if err != nil {
		if errors.Is(err, model.ErrSchemaMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("predicting regret score: %w", err)
	}
	if math.IsNaN(raw) {
		return nil, fmt.Errorf("%w: estimator returned NaN", model.ErrSchemaMismatch)
	}

	score := math.Max(minScore, math.Min(maxScore, raw))
	a := &Assessment{
		Context:     c,
		Features:    feature.Derive(c),
		RegretScore: score,
		Level:       s.thresholds.Classify(score),
		TopFeatures: s.TopFeatures(),
		Drivers:     s.Ranking(),
	}

	slog.Debug("scored transaction",
		"price", c.Price,
		"score", fmt.Sprintf("%.2f", score),
		"level", a.Level,
	)
	return a, nil
}

// TopFeatures returns the names of the K most important features.
func (s *Scorer) TopFeatures() []string {
	k := min(s.topK, len(s.ranking))
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = s.ranking[i].Name
	}
	return out
}

// Ranking returns a copy of the full importance ranking.
func (s *Scorer) Ranking() []model.FeatureImportance {
	out := make([]model.FeatureImportance, len(s.ranking))
	copy(out, s.ranking)
	return out
}
