package dataset

import (
	"context"
	"math"
	"math/rand"

	"github.com/mchmarny/regretguard/pkg/feature"
)

// Sampling ranges of the synthetic generator.
const (
	MinPrice   = 5.0
	MaxPrice   = 2000.0
	MinBalance = 100.0
	MaxBalance = 10000.0
	MinSleep   = 3.0
	MaxSleep   = 12.0

	LimitedOfferChance = 0.3
	NoiseStdDev        = 5.0

	// ground truth weights
	relativePriceWeight = 60.0
	merchantRiskWeight  = 40.0
	impulsivityWeight   = 5.0

	RowsDefault = 1000
	SeedDefault = 42
)

// Synthesizer produces labeled transaction history from a fixed seed.
type Synthesizer struct {
	rows int
	seed int64
}

// NewSynthesizer returns a synthesizer for n rows. Non-positive n falls back to RowsDefault.
func NewSynthesizer(n int, seed int64) *Synthesizer {
	if n <= 0 {
		n = RowsDefault
	}
	return &Synthesizer{rows: n, seed: seed}
}

// Generate draws the rows. Two calls with the same seed return identical rows.
func (s *Synthesizer) Generate(ctx context.Context) ([]Row, error) {
	r := rand.New(rand.NewSource(s.seed))
	rows := make([]Row, s.rows)

	for i := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c := feature.Context{
			Price:             round(MinPrice+r.Float64()*(MaxPrice-MinPrice), 2),
			AccountBalance:    round(MinBalance+r.Float64()*(MaxBalance-MinBalance), 2),
			MoodScore:         1 + r.Intn(10),
			IsLimitedOffer:    r.Float64() < LimitedOfferChance,
			SleepHours:        round(MinSleep+r.Float64()*(MaxSleep-MinSleep), 1),
			MerchantRiskScore: feature.MerchantRiskLevels[r.Intn(len(feature.MerchantRiskLevels))],
		}
		noise := r.NormFloat64() * NoiseStdDev

		rows[i] = Row{
			Context:     c,
			RegretScore: clip(round(GroundTruth(c)+noise, 2), 0, 100),
		}
	}

	return rows, nil
}

// GroundTruth is the noiseless labeling formula. It is only used to label
// synthetic data; scoring always goes through the fitted estimator.
func GroundTruth(c feature.Context) float64 {
	e := feature.Derive(c)
	return relativePriceWeight*math.Min(e.RelativePrice, 1) +
		merchantRiskWeight*c.MerchantRiskScore +
		impulsivityWeight*e.ImpulsivityIndex
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
