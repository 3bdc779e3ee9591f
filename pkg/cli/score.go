package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mchmarny/regretguard/pkg/config"
	"github.com/mchmarny/regretguard/pkg/feature"
	"github.com/mchmarny/regretguard/pkg/net"
	"github.com/mchmarny/regretguard/pkg/score"
	urfave "github.com/urfave/cli/v2"
)

var (
	bundleFlag = &urfave.StringFlag{
		Name:  "bundle",
		Usage: "Path or http(s) URL of the model bundle (default: from config)",
	}

	priceFlag = &urfave.Float64Flag{
		Name:     "price",
		Usage:    "Purchase price",
		Required: true,
	}

	balanceFlag = &urfave.Float64Flag{
		Name:     "balance",
		Usage:    "Current account balance",
		Required: true,
	}

	moodFlag = &urfave.IntFlag{
		Name:  "mood",
		Usage: "Mood score (1-10)",
		Value: 6,
	}

	sleepFlag = &urfave.Float64Flag{
		Name:  "sleep",
		Usage: "Hours slept last night (3-12)",
		Value: 7.5,
	}

	limitedOfferFlag = &urfave.BoolFlag{
		Name:    "limited-offer",
		Aliases: []string{"flash-sale"},
		Usage:   "Purchase is a time-limited offer",
	}

	merchantRiskFlag = &urfave.Float64Flag{
		Name:  "merchant-risk",
		Usage: fmt.Sprintf("Merchant category risk in [0,1] (presets: %s)", joinLevels(feature.MerchantRiskLevels)),
		Value: 0.15,
	}

	scoreCmd = &urfave.Command{
		Name:    "score",
		Aliases: []string{"s"},
		Usage:   "Score a single purchase for regret risk",
		UsageText: `regretguard score --price 150 --balance 1250
   regretguard score --price 900 --balance 1250 --mood 2 --sleep 4 --flash-sale --merchant-risk 0.5`,
		Action: cmdScore,
		Flags: []urfave.Flag{
			bundleFlag,
			priceFlag,
			balanceFlag,
			moodFlag,
			sleepFlag,
			limitedOfferFlag,
			merchantRiskFlag,
		},
	}
)

func cmdScore(c *urfave.Context) error {
	cfg := getConfig(c).Config

	s, err := loadScorer(c.Context, cfg, c.String(bundleFlag.Name))
	if err != nil {
		return err
	}

	a, err := s.Score(feature.Context{
		Price:             c.Float64(priceFlag.Name),
		AccountBalance:    c.Float64(balanceFlag.Name),
		MoodScore:         c.Int(moodFlag.Name),
		IsLimitedOffer:    c.Bool(limitedOfferFlag.Name),
		SleepHours:        c.Float64(sleepFlag.Name),
		MerchantRiskScore: c.Float64(merchantRiskFlag.Name),
	})
	if err != nil {
		return fmt.Errorf("scoring purchase: %w", err)
	}

	return encode(c.App.Writer, a)
}

// loadScorer opens the bundle at path, or the configured bundle when path is
// empty. Remote bundles are downloaded to a temp file first.
func loadScorer(ctx context.Context, cfg *config.Config, path string) (*score.Scorer, error) {
	if path == "" {
		path = cfg.BundlePath()
	}
	if net.IsRemote(path) {
		slog.Info("downloading bundle", "url", path)
		p, cleanup, err := net.Fetch(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", path, err)
		}
		defer cleanup()
		path = p
	}

	s, err := score.Load(path,
		score.WithThresholds(score.Thresholds{
			Low:  cfg.Scoring.LowThreshold,
			High: cfg.Scoring.HighThreshold,
		}),
		score.WithTopK(cfg.Scoring.TopK),
	)
	if err != nil {
		return nil, fmt.Errorf("loading model (run train first?): %w", err)
	}
	return s, nil
}

func joinLevels(levels []float64) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("%.2f", l)
	}
	return strings.Join(parts, ", ")
}
