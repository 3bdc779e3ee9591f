package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mchmarny/regretguard/pkg/dataset"
	"github.com/mchmarny/regretguard/pkg/forest"
	"github.com/mchmarny/regretguard/pkg/model"
	"github.com/mchmarny/regretguard/pkg/net"
	urfave "github.com/urfave/cli/v2"
)

var (
	dataFlag = &urfave.StringFlag{
		Name:  "data",
		Usage: "Transaction history CSV path or http(s) URL (default: from config)",
	}

	treesFlag = &urfave.IntFlag{
		Name:  "trees",
		Usage: "Number of trees in the forest (default: from config)",
	}

	workersFlag = &urfave.IntFlag{
		Name:  "workers",
		Usage: "Number of trees fitted concurrently (default: number of CPUs)",
	}

	trainCmd = &urfave.Command{
		Name:    "train",
		Aliases: []string{"t"},
		Usage:   "Train the regret model and write the bundle",
		UsageText: `regretguard train                                   # train on data/transaction_history.csv
   regretguard train --db data/history.db              # train on rows stored in Sqlite
   regretguard train --data https://host/history.csv   # train on a remote CSV`,
		Action: cmdTrain,
		Flags: []urfave.Flag{
			dataFlag,
			dbFlag,
			treesFlag,
			workersFlag,
			seedFlag,
			outFlag,
		},
	}
)

type trainResult struct {
	Bundle      string                    `json:"bundle" yaml:"bundle"`
	Source      string                    `json:"source" yaml:"source"`
	TrainRows   int                       `json:"train_rows" yaml:"train_rows"`
	TestRows    int                       `json:"test_rows" yaml:"test_rows"`
	Trees       int                       `json:"trees" yaml:"trees"`
	MAE         float64                   `json:"mae" yaml:"mae"`
	Importances []model.FeatureImportance `json:"importances" yaml:"importances"`
	Duration    string                    `json:"duration" yaml:"duration"`
}

func cmdTrain(c *urfave.Context) error {
	cfg := getConfig(c).Config

	rows, source, err := loadHistory(c)
	if err != nil {
		return err
	}

	tbl, err := dataset.NewTable(rows)
	if err != nil {
		return fmt.Errorf("building feature table from %s: %w", source, err)
	}

	opt := model.TrainOptions{
		Forest: forest.Config{
			Trees:           cfg.Model.Trees,
			MaxDepth:        cfg.Model.MaxDepth,
			MinSamplesSplit: forest.MinSamplesSplitDefault,
			MinSamplesLeaf:  forest.MinSamplesLeafDefault,
			Workers:         cfg.Model.Workers,
		},
		TestFraction: cfg.Model.TestFraction,
		Seed:         cfg.Model.Seed,
	}
	if c.IsSet(treesFlag.Name) {
		opt.Forest.Trees = c.Int(treesFlag.Name)
	}
	if c.IsSet(workersFlag.Name) {
		opt.Forest.Workers = c.Int(workersFlag.Name)
	}
	if c.IsSet(seedFlag.Name) {
		opt.Seed = c.Int64(seedFlag.Name)
	}

	start := time.Now()
	slog.Info("training model", "rows", tbl.Len(), "trees", opt.Forest.Trees, "source", source)
	b, err := model.Train(c.Context, tbl, opt)
	if err != nil {
		return fmt.Errorf("training model: %w", err)
	}

	out := cfg.BundlePath()
	if v := c.String(outFlag.Name); v != "" {
		out = v
	}
	if err := model.Save(out, b); err != nil {
		return fmt.Errorf("saving bundle: %w", err)
	}
	slog.Info("model trained", "mae", fmt.Sprintf("%.2f", b.MAE), "bundle", out)

	return encode(c.App.Writer, &trainResult{
		Bundle:      out,
		Source:      source,
		TrainRows:   b.TrainRows,
		TestRows:    b.TestRows,
		Trees:       len(b.Forest.Trees),
		MAE:         b.MAE,
		Importances: b.Importances(),
		Duration:    time.Since(start).String(),
	})
}

// loadHistory reads training rows from --db, a remote --data URL, or a local CSV.
func loadHistory(c *urfave.Context) ([]dataset.Row, string, error) {
	if dbPath := c.String(dbFlag.Name); dbPath != "" {
		rows, err := loadHistoryDB(dbPath)
		return rows, dbPath, err
	}

	src := getConfig(c).Config.HistoryPath()
	if v := c.String(dataFlag.Name); v != "" {
		src = v
	}

	path := src
	if net.IsRemote(src) {
		slog.Info("downloading history", "url", src)
		p, cleanup, err := net.Fetch(c.Context, src)
		if err != nil {
			return nil, src, fmt.Errorf("downloading %s: %w", src, err)
		}
		defer cleanup()
		path = p
	}

	rows, err := dataset.LoadCSV(path)
	if err != nil {
		return nil, src, fmt.Errorf("reading history (run generate first?): %w", err)
	}
	return rows, src, nil
}
