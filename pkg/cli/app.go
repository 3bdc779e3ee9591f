package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mchmarny/regretguard/pkg/config"
	"github.com/mchmarny/regretguard/pkg/logging"
	urfave "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

const (
	appName      = "regretguard"
	dirMode      = 0700
	appConfigKey = "app-config"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	outputFormat = formatJSON

	debugFlag = &urfave.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	configFlag = &urfave.StringFlag{
		Name:  "config",
		Usage: fmt.Sprintf("Path to the config file (optional, default: $HOME/.%s/%s)", appName, config.ConfigFileName),
	}

	dataDirFlag = &urfave.StringFlag{
		Name:  "data-dir",
		Usage: "Directory holding the transaction history and model bundle (overrides config)",
	}

	formatFlag = &urfave.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}
)

// Execute creates and runs the CLI application.
func Execute() {
	initLogging("info")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := newApp()
	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		cancel()
		os.Exit(1)
	}
}

type appConfig struct {
	Config *config.Config
	Debug  bool
}

func getConfig(c *urfave.Context) *appConfig {
	return c.App.Metadata[appConfigKey].(*appConfig)
}

func newApp() *urfave.App {
	return &urfave.App{
		Name:                 appName,
		Version:              fmt.Sprintf("%s (%s - %s)", version, commit, date),
		Compiled:             time.Now(),
		EnableBashCompletion: true,
		HideHelpCommand:      true,
		Usage:                "Score pending purchases for regret risk and park the risky ones in a cooling vault",
		Flags: []urfave.Flag{
			debugFlag,
			configFlag,
			dataDirFlag,
			formatFlag,
		},
		Commands: []*urfave.Command{
			generateCmd,
			trainCmd,
			scoreCmd,
			serverCmd,
		},
		Before: func(c *urfave.Context) error {
			f := c.String(formatFlag.Name)
			outputFormat = formatJSON
			if f == formatYAML || f == "yml" {
				outputFormat = formatYAML
			}

			var (
				cfg  *config.Config
				err  error
				path = c.String(configFlag.Name)
			)
			if path == "" {
				home := getHomeDir()
				path = filepath.Join(home, config.ConfigFileName)
				cfg, err = config.ReadOrCreate(home)
			} else {
				cfg, err = config.Load(path)
			}
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if dir := c.String(dataDirFlag.Name); dir != "" {
				cfg.Data.Dir = dir
			}

			debug := c.Bool(debugFlag.Name)
			if debug {
				cfg.LogLevel = "debug"
			}
			initLogging(cfg.LogLevel)

			c.App.Metadata[appConfigKey] = &appConfig{
				Config: cfg,
				Debug:  debug,
			}
			slog.Debug("config loaded", "path", path, "data_dir", cfg.Data.Dir)
			return nil
		},
	}
}

func initLogging(level string) {
	logging.SetDefaultCLILogger(level)
}

func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Debug("error getting home dir, using current dir instead", "error", err)
		return "."
	}

	dirPath := filepath.Join(home, "."+appName)
	if _, err := os.Stat(dirPath); errors.Is(err, os.ErrNotExist) {
		slog.Debug("creating dir", "path", dirPath)
		if err := os.Mkdir(dirPath, dirMode); err != nil {
			slog.Debug("error creating dir", "path", dirPath, "home", home, "error", err)
			return home
		}
	}
	return dirPath
}

func encode(w io.Writer, v any) error {
	if outputFormat == formatYAML {
		return yaml.NewEncoder(w).Encode(v)
	}
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
