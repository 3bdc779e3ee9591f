package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const (
	EnvPrefix      = "REGRETGUARD_"
	ConfigFileName = "config.yaml"

	dirMode  = 0700
	fileMode = 0600
)

// Config holds the settings shared by the trainer and the viewer.
type Config struct {
	LogLevel string        `koanf:"log_level" yaml:"log_level"`
	Data     DataConfig    `koanf:"data" yaml:"data"`
	Model    ModelConfig   `koanf:"model" yaml:"model"`
	Scoring  ScoringConfig `koanf:"scoring" yaml:"scoring"`
	Server   ServerConfig  `koanf:"server" yaml:"server"`
}

// DataConfig describes where synthetic history is written and read.
type DataConfig struct {
	Dir         string `koanf:"dir" yaml:"dir"`
	HistoryFile string `koanf:"history_file" yaml:"history_file"`
	Rows        int    `koanf:"rows" yaml:"rows"`
	Seed        int64  `koanf:"seed" yaml:"seed"`
}

// ModelConfig controls training and the bundle location.
type ModelConfig struct {
	BundleFile   string  `koanf:"bundle_file" yaml:"bundle_file"`
	Trees        int     `koanf:"trees" yaml:"trees"`
	MaxDepth     int     `koanf:"max_depth" yaml:"max_depth"`
	Workers      int     `koanf:"workers" yaml:"workers"`
	TestFraction float64 `koanf:"test_fraction" yaml:"test_fraction"`
	Seed         int64   `koanf:"seed" yaml:"seed"`
}

// ScoringConfig holds the caller-visible classification policy.
type ScoringConfig struct {
	LowThreshold  float64 `koanf:"low_threshold" yaml:"low_threshold"`
	HighThreshold float64 `koanf:"high_threshold" yaml:"high_threshold"`
	TopK          int     `koanf:"top_k" yaml:"top_k"`
}

// ServerConfig controls the local viewer.
type ServerConfig struct {
	Port           int  `koanf:"port" yaml:"port"`
	MetricsEnabled bool `koanf:"metrics_enabled" yaml:"metrics_enabled"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Data: DataConfig{
			Dir:         "data",
			HistoryFile: "transaction_history.csv",
			Rows:        1000,
			Seed:        42,
		},
		Model: ModelConfig{
			BundleFile:   "regret_bundle.json",
			Trees:        100,
			TestFraction: 0.2,
			Seed:         42,
		},
		Scoring: ScoringConfig{
			LowThreshold:  40,
			HighThreshold: 60,
			TopK:          3,
		},
		Server: ServerConfig{
			Port:           8080,
			MetricsEnabled: true,
		},
	}
}

// HistoryPath returns the CSV history location.
func (c *Config) HistoryPath() string {
	return resolve(c.Data.Dir, c.Data.HistoryFile)
}

// BundlePath returns the model bundle location.
func (c *Config) BundlePath() string {
	return resolve(c.Data.Dir, c.Model.BundleFile)
}

func resolve(dir, name string) string {
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Data.Rows <= 0 {
		return fmt.Errorf("data.rows must be positive, got %d", c.Data.Rows)
	}
	if c.Model.Trees <= 0 {
		return fmt.Errorf("model.trees must be positive, got %d", c.Model.Trees)
	}
	if c.Model.TestFraction <= 0 || c.Model.TestFraction >= 1 {
		return fmt.Errorf("model.test_fraction must be in (0,1), got %v", c.Model.TestFraction)
	}
	if c.Scoring.LowThreshold > c.Scoring.HighThreshold {
		return fmt.Errorf("scoring.low_threshold %v is above scoring.high_threshold %v",
			c.Scoring.LowThreshold, c.Scoring.HighThreshold)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}

// Load layers defaults, the optional YAML file at path and REGRETGUARD_* environment variables.
// A missing file is not an error; an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	// REGRETGUARD_MODEL__BUNDLE_FILE -> model.bundle_file
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes c as YAML into dirPath.
func Save(dirPath string, c *Config) error {
	if dirPath == "" {
		return errors.New("config directory required")
	}
	if c == nil {
		return errors.New("config required")
	}
	if err := os.MkdirAll(dirPath, dirMode); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", dirPath, err)
	}
	b, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(dirPath, ConfigFileName)
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// ReadOrCreate loads the config in dirPath, writing the defaults first if none exists.
func ReadOrCreate(dirPath string) (*Config, error) {
	if dirPath == "" {
		return nil, errors.New("config directory required")
	}

	path := filepath.Join(dirPath, ConfigFileName)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(dirPath, Default()); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	return Load(path)
}
