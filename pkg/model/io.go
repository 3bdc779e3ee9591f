package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	BundleFileName = "regret_bundle.json"

	dirMode = 0o755
)

// Save writes the bundle to path. The file is replaced atomically.
func Save(path string, b *Bundle) error {
	if path == "" {
		return errors.New("bundle path required")
	}
	if b == nil {
		return errors.New("bundle required")
	}
	if err := b.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bundle-*")
	if err != nil {
		return fmt.Errorf("create temp bundle: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(b); err != nil {
		tmp.Close()
		return fmt.Errorf("encode bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write bundle %s: %w", path, err)
	}

	slog.Debug("bundle saved", "path", path, "trees", len(b.Forest.Trees))
	return nil
}

// Load reads and validates the bundle at path.
func Load(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open bundle %s: %w", path, err)
	}
	defer f.Close()

	var b Bundle
	if err := json.NewDecoder(f).Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrSchemaMismatch, path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	slog.Debug("bundle loaded", "path", path, "mae", b.MAE, "trained_at", b.TrainedAt)
	return &b, nil
}
