package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"spindle/pkg/errs"
)

const (
	appDirName     = "spindle"
	configFileName = "config.yaml"
)

// DefaultPath returns the per-user config file location,
// e.g. ~/.config/spindle/config.yaml on Linux.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errs.Wrap(errs.KindPersistence, "locate user config dir", err)
	}
	return filepath.Join(base, appDirName, configFileName), nil
}

// Load reads a config file. A missing file is not an error: the
// defaults are returned so first runs work without any setup.
func Load(path string) (BenchmarkConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return BenchmarkConfig{}, errs.Wrap(errs.KindPersistence, "read config", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return BenchmarkConfig{}, errs.Wrap(errs.KindPersistence, "parse config", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories.
func Save(path string, cfg BenchmarkConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, "marshal config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errs.Wrap(errs.KindPersistence, "create config dir", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errs.Wrap(errs.KindPersistence, "write config", err)
	}
	return nil
}

// applyDefaults fills zero-value fields so partial config files stay
// usable across upgrades.
func applyDefaults(cfg *BenchmarkConfig) {
	def := Default()
	if cfg.TargetDir == "" {
		cfg.TargetDir = def.TargetDir
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.FileSize == 0 {
		cfg.FileSize = def.FileSize
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = cfg.Mode.DefaultBlockSize()
	}
	if cfg.Duration == 0 {
		cfg.Duration = def.Duration
	}
	if cfg.Workers == 0 {
		cfg.Workers = cfg.Mode.DefaultWorkers()
	}
	if cfg.Mode == Mixed && cfg.ReadRatio == 0 {
		cfg.ReadRatio = 0.5
	}
}
