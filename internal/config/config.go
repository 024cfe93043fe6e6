// Package config loads tsmove.yaml and the project descriptor
// (tsconfig.json / jsconfig.json).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"tsmove/internal/parse"
)

// FileName is the optional per-project configuration file.
const FileName = "tsmove.yaml"

// Config is the decoded tsmove.yaml.
type Config struct {
	// Extensions recognized as source files, primary first.
	Extensions []string `yaml:"extensions"`
	// Ignore holds extra gitignore-style patterns.
	Ignore []string     `yaml:"ignore"`
	Parse  parse.Budget `yaml:"parse"`
	Cache  CacheConfig  `yaml:"cache"`
	Git    GitConfig    `yaml:"git"`
	// Project is the descriptor path relative to the root. Empty means
	// tsconfig.json, then jsconfig.json.
	Project string `yaml:"project"`
}

// CacheConfig controls the declaration cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
}

// GitConfig controls staging of moves in the git index.
type GitConfig struct {
	Stage bool `yaml:"stage"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Parse: parse.DefaultBudget(),
		Cache: CacheConfig{Enabled: true},
	}
}

// Load reads root/tsmove.yaml. A missing file yields Default().
func Load(root string) (*Config, error) {
	return LoadFile(filepath.Join(root, FileName))
}

// LoadFile reads a configuration file. Keys absent from the file keep
// their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values that cannot be used.
func (c *Config) Validate() error {
	for _, ext := range c.Extensions {
		if ext == "" || ext == "." {
			return fmt.Errorf("extensions: empty entry")
		}
	}
	if c.Parse.MaxDepth < 0 || c.Parse.MaxSkippedNodes < 0 || c.Parse.Timeout < 0 {
		return fmt.Errorf("parse: limits must not be negative")
	}
	return nil
}
