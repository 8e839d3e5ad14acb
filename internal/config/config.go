// Package config provides configuration loading and structs for the leafid engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Identify  IdentifyConfig  `yaml:"identify"`
	Index     IndexConfig     `yaml:"index"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the record database and indexes.
type StorageConfig struct {
	DatabasePath     string `yaml:"database_path"`
	KeywordIndexPath string `yaml:"keyword_index_path"`
	// CatalogPath is the bundled precomputed-embedding artifact. Empty means
	// no precomputed catalog (live-index-only operation).
	CatalogPath string `yaml:"catalog_path"`
}

// EmbeddingConfig holds image embedder settings.
type EmbeddingConfig struct {
	ModelPath  string `yaml:"model_path"`
	Dimensions int    `yaml:"dimensions"`
	// ZoomLevels are the center-zoom factors tried, in order, when the
	// whole-frame query yields no confident match.
	ZoomLevels []float64 `yaml:"zoom_levels"`
}

// IdentifyConfig holds the similarity filtering policy. The ceiling and
// tighten ratio are tuned for the bundled embedding model; treat them as
// configuration, not constants.
type IdentifyConfig struct {
	// DistanceCeiling is the absolute cosine-distance admissibility cutoff.
	DistanceCeiling float64 `yaml:"distance_ceiling"`
	// TightenRatio drops matches worse than best-distance x ratio.
	TightenRatio float64 `yaml:"tighten_ratio"`
	TopK         int     `yaml:"top_k"`
}

// IndexConfig holds live vector index maintenance settings.
type IndexConfig struct {
	// Name of the live vector index. Empty disables live indexing.
	Name      string `yaml:"name"`
	BatchSize int    `yaml:"batch_size"`
	// YieldInterval is the cooperative pause between committed batches.
	YieldInterval time.Duration `yaml:"yield_interval"`
}

// WatchConfig holds record drop-directory sync settings.
type WatchConfig struct {
	// Directory is watched for YAML record files; empty disables watching.
	Directory  string   `yaml:"directory"`
	Extensions []string `yaml:"extensions"`
}

// Load reads and parses the config file at path, applies defaults, validates,
// and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	if cfg.Storage.CatalogPath != "" {
		cfg.Storage.CatalogPath = expandPath(cfg.Storage.CatalogPath, configDir)
	}
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	if cfg.Watch.Directory != "" {
		cfg.Watch.Directory = expandPath(cfg.Watch.Directory, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the filtering policy bounds.
func (c *Config) Validate() error {
	if c.Identify.DistanceCeiling <= 0 || c.Identify.DistanceCeiling > 2 {
		return fmt.Errorf("identify.distance_ceiling must be in (0, 2], got %v", c.Identify.DistanceCeiling)
	}
	if c.Identify.TightenRatio < 1 {
		return fmt.Errorf("identify.tighten_ratio must be >= 1, got %v", c.Identify.TightenRatio)
	}
	if c.Identify.TopK <= 0 {
		return fmt.Errorf("identify.top_k must be positive, got %d", c.Identify.TopK)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	for _, z := range c.Embedding.ZoomLevels {
		if z <= 1 {
			return fmt.Errorf("embedding.zoom_levels must be > 1, got %v", z)
		}
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if strings.HasPrefix(path, "~/") {
			return filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
		return filepath.Join(home, path)
	}
	return path
}
