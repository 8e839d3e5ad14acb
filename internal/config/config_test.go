package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	if cfg.Identify.DistanceCeiling != 0.25 {
		t.Errorf("DistanceCeiling = %v, want 0.25", cfg.Identify.DistanceCeiling)
	}
	if cfg.Identify.TightenRatio != 1.40 {
		t.Errorf("TightenRatio = %v, want 1.40", cfg.Identify.TightenRatio)
	}
	if cfg.Identify.TopK != 10 {
		t.Errorf("TopK = %d, want 10", cfg.Identify.TopK)
	}
	if cfg.Index.BatchSize != 5 {
		t.Errorf("BatchSize = %d, want 5", cfg.Index.BatchSize)
	}
	if cfg.Index.YieldInterval != 200*time.Millisecond {
		t.Errorf("YieldInterval = %v, want 200ms", cfg.Index.YieldInterval)
	}
	if cfg.Embedding.Dimensions != 512 {
		t.Errorf("Dimensions = %d, want 512", cfg.Embedding.Dimensions)
	}
	if len(cfg.Embedding.ZoomLevels) == 0 {
		t.Error("ZoomLevels should default to non-empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate_Bounds(t *testing.T) {
	base := func() *Config {
		var cfg Config
		ApplyDefaults(&cfg)
		return &cfg
	}

	cfg := base()
	cfg.Identify.DistanceCeiling = 2.5
	if err := cfg.Validate(); err == nil {
		t.Error("ceiling > 2 should be rejected")
	}

	cfg = base()
	cfg.Identify.TightenRatio = 0.9
	if err := cfg.Validate(); err == nil {
		t.Error("ratio < 1 should be rejected")
	}

	cfg = base()
	cfg.Embedding.ZoomLevels = []float64{0.5}
	if err := cfg.Validate(); err == nil {
		t.Error("zoom level <= 1 should be rejected")
	}
}

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`debug: true
server:
  port: 9000
identify:
  distance_ceiling: 0.3
storage:
  database_path: ./data/records.db
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug not loaded")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Identify.DistanceCeiling != 0.3 {
		t.Errorf("ceiling = %v, want 0.3", cfg.Identify.DistanceCeiling)
	}
	// Defaults fill unset fields.
	if cfg.Identify.TightenRatio != 1.40 {
		t.Errorf("ratio = %v, want default 1.40", cfg.Identify.TightenRatio)
	}
	// "./" paths resolve relative to the config directory.
	want := filepath.Join(dir, "data/records.db")
	if cfg.Storage.DatabasePath != want {
		t.Errorf("database path = %q, want %q", cfg.Storage.DatabasePath, want)
	}

	if err := Save(filepath.Join(dir, "out.yaml"), cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(filepath.Join(dir, "out.yaml")); err != nil {
		t.Fatalf("saved config should load: %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("identify:\n  distance_ceiling: 3.0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for out-of-range ceiling")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
