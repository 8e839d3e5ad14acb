package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8791
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/leafid/data/db/records.db"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = "/usr/local/var/leafid/data/indices/keyword"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.ZoomLevels == nil {
		cfg.Embedding.ZoomLevels = []float64{1.5, 2.2}
	}
	if cfg.Identify.DistanceCeiling == 0 {
		cfg.Identify.DistanceCeiling = 0.25
	}
	if cfg.Identify.TightenRatio == 0 {
		cfg.Identify.TightenRatio = 1.40
	}
	if cfg.Identify.TopK == 0 {
		cfg.Identify.TopK = 10
	}
	if cfg.Index.Name == "" {
		cfg.Index.Name = "plants-live"
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 5
	}
	if cfg.Index.YieldInterval == 0 {
		cfg.Index.YieldInterval = 200 * time.Millisecond
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".yaml", ".yml"}
	}
}
