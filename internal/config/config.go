// Package config handles configuration loading for the spectral index server.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Query  QueryConfig  `yaml:"query"`
	Jobs   JobsConfig   `yaml:"jobs"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DatasetConfig describes one experiment: a directory of slice bundles.
type DatasetConfig struct {
	Root       string  `yaml:"root"`
	Divider    float64 `yaml:"divider"`
	Slices     []int   `yaml:"slices"`
	TileDBPath string  `yaml:"tiledb_path"`
}

// DataConfig contains the configured datasets. Two YAML shapes are
// accepted: a flat legacy form holding a single dataset's fields, and a
// mapping of dataset ID to per-dataset settings. The first dataset in
// file order becomes the default.
type DataConfig struct {
	DefaultDataset string
	Datasets       map[string]DatasetConfig

	order []string
}

// DatasetIDs returns all dataset IDs in config order.
func (d *DataConfig) DatasetIDs() []string {
	return d.order
}

// UnmarshalYAML accepts both the legacy flat form and the multi-dataset
// mapping. Multi-dataset is recognized by every value being a mapping.
func (d *DataConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("data section must be a mapping")
	}

	multi := len(value.Content) > 0
	for i := 1; i < len(value.Content); i += 2 {
		if value.Content[i].Kind != yaml.MappingNode {
			multi = false
			break
		}
	}

	if !multi {
		var legacy DatasetConfig
		if err := value.Decode(&legacy); err != nil {
			return err
		}
		d.Datasets = map[string]DatasetConfig{"default": legacy}
		d.order = []string{"default"}
		d.DefaultDataset = "default"
		return nil
	}

	d.Datasets = make(map[string]DatasetConfig, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		id := value.Content[i].Value
		var ds DatasetConfig
		if err := value.Content[i+1].Decode(&ds); err != nil {
			return fmt.Errorf("failed to parse dataset %q: %w", id, err)
		}
		d.Datasets[id] = ds
		d.order = append(d.order, id)
	}
	if len(d.order) > 0 {
		d.DefaultDataset = d.order[0]
	}
	return nil
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ImageSizeMB     int    `yaml:"image_size_mb"`
	ImageTTLMinutes int    `yaml:"image_ttl_minutes"`
	QuerySize       int    `yaml:"query_size"`
	Codec           string `yaml:"codec"`
}

// QueryConfig contains range-query tuning.
type QueryConfig struct {
	NarrowWindow     float64 `yaml:"narrow_window"`
	RegionResolution float64 `yaml:"region_resolution"`
}

// JobsConfig contains build-job settings.
type JobsConfig struct {
	DBPath        string `yaml:"db_path"`
	Workers       int    `yaml:"workers"`
	RetentionDays int    `yaml:"retention_days"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Data: DataConfig{
			DefaultDataset: "default",
			Datasets: map[string]DatasetConfig{
				"default": {Root: "./data/slices", Divider: 1},
			},
			order: []string{"default"},
		},
		Cache: CacheConfig{
			ImageSizeMB:     512,
			ImageTTLMinutes: 10,
			QuerySize:       1024,
			Codec:           "lz4",
		},
		Query: QueryConfig{
			NarrowWindow:     5,
			RegionResolution: 1e-4,
		},
		Jobs: JobsConfig{
			DBPath:        "./data/jobs.db",
			Workers:       2,
			RetentionDays: 7,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if len(cfg.Data.Datasets) == 0 {
		cfg.Data = defaults.Data
	}
	for id, ds := range cfg.Data.Datasets {
		if ds.Root == "" {
			ds.Root = defaults.Data.Datasets["default"].Root
		}
		if ds.Divider == 0 {
			ds.Divider = 1
		}
		cfg.Data.Datasets[id] = ds
	}
	if cfg.Data.DefaultDataset == "" && len(cfg.Data.order) > 0 {
		cfg.Data.DefaultDataset = cfg.Data.order[0]
	}
	if cfg.Cache.ImageSizeMB == 0 {
		cfg.Cache.ImageSizeMB = defaults.Cache.ImageSizeMB
	}
	if cfg.Cache.ImageTTLMinutes == 0 {
		cfg.Cache.ImageTTLMinutes = defaults.Cache.ImageTTLMinutes
	}
	if cfg.Cache.QuerySize == 0 {
		cfg.Cache.QuerySize = defaults.Cache.QuerySize
	}
	if cfg.Cache.Codec == "" {
		cfg.Cache.Codec = defaults.Cache.Codec
	}
	if cfg.Query.NarrowWindow == 0 {
		cfg.Query.NarrowWindow = defaults.Query.NarrowWindow
	}
	if cfg.Query.RegionResolution == 0 {
		cfg.Query.RegionResolution = defaults.Query.RegionResolution
	}
	if cfg.Jobs.DBPath == "" {
		cfg.Jobs.DBPath = defaults.Jobs.DBPath
	}
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = defaults.Jobs.Workers
	}
	if cfg.Jobs.RetentionDays == 0 {
		cfg.Jobs.RetentionDays = defaults.Jobs.RetentionDays
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}
