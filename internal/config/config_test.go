package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_LegacyFormat(t *testing.T) {
	content := `
server:
  port: 9000
data:
  root: "/data/legacy/slices"
  divider: 2.5
cache:
  image_size_mb: 256
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset 'default', got %q", cfg.Data.DefaultDataset)
	}
	ds, ok := cfg.Data.Datasets["default"]
	if !ok {
		t.Fatal("expected 'default' dataset")
	}
	if ds.Root != "/data/legacy/slices" {
		t.Errorf("unexpected root: %s", ds.Root)
	}
	if ds.Divider != 2.5 {
		t.Errorf("unexpected divider: %v", ds.Divider)
	}
}

func TestLoad_MultiDatasetFormat(t *testing.T) {
	content := `
server:
  port: 8080
data:
  brain1:
    root: "/data/brain1/slices"
    divider: 1
    slices: [1, 2, 3]
  brain2:
    root: "/data/brain2/slices"
    divider: 0.5
`
	cfg := loadFromString(t, content)

	if len(cfg.Data.Datasets) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(cfg.Data.Datasets))
	}

	// First dataset in YAML order should be default
	if cfg.Data.DefaultDataset != "brain1" {
		t.Errorf("expected default dataset 'brain1', got %q", cfg.Data.DefaultDataset)
	}

	brain1, ok := cfg.Data.Datasets["brain1"]
	if !ok {
		t.Fatal("expected 'brain1' dataset")
	}
	if brain1.Root != "/data/brain1/slices" {
		t.Errorf("unexpected brain1 root: %s", brain1.Root)
	}
	if len(brain1.Slices) != 3 || brain1.Slices[0] != 1 {
		t.Errorf("unexpected brain1 slices: %v", brain1.Slices)
	}

	brain2, ok := cfg.Data.Datasets["brain2"]
	if !ok {
		t.Fatal("expected 'brain2' dataset")
	}
	if brain2.Divider != 0.5 {
		t.Errorf("unexpected brain2 divider: %v", brain2.Divider)
	}

	// Check order preserved
	ids := cfg.Data.DatasetIDs()
	if len(ids) != 2 || ids[0] != "brain1" || ids[1] != "brain2" {
		t.Errorf("unexpected dataset order: %v", ids)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
data:
  test:
    root: "/test/slices"
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.ImageSizeMB != 512 {
		t.Errorf("expected default cache size 512, got %d", cfg.Cache.ImageSizeMB)
	}
	if cfg.Cache.Codec != "lz4" {
		t.Errorf("expected default codec lz4, got %q", cfg.Cache.Codec)
	}
	if cfg.Query.NarrowWindow != 5 {
		t.Errorf("expected default narrow window 5, got %v", cfg.Query.NarrowWindow)
	}
	if cfg.Jobs.RetentionDays != 7 {
		t.Errorf("expected default retention 7 days, got %d", cfg.Jobs.RetentionDays)
	}
	if ds := cfg.Data.Datasets["test"]; ds.Divider != 1 {
		t.Errorf("expected default divider 1, got %v", ds.Divider)
	}
}

func TestLoad_NoDataSection(t *testing.T) {
	content := `
server:
  port: 8080
`
	cfg := loadFromString(t, content)

	if cfg.Data.DefaultDataset != "default" {
		t.Errorf("expected default dataset, got %q", cfg.Data.DefaultDataset)
	}
	if len(cfg.Data.Datasets) != 1 {
		t.Errorf("expected 1 default dataset, got %d", len(cfg.Data.Datasets))
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
