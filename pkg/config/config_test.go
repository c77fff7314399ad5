package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/edgeworker/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Version != "v2" {
		t.Errorf("expected version v2, got %s", cfg.Version)
	}
	if cfg.Caches.Document.Strategy != models.CacheFirst || cfg.Caches.Document.Options.MaxEntries != 64 {
		t.Errorf("unexpected document cache: %+v", cfg.Caches.Document)
	}
	if cfg.Caches.Asset.Options.MaxAge() != 90*24*time.Hour || cfg.Caches.Asset.Options.MaxEntries != 100 {
		t.Errorf("unexpected asset cache: %+v", cfg.Caches.Asset)
	}
	if cfg.Caches.Data.Strategy != models.NetworkFirst || cfg.Caches.Data.Options.NetworkTimeout() != 10*time.Second {
		t.Errorf("unexpected data cache: %+v", cfg.Caches.Data)
	}
	if !cfg.Caches.Document.Partitioned || !cfg.Caches.Data.Partitioned || cfg.Caches.Asset.Partitioned {
		t.Error("expected document and data caches partitioned per client, asset cache shared")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_ORIGIN", "http://app.internal:3000")

	content := `
listen: ":9090"
origin: ${TEST_ORIGIN}
version: v3
skip_waiting: true
caches:
  data:
    strategy: StaleWhileRevalidate
    max_entries: 10
journal:
  retention: 48h
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Origin != "http://app.internal:3000" {
		t.Errorf("env var not expanded: got %s", cfg.Origin)
	}
	if !cfg.SkipWaiting {
		t.Error("expected skip_waiting")
	}
	if cfg.Caches.Data.Strategy != models.StaleWhileRevalidate || cfg.Caches.Data.Options.MaxEntries != 10 {
		t.Errorf("unexpected data cache: %+v", cfg.Caches.Data)
	}
	if cfg.Caches.Data.Name != "data-cache" {
		t.Errorf("expected default name to survive, got %q", cfg.Caches.Data.Name)
	}
	if cfg.Journal.Retention != 48*time.Hour {
		t.Errorf("expected 48h retention, got %v", cfg.Journal.Retention)
	}

	all := cfg.Caches.All(cfg.Version)
	if all[1].VersionedName() != "asset-cache-v3" {
		t.Errorf("unexpected versioned name %s", all[1].VersionedName())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty version", func(c *Config) { c.Version = "" }},
		{"bad origin", func(c *Config) { c.Origin = "not a url" }},
		{"unknown strategy", func(c *Config) { c.Caches.Asset.Strategy = "Fastest" }},
		{"duplicate name", func(c *Config) { c.Caches.Data.Name = c.Caches.Document.Name }},
		{"negative option", func(c *Config) { c.Caches.Data.Options.MaxEntries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
