package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pario-ai/edgeworker/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all edgeworker configuration.
type Config struct {
	Listen      string         `yaml:"listen"`
	DBPath      string         `yaml:"db_path"`
	Origin      string         `yaml:"origin"`
	Version     string         `yaml:"version"`
	Manifest    string         `yaml:"manifest"`
	SkipWaiting bool           `yaml:"skip_waiting"`
	Precache    PrecacheConfig `yaml:"precache"`
	Caches      CachesConfig   `yaml:"caches"`
	Journal     JournalConfig  `yaml:"journal"`
	Log         LogConfig      `yaml:"log"`
}

// PrecacheConfig controls install-time asset population.
type PrecacheConfig struct {
	Concurrency     int      `yaml:"concurrency"`
	ExcludeSuffixes []string `yaml:"exclude_suffixes"`
}

// CachesConfig describes the three worker caches.
type CachesConfig struct {
	Document models.CacheDescriptor `yaml:"document"`
	Asset    models.CacheDescriptor `yaml:"asset"`
	Data     models.CacheDescriptor `yaml:"data"`
}

// All returns the cache descriptors stamped with the given version.
func (c CachesConfig) All(version string) []models.CacheDescriptor {
	out := []models.CacheDescriptor{c.Document, c.Asset, c.Data}
	for i := range out {
		out[i].Version = version
	}
	return out
}

// Names returns the unversioned cache names.
func (c CachesConfig) Names() []string {
	return []string{c.Document.Name, c.Asset.Name, c.Data.Name}
}

// JournalConfig controls the lifecycle event journal.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Retention time.Duration `yaml:"retention"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a Config with the stock cache policy.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		DBPath:   "edgeworker.db",
		Origin:   "http://localhost:3000",
		Version:  "v2",
		Manifest: "build/manifest.json",
		Precache: PrecacheConfig{
			Concurrency:     8,
			ExcludeSuffixes: []string{".map", ".js"},
		},
		Caches: CachesConfig{
			Document: models.CacheDescriptor{
				Name:        "document-cache",
				Strategy:    models.CacheFirst,
				Partitioned: true,
				Options:     models.StrategyOptions{MaxEntries: 64},
			},
			Asset: models.CacheDescriptor{
				Name:     "asset-cache",
				Strategy: models.CacheFirst,
				Options: models.StrategyOptions{
					MaxAgeSeconds: 60 * 60 * 24 * 90, // 90 days
					MaxEntries:    100,
				},
			},
			Data: models.CacheDescriptor{
				Name:        "data-cache",
				Strategy:    models.NetworkFirst,
				Partitioned: true,
				Options: models.StrategyOptions{
					NetworkTimeoutSeconds: 10,
					MaxEntries:            72,
				},
			},
		},
		Journal: JournalConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config: version must not be empty")
	}
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid origin %q", c.Origin)
	}
	seen := make(map[string]bool, 3)
	for _, d := range c.Caches.All(c.Version) {
		if d.Name == "" {
			return fmt.Errorf("config: cache name must not be empty")
		}
		if seen[d.Name] {
			return fmt.Errorf("config: duplicate cache name %q", d.Name)
		}
		seen[d.Name] = true
		if !d.Strategy.Valid() {
			return fmt.Errorf("config: cache %q: unknown strategy %q", d.Name, d.Strategy)
		}
		if d.Options.MaxEntries < 0 || d.Options.MaxAgeSeconds < 0 || d.Options.NetworkTimeoutSeconds < 0 {
			return fmt.Errorf("config: cache %q: negative option", d.Name)
		}
	}
	if c.Precache.Concurrency <= 0 {
		c.Precache.Concurrency = 1
	}
	return nil
}
