package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir == "" {
		t.Error("expected default data_dir")
	}

	if cfg.ChannelCount <= 0 {
		t.Error("expected positive channel_count")
	}

	if cfg.ConflictPolicy != ConflictIgnore {
		t.Errorf("expected default conflict_policy %q, got %q", ConflictIgnore, cfg.ConflictPolicy)
	}

	if cfg.Archive.Retention <= 0 {
		t.Error("expected positive archive retention")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"empty data_dir", func(c *Config) { c.DataDir = "" }, true},
		{"zero channels", func(c *Config) { c.ChannelCount = 0 }, true},
		{"negative skew", func(c *Config) { c.ClockSkew = -time.Second }, true},
		{"bad conflict policy", func(c *Config) { c.ConflictPolicy = "merge" }, true},
		{"replace policy", func(c *Config) { c.ConflictPolicy = ConflictReplace }, false},
		{"zero retention", func(c *Config) { c.Archive.Retention = 0 }, true},
		{"window exceeds retention", func(c *Config) {
			c.Archive.Window = 48 * time.Hour
			c.Archive.Retention = 24 * time.Hour
		}, true},
		{"bad compression", func(c *Config) { c.Archive.Compression = "invalid" }, true},
		{"empty compression defaults", func(c *Config) { c.Archive.Compression = "" }, false},
		{"zero max_rows", func(c *Config) { c.Query.MaxRows = 0 }, true},
		{"zero max_range", func(c *Config) { c.Query.MaxRange = 0 }, true},
		{"bad sketch accuracy", func(c *Config) { c.Stats.SketchAccuracy = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	yaml := `
data_dir: /tmp/rfistat-test
channel_count: 2048
clock_skew: 2m
conflict_policy: replace
archive:
  retention: 72h
  interval: 30m
  window: 1h
  compression: snappy
query:
  timeout: 10s
  max_rows: 5000
  max_range: 720h
server:
  listen: 127.0.0.1:9465
`

	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ChannelCount != 2048 {
		t.Errorf("expected channel_count 2048, got %d", cfg.ChannelCount)
	}
	if cfg.ConflictPolicy != ConflictReplace {
		t.Errorf("expected conflict_policy replace, got %q", cfg.ConflictPolicy)
	}
	if cfg.Archive.Retention != 72*time.Hour {
		t.Errorf("expected retention 72h, got %s", cfg.Archive.Retention)
	}
	if cfg.Archive.Compression != "snappy" {
		t.Errorf("expected snappy compression, got %q", cfg.Archive.Compression)
	}
	if cfg.Server.Listen != "127.0.0.1:9465" {
		t.Errorf("unexpected listen address %q", cfg.Server.Listen)
	}

	// Unset fields keep their defaults.
	if cfg.Stats.SketchAccuracy != 0.01 {
		t.Errorf("expected default sketch accuracy, got %f", cfg.Stats.SketchAccuracy)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	// The daemon falls back to defaults on a missing file, so the wrapped
	// error must stay recognizable as not-exist.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected error to unwrap to fs.ErrNotExist, got %v", err)
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()

	path := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(path, []byte("channel_count: -5\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	if _, err := os.Stat(cfg.SegmentDir()); err != nil {
		t.Errorf("segment dir missing: %v", err)
	}
}
