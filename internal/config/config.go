package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConflictPolicy selects how a repeated (agent_id, channel, timestamp) key is
// handled. It is declared once here and applied uniformly by the live store.
type ConflictPolicy string

const (
	// ConflictIgnore treats a repeated key as a duplicate: the submission is
	// acknowledged but the stored record is left untouched (at-most-once).
	ConflictIgnore ConflictPolicy = "ignore"

	// ConflictReplace treats a repeated key as a correction: the stored
	// record is overwritten (last-write-wins).
	ConflictReplace ConflictPolicy = "replace"
)

// Config represents the complete rfistat configuration.
type Config struct {
	// DataDir is the root directory for the live store and archive segments.
	DataDir string `yaml:"data_dir"`

	// ChannelCount is the size C of the frequency channel space. Records
	// with channel outside [0, C) are rejected at ingestion.
	ChannelCount int `yaml:"channel_count"`

	// ClockSkew is the tolerated distance between a record timestamp and
	// server time, in either direction.
	ClockSkew time.Duration `yaml:"clock_skew"`

	// ConflictPolicy selects duplicate vs correction handling.
	ConflictPolicy ConflictPolicy `yaml:"conflict_policy"`

	// Archive configures the archiver.
	Archive ArchiveConfig `yaml:"archive"`

	// Query configures the query service.
	Query QueryConfig `yaml:"query"`

	// Server configures the HTTP boundary.
	Server ServerConfig `yaml:"server"`

	// Stats configures occupancy distribution tracking.
	Stats StatsConfig `yaml:"stats"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// ArchiveConfig configures the archiver.
type ArchiveConfig struct {
	// Retention is the age a record must reach before it is eligible for
	// archival out of the live store.
	Retention time.Duration `yaml:"retention"`

	// Interval is the time between scheduled archive passes.
	Interval time.Duration `yaml:"interval"`

	// Window is the fixed time-window granularity of archive segments.
	// Windows are aligned to multiples of this duration.
	Window time.Duration `yaml:"window"`

	// Compression is the Parquet compression algorithm: snappy, zstd,
	// lz4, gzip, none.
	Compression string `yaml:"compression"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// Timeout is the per-query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of records returned per query.
	MaxRows int `yaml:"max_rows"`

	// MaxRange is the maximum queryable time span. Unbounded queries are
	// disallowed.
	MaxRange time.Duration `yaml:"max_range"`

	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StatsConfig configures occupancy distribution tracking.
type StatsConfig struct {
	// SketchAccuracy is the DDSketch relative accuracy (0.01 = 1% error).
	SketchAccuracy float64 `yaml:"sketch_accuracy"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:        "/var/lib/rfistat",
		ChannelCount:   1024,
		ClockSkew:      5 * time.Minute,
		ConflictPolicy: ConflictIgnore,
		Archive: ArchiveConfig{
			Retention:   7 * 24 * time.Hour,
			Interval:    time.Hour,
			Window:      time.Hour,
			Compression: "zstd",
		},
		Query: QueryConfig{
			Timeout:     30 * time.Second,
			MaxRows:     1000000,
			MaxRange:    365 * 24 * time.Hour,
			MemoryLimit: "1GB",
		},
		Server: ServerConfig{
			Listen:          "0.0.0.0:8465",
			ShutdownTimeout: 10 * time.Second,
		},
		Stats: StatsConfig{
			SketchAccuracy: 0.01,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LiveStorePath returns the path of the live store database file.
func (c *Config) LiveStorePath() string {
	return filepath.Join(c.DataDir, "live.db")
}

// SegmentDir returns the directory holding archive segments and the index.
func (c *Config) SegmentDir() string {
	return filepath.Join(c.DataDir, "segments")
}

// IndexPath returns the path of the archive segment index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.json")
}

// RunStatePath returns the path of the persisted archiver run state.
func (c *Config) RunStatePath() string {
	return filepath.Join(c.DataDir, "archiver.state")
}

// EnsureDirectories creates the data directories if they do not exist.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.SegmentDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
