package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if c.ChannelCount <= 0 {
		errs = append(errs, errors.New("channel_count must be positive"))
	}

	if c.ClockSkew <= 0 {
		errs = append(errs, errors.New("clock_skew must be positive"))
	}

	switch c.ConflictPolicy {
	case ConflictIgnore, ConflictReplace:
	case "":
		errs = append(errs, errors.New("conflict_policy is required"))
	default:
		errs = append(errs, fmt.Errorf("conflict_policy must be %q or %q", ConflictIgnore, ConflictReplace))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if err := c.Stats.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stats: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	var errs []error

	if c.Retention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}

	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}

	if c.Window <= 0 {
		errs = append(errs, errors.New("window must be positive"))
	}

	if c.Retention > 0 && c.Window > c.Retention {
		errs = append(errs, errors.New("window must not exceed retention"))
	}

	validAlgorithms := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"lz4":    true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validAlgorithms[c.Compression] {
		errs = append(errs, errors.New("compression must be one of: snappy, zstd, lz4, gzip, none"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}

	if c.MaxRange <= 0 {
		errs = append(errs, errors.New("max_range must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the stats configuration.
func (c *StatsConfig) Validate() error {
	if c.SketchAccuracy <= 0 || c.SketchAccuracy > 1 {
		return errors.New("sketch_accuracy must be between 0 and 1")
	}
	return nil
}
