// Package config loads engine settings from an HCL file.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the root of the engine's configuration file.
type Config struct {
	// SourcePath is the read-only SQLite database holding the normalized
	// source schema.
	SourcePath string `hcl:"source_path"`

	// SnapshotPath, when set, is where built versions are persisted so a
	// restart can serve without waiting for a rebuild.
	SnapshotPath string `hcl:"snapshot_path,optional"`

	// RefreshInterval is a Go duration string ("15m"). Empty disables the
	// scheduler; refreshes then only run on demand.
	RefreshInterval string `hcl:"refresh_interval,optional"`

	Validation *Validation `hcl:"validation,block"`
}

// Validation carries optional row-count bounds for the refresh validator.
type Validation struct {
	MinRows int `hcl:"min_rows,optional"`
	MaxRows int `hcl:"max_rows,optional"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SourcePath:      "source.db",
		RefreshInterval: "15m",
		Validation:      &Validation{},
	}
}

// Load parses an HCL config file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Validation == nil {
		cfg.Validation = &Validation{}
	}
	if _, err := cfg.Interval(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Interval parses RefreshInterval; zero means the scheduler is disabled.
func (c *Config) Interval() (time.Duration, error) {
	if c.RefreshInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RefreshInterval)
	if err != nil {
		return 0, fmt.Errorf("config: bad refresh_interval %q: %w", c.RefreshInterval, err)
	}
	return d, nil
}
