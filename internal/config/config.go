// Package config loads voltree settings from HCL, JSON or TOML files.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/voltree/api"
	"github.com/agentic-research/voltree/internal/logging"
	"github.com/agentic-research/voltree/internal/volume"
	"github.com/agentic-research/voltree/internal/xmldoc"
)

// Config is the top-level configuration.
//
//	document_name    = "VolumeData.xml"
//	max_load_workers = 8
//	deprecated_tags  = ["Stos"]
//
//	log {
//	  level = "debug"
//	  file  = "voltree.log"
//	}
//
//	catalog {
//	  path = "catalog.db"
//	}
//
//	version "Section" {
//	  latest         = 2
//	  min_compatible = 1.5
//	}
type Config struct {
	DocumentName   string `hcl:"document_name,optional" toml:"document_name"`
	BackupSuffix   string `hcl:"backup_suffix,optional" toml:"backup_suffix"`
	LinkSuffix     string `hcl:"link_suffix,optional" toml:"link_suffix"`
	MaxLoadWorkers int    `hcl:"max_load_workers,optional" toml:"max_load_workers"`

	Log     *LogConfig     `hcl:"log,block" toml:"log"`
	Catalog *CatalogConfig `hcl:"catalog,block" toml:"catalog"`

	Versions       []api.TagVersion `hcl:"version,block" toml:"version"`
	DeprecatedTags []string         `hcl:"deprecated_tags,optional" toml:"deprecated_tags"`
}

type LogConfig struct {
	Level      string `hcl:"level,optional" toml:"level"`
	Format     string `hcl:"format,optional" toml:"format"`
	File       string `hcl:"file,optional" toml:"file"`
	MaxSizeMB  int    `hcl:"max_size_mb,optional" toml:"max_size_mb"`
	MaxAgeDays int    `hcl:"max_age_days,optional" toml:"max_age_days"`
	MaxBackups int    `hcl:"max_backups,optional" toml:"max_backups"`
}

// CatalogConfig enables the write catalog when Path is set.
type CatalogConfig struct {
	Path string `hcl:"path" toml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.DocumentName == "" {
		c.DocumentName = xmldoc.DefaultDocumentName
	}
	if c.BackupSuffix == "" {
		c.BackupSuffix = xmldoc.DefaultBackupSuffix
	}
	if c.LinkSuffix == "" {
		c.LinkSuffix = "_Link"
	}
	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatText
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 100
		}
		if c.Log.MaxAgeDays == 0 {
			c.Log.MaxAgeDays = 28
		}
	}
	if c.DeprecatedTags == nil {
		c.DeprecatedTags = append([]string(nil), volume.DefaultVersions.Deprecated...)
	}
}

// Load reads the configuration at path. An empty path returns Default().
// The format follows the extension: .hcl and .json are HCL syntaxes, .toml
// is TOML. Relative file paths inside are resolved against the directory
// of the configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	c := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl", ".json":
		if err := hclsimple.DecodeFile(path, nil, c); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format %q", path, filepath.Ext(path))
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	c.applyDefaults()

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	c.Log.File = resolve(base, c.Log.File)
	if c.Catalog != nil {
		c.Catalog.Path = resolve(base, c.Catalog.Path)
	}
	return c, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (c *Config) validate() error {
	if c.MaxLoadWorkers < 0 {
		return fmt.Errorf("max_load_workers must not be negative")
	}
	if strings.ContainsAny(c.DocumentName, `/\`) {
		return fmt.Errorf("document_name %q must be a bare file name", c.DocumentName)
	}
	seen := map[string]bool{}
	for _, v := range c.Versions {
		if v.Tag == "" {
			return fmt.Errorf("version block without a tag")
		}
		if seen[v.Tag] {
			return fmt.Errorf("duplicate version block for %s", v.Tag)
		}
		seen[v.Tag] = true
		if v.Latest <= 0 {
			return fmt.Errorf("version %s: latest must be positive", v.Tag)
		}
		if v.MinCompatible > v.Latest {
			return fmt.Errorf("version %s: min_compatible %g exceeds latest %g", v.Tag, v.MinCompatible, v.Latest)
		}
	}
	return nil
}

// VersionTable returns the schema versions as an api.VersionTable.
func (c *Config) VersionTable() api.VersionTable {
	return api.VersionTable{Versions: c.Versions, Deprecated: c.DeprecatedTags}
}

func (c *Config) Registry() *volume.VersionRegistry {
	return volume.NewVersionRegistry(c.VersionTable())
}

// Apply installs the process-wide settings: link suffix and version
// registry. Call it once, before any volume is loaded.
func (c *Config) Apply() {
	volume.LinkSuffix = c.LinkSuffix
	volume.SetVersions(c.Registry())
}

// ManagerOptions returns the manager options the configuration implies.
func (c *Config) ManagerOptions() []volume.Option {
	return []volume.Option{
		volume.WithDocumentName(c.DocumentName, c.BackupSuffix),
		volume.WithWorkers(c.MaxLoadWorkers),
	}
}

func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxAgeDays: c.Log.MaxAgeDays,
		MaxBackups: c.Log.MaxBackups,
	}
}
