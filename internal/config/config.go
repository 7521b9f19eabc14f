// Package config provides unified configuration for the census tool.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StoreKind selects the durable store realization.
type StoreKind string

const (
	// StoreSQLite keeps the aggregate state in a SQLite database.
	StoreSQLite StoreKind = "sqlite"

	// StoreSnapshot keeps the aggregate state in a flat snapshot file.
	StoreSnapshot StoreKind = "snapshot"
)

// Config holds the configuration for an ingestion run.
type Config struct {
	// DataDir is the base directory for the durable store.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Store selects the durable store realization: sqlite or snapshot.
	Store StoreKind `json:"store" yaml:"store"`

	// DatabasePath is the SQLite database location (sqlite store).
	DatabasePath string `json:"database_path" yaml:"database_path"`

	// DataFilePath is the snapshot file location (snapshot store).
	DataFilePath string `json:"data_file_path" yaml:"data_file_path"`

	// LogPath is the access log to ingest.
	LogPath string `json:"log_path" yaml:"log_path"`

	// Archive configures the optional offsite copy of the store after a
	// successful ingestion run.
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
}

// ArchiveConfig holds snapshot archival configuration.
type ArchiveConfig struct {
	// Enabled controls whether the store is archived after each run.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Type is the archive backend: local, s3.
	Type string `json:"type" yaml:"type"`

	// Path is the local archive directory (for local type).
	Path string `json:"path" yaml:"path"`

	// Prefix is the object key prefix inside the archive.
	Prefix string `json:"prefix" yaml:"prefix"`

	// S3 configuration (for s3 type).
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 archive configuration.
type S3Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region.
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage).
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/census",
		Store:   StoreSQLite,
		Archive: ArchiveConfig{
			Type:   "local",
			Prefix: "census",
		},
	}
}

// Resolve fills derived paths based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/census"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "census.db")
	}
	if c.DataFilePath == "" {
		c.DataFilePath = filepath.Join(c.DataDir, "census.snap")
	}
	if c.Archive.Path == "" {
		c.Archive.Path = filepath.Join(c.DataDir, "archive")
	}
}

// StorePath returns the location of the selected store realization.
func (c *Config) StorePath() string {
	if c.Store == StoreSnapshot {
		return c.DataFilePath
	}
	return c.DatabasePath
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreSnapshot:
		// Valid kinds
	default:
		return fmt.Errorf("invalid store kind: %s (must be sqlite or snapshot)", c.Store)
	}

	if c.Archive.Enabled {
		if c.Archive.Type != "local" && c.Archive.Type != "s3" {
			return fmt.Errorf("invalid archive type: %s (must be local or s3)", c.Archive.Type)
		}
		if c.Archive.Type == "s3" && c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when archive type is s3")
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CENSUS_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CENSUS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CENSUS_STORE"); v != "" {
		cfg.Store = StoreKind(v)
	}
	if v := os.Getenv("CENSUS_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("CENSUS_DATA_FILE_PATH"); v != "" {
		cfg.DataFilePath = v
	}
	if v := os.Getenv("CENSUS_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}

	// Archive configuration
	if v := os.Getenv("CENSUS_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CENSUS_ARCHIVE_TYPE"); v != "" {
		cfg.Archive.Type = v
	}
	if v := os.Getenv("CENSUS_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("CENSUS_ARCHIVE_PREFIX"); v != "" {
		cfg.Archive.Prefix = v
	}
	if v := os.Getenv("CENSUS_S3_BUCKET"); v != "" {
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("CENSUS_S3_REGION"); v != "" {
		cfg.Archive.S3.Region = v
	}
	if v := os.Getenv("CENSUS_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3.Endpoint = v
	}
}

// EnsureDirectories creates the directories the selected store needs.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Archive.Enabled && c.Archive.Type == "local" {
		dirs = append(dirs, c.Archive.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
