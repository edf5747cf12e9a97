// Package config provides configuration management for reposync.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axiomcode/reposync/internal/batch"
	"github.com/axiomcode/reposync/internal/blob"
	"github.com/axiomcode/reposync/internal/errors"
	"github.com/axiomcode/reposync/internal/hosting"
)

const (
	// ConfigFileName is the default config file name
	ConfigFileName = "reposync.yaml"
	// DataDirName is the default data directory
	DataDirName = ".reposync"
)

// ImportConfig tunes the import workflow.
type ImportConfig struct {
	// BatchSize bounds concurrent blob fetches per batch.
	BatchSize int `yaml:"batch_size"`

	// IgnorePatterns are glob patterns for repository paths to skip,
	// e.g. ".git/**" or "**/*.lock".
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty"`
}

// ExportConfig tunes the export workflow.
type ExportConfig struct {
	// BatchSize bounds concurrent remote blob creations per batch.
	BatchSize int `yaml:"batch_size"`

	// CommitMessage is the default message for export commits.
	CommitMessage string `yaml:"commit_message"`

	// RepoInitWait bounds how long to poll for the created repository's
	// seeded default branch before failing the export.
	RepoInitWait time.Duration `yaml:"repo_init_wait"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config represents the reposync configuration.
type Config struct {
	// DataDir holds the project database.
	DataDir string `yaml:"data_dir"`

	// StateDir holds durable workflow run state.
	StateDir string `yaml:"state_dir"`

	// Hosting selects and configures the remote repository provider.
	Hosting hosting.Config `yaml:"hosting"`

	// Blob configures binary content storage. An empty bucket selects the
	// in-memory store, which only suits tests and throwaway runs.
	Blob blob.Config `yaml:"blob"`

	Import ImportConfig `yaml:"import"`
	Export ExportConfig `yaml:"export"`
	Server ServerConfig `yaml:"server"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:  DataDirName,
		StateDir: filepath.Join(DataDirName, "runs"),
		Hosting: hosting.Config{
			Provider:    string(hosting.ProviderGitHub),
			TokenEnvVar: hosting.DefaultTokenEnvVar,
		},
		Import: ImportConfig{
			BatchSize:      batch.DefaultImportSize,
			IgnorePatterns: []string{".git", ".git/**"},
		},
		Export: ExportConfig{
			BatchSize:     batch.DefaultExportSize,
			CommitMessage: "Initial sync",
			RepoInitWait:  30 * time.Second,
		},
		Server: ServerConfig{
			Addr: ":8470",
		},
	}
}

// Load reads configuration from path, layering it over the defaults.
// A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Strict decode: unknown keys are config mistakes, not noise.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.ErrConfigInvalid(path, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.ErrConfigInvalid("data_dir", "must not be empty")
	}
	if c.StateDir == "" {
		return errors.ErrConfigInvalid("state_dir", "must not be empty")
	}
	if c.Hosting.Provider == "" {
		return errors.ErrConfigInvalid("hosting.provider", "must name a provider")
	}
	if c.Import.BatchSize < 1 {
		return errors.ErrConfigInvalid("import.batch_size", "must be at least 1")
	}
	if c.Export.BatchSize < 1 {
		return errors.ErrConfigInvalid("export.batch_size", "must be at least 1")
	}
	if c.Export.RepoInitWait <= 0 {
		return errors.ErrConfigInvalid("export.repo_init_wait", "must be positive")
	}
	if c.Blob.Bucket != "" && c.Blob.Region == "" && c.Blob.Endpoint == "" {
		return errors.ErrConfigInvalid("blob.region", "required when a bucket is set")
	}
	return nil
}

// DatabasePath returns the location of the project database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "reposync.db")
}
