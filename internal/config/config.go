// Package config provides the configuration for splitmerge runs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/arkilian/splitmerge/internal/logging"
	"github.com/arkilian/splitmerge/pkg/types"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g.
// SPLITMERGE_SIZE or SPLITMERGE_STORAGE_S3_BUCKET. Keys derive from field
// names: an explicit envconfig tag also matches the unprefixed variable, and
// STORAGE_PATH would then read $PATH.
const EnvPrefix = "SPLITMERGE"

// Storage types.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the configuration for a run.
type Config struct {
	// DataDir is the base directory for the ledger and work files
	DataDir string `json:"data_dir" yaml:"data_dir" split_words:"true"`

	// Output is the base output name; groups get _<index> before the suffix
	Output string `json:"output" yaml:"output"`

	// Size is the per-group limit in Unit
	Size float64 `json:"size" yaml:"size"`

	// Unit is the size unit (B, KB, MB, GB, TB, KiB, ... ; default GB)
	Unit string `json:"unit" yaml:"unit"`

	// Suffix selects files when walking directories and names outputs
	Suffix string `json:"suffix" yaml:"suffix"`

	// Concurrency is the number of groups merged at once
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// Resume skips groups already merged by an earlier run
	Resume bool `json:"resume" yaml:"resume"`

	// LedgerPath is the run ledger database (default <data_dir>/ledger.db)
	LedgerPath string `json:"ledger_path" yaml:"ledger_path" split_words:"true"`

	// WorkDir holds downloaded inputs and staged outputs (default <data_dir>/work)
	WorkDir string `json:"work_dir" yaml:"work_dir" split_words:"true"`

	// MetricsFile receives Prometheus metrics in text format after a run
	MetricsFile string `json:"metrics_file" yaml:"metrics_file" split_words:"true"`

	// DrainTimeout is how long running merges may finish after an interrupt
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout" split_words:"true"`

	// Merge tool configuration
	Merge MergeConfig `json:"merge" yaml:"merge"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`
}

// MergeConfig holds merge tool configuration.
type MergeConfig struct {
	// Tool is the merge executable, a name on PATH or a path
	Tool string `json:"tool" yaml:"tool"`

	// KeepPartial passes -k to the tool
	KeepPartial bool `json:"keep_partial" yaml:"keep_partial" split_words:"true"`

	// Force passes -f to the tool
	Force bool `json:"force" yaml:"force"`

	// ExtraArgs are passed to the tool before the output path
	ExtraArgs []string `json:"extra_args" yaml:"extra_args" split_words:"true"`

	// MinOutputBytes is the smallest accepted merged output
	MinOutputBytes int64 `json:"min_output_bytes" yaml:"min_output_bytes" split_words:"true"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is none (plain files), local (directory object store) or s3
	Type string `json:"type" yaml:"type"`

	// Path is the root of the local object store
	Path string `json:"path" yaml:"path"`

	// DownloadConcurrency bounds parallel input downloads per group
	DownloadConcurrency int `json:"download_concurrency" yaml:"download_concurrency" split_words:"true"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle is required by MinIO and most S3-compatible stores
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style" split_words:"true"`

	// PartSizeMB is the multipart upload part size
	PartSizeMB int64 `json:"part_size_mb" yaml:"part_size_mb" split_words:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is a zerolog level name
	Level string `json:"level" yaml:"level"`

	// Format is auto, console or json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the defaults, matching a plain `hadd -k` run with a
// 50 GB limit.
func DefaultConfig() *Config {
	return &Config{
		DataDir:      defaultDataDir(),
		Output:       "output.root",
		Size:         50,
		Unit:         "GB",
		Suffix:       ".root",
		Concurrency:  1,
		DrainTimeout: 10 * time.Minute,
		Merge: MergeConfig{
			Tool:        "hadd",
			KeepPartial: true,
		},
		Storage: StorageConfig{
			Type:                StorageNone,
			DownloadConcurrency: 4,
			S3: S3Config{
				Region:     "us-east-1",
				PartSizeMB: 64,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: logging.FormatAuto,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "splitmerge")
	}
	return "./data/splitmerge"
}

// Resolve fills derived paths from DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.LedgerPath == "" {
		c.LedgerPath = filepath.Join(c.DataDir, "ledger.db")
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(c.DataDir, "work")
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageNone
	}
	if c.Storage.Type == StorageLocal && c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
}

// LimitBytes converts Size and Unit to bytes.
func (c *Config) LimitBytes() (int64, error) {
	unit, err := types.ParseUnit(c.Unit)
	if err != nil {
		return 0, invalid(err.Error())
	}
	size, err := types.FromUnits(c.Size, unit)
	if err != nil {
		return 0, invalid(fmt.Sprintf("size %v %s: %v", c.Size, c.Unit, err))
	}
	if size <= 0 {
		return 0, invalid(fmt.Sprintf("size must be positive, got %v %s", c.Size, c.Unit))
	}
	return size.Bytes(), nil
}

// Remote reports whether inputs and outputs live in an object store.
func (c *Config) Remote() bool {
	return c.Storage.Type == StorageLocal || c.Storage.Type == StorageS3
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output) == "" {
		return invalid("output is required")
	}
	if _, err := c.LimitBytes(); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return invalid(fmt.Sprintf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.DrainTimeout < 0 {
		return invalid("drain_timeout must not be negative")
	}
	if c.Merge.MinOutputBytes < 0 {
		return invalid("merge.min_output_bytes must not be negative")
	}

	switch c.Storage.Type {
	case StorageNone, StorageLocal:
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return invalid("storage.s3.bucket is required when storage type is s3")
		}
		if c.Storage.S3.PartSizeMB < 5 {
			return invalid(fmt.Sprintf("storage.s3.part_size_mb must be at least 5, got %d", c.Storage.S3.PartSizeMB))
		}
	default:
		return invalid(fmt.Sprintf("invalid storage type: %s (must be none, local or s3)", c.Storage.Type))
	}
	if c.Storage.DownloadConcurrency < 1 {
		return invalid(fmt.Sprintf("storage.download_concurrency must be at least 1, got %d", c.Storage.DownloadConcurrency))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid(err.Error())
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatAuto, logging.FormatConsole, logging.FormatJSON:
	default:
		return invalid(fmt.Sprintf("invalid log format: %s (must be auto, console or json)", c.Log.Format))
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, smerrors.Wrap(smerrors.ErrCategoryValidation, smerrors.CodeInvalidConfig,
			"failed to read config file", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, smerrors.Wrap(smerrors.ErrCategoryValidation, smerrors.CodeInvalidConfig,
				"failed to parse YAML config", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, smerrors.Wrap(smerrors.ErrCategoryValidation, smerrors.CodeInvalidConfig,
				"failed to parse JSON config", err)
		}
	default:
		return nil, invalid(fmt.Sprintf("unsupported config file format: %s", ext))
	}

	return cfg, nil
}

// LoadFromEnv overlays SPLITMERGE_* environment variables. Unset variables
// leave the current value alone.
func LoadFromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return smerrors.Wrap(smerrors.ErrCategoryValidation, smerrors.CodeInvalidConfig,
			"parsing environment variables", err)
	}
	return nil
}

// LoadDotEnv exports the variables in a .env file, such as S3 credentials
// or SPLITMERGE_* overrides. Variables already set in the environment win.
// A missing file is only an error when required is set.
func LoadDotEnv(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return smerrors.Wrap(smerrors.ErrCategoryValidation, smerrors.CodeInvalidConfig,
			fmt.Sprintf("failed to load env file %s", path), err)
	}
	return nil
}

// Load builds the configuration from defaults, an optional file, and the
// environment, in that order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.WorkDir,
		filepath.Dir(c.LedgerPath),
	}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
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

func invalid(msg string) error {
	return smerrors.NewValidationError(smerrors.CodeInvalidConfig, msg)
}
