package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/mediafs/internal/util"
)

// Bytes per KB
const KB = 1024

// CLI verbosity values accepted by [ConfigOverride.LogLvl]
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultBaseURL = "http://localhost:8080"

	// DefaultQueueName labels the background request queue in logs
	DefaultQueueName = "mediafs.networking"

	// DefaultWorkers bounds concurrent requests. 0 means one goroutine per request.
	DefaultWorkers = 4

	// DefaultRequestTimeout is the per request timeout in seconds. 0 disables it.
	DefaultRequestTimeout = 30.0

	// DefaultChunkSize is the read buffer used while streaming response bodies
	DefaultChunkSize = 32 * KB

	DefaultLogLvl = util.InfoLevel

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	DefaultFsName = "mediafs"
	DefaultName   = "mediafs"
)

// DefaultStorageRoot is where provided items are materialized locally
var DefaultStorageRoot = filepath.Join(os.TempDir(), "mediafs")

// Config contains runtime configuration values for the media store client and mount.
type Config struct {
	MountOptions
	BaseURL        string        // Remote store root, i.e. http://localhost:8080 (Default DefaultBaseURL)
	StorageRoot    string        // Local directory holding <identifier>/<filename> copies
	QueueName      string        // Name of the background request queue
	Workers        int           // Max concurrent requests; 0 is unbounded (Default 4)
	RequestTimeout float64       // Per request timeout in seconds; 0 disables (Default 30)
	ChunkSize      int           // Response read buffer in bytes (Default 32KB)
	LogLvl         util.LogLevel // Internal log level, derived from CLI verbosity
	// NOTE: FUSE tuning, only used by the mount command:

	AttrTimeout  float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64 // Directory entry cache timeout in seconds (Default 1.0)
}

// Timeout returns RequestTimeout as a duration
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout * float64(time.Second))
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	BaseURL        *string  `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	StorageRoot    *string  `yaml:"storage_root,omitempty" json:"storage_root,omitempty"`
	QueueName      *string  `yaml:"queue_name,omitempty" json:"queue_name,omitempty"`
	Workers        *int     `yaml:"workers,omitempty" json:"workers,omitempty"`
	RequestTimeout *float64 `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
	ChunkSize      *int     `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`
	// LogLvl is the CLI verbosity 1 (error) to 5 (trace), not a [util.LogLevel]
	LogLvl       *int     `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	AttrTimeout  *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	Debug        *bool    `yaml:"debug,omitempty" json:"debug,omitempty"`
	FsName       *string  `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name         *string  `yaml:"name,omitempty" json:"name,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		BaseURL:        DefaultBaseURL,
		StorageRoot:    DefaultStorageRoot,
		QueueName:      DefaultQueueName,
		Workers:        DefaultWorkers,
		RequestTimeout: DefaultRequestTimeout,
		ChunkSize:      DefaultChunkSize,
		LogLvl:         DefaultLogLvl,
		AttrTimeout:    DefaultAttrTimeout,
		EntryTimeout:   DefaultEntryTimeout,
	}
}

// NewConfig returns the defaults with override applied. A nil override yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	c.BaseURL = util.ValueOrDefault(override.BaseURL, c.BaseURL)
	c.StorageRoot = util.ValueOrDefault(override.StorageRoot, c.StorageRoot)
	c.QueueName = util.ValueOrDefault(override.QueueName, c.QueueName)
	c.Workers = util.ValueOrDefault(override.Workers, c.Workers)
	c.RequestTimeout = util.ValueOrDefault(override.RequestTimeout, c.RequestTimeout)
	c.ChunkSize = util.ValueOrDefault(override.ChunkSize, c.ChunkSize)
	if override.LogLvl != nil {
		c.LogLvl = util.VerbosityLevel(*override.LogLvl)
	}
	c.AttrTimeout = util.ValueOrDefault(override.AttrTimeout, c.AttrTimeout)
	c.EntryTimeout = util.ValueOrDefault(override.EntryTimeout, c.EntryTimeout)
	c.Debug = util.ValueOrDefault(override.Debug, c.Debug)
	c.FsName = util.ValueOrDefault(override.FsName, c.FsName)
	c.Name = util.ValueOrDefault(override.Name, c.Name)
}

// Validate reports settings the client cannot run with
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base url is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be > 0, got %d", c.ChunkSize)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be >= 0, got %v", c.RequestTimeout)
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	return NewConfig(override), nil
}
