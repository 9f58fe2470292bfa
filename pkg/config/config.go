package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
)

const (
	DefaultConfigFileName   = "seqset.json"
	DefaultManifestFileName = "MANIFEST"
	CurrentConfigVersion    = 1
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrConfigNotFound   = errors.New("config not found")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

type Config struct {
	Version int `json:"version"`

	// File layout
	DataDir             string `json:"data_dir"`
	BlockFile           string `json:"block_file"`
	BlockIndexFile      string `json:"block_index_file"`
	LengthIndicatedFile string `json:"length_indicated_file"`
	OffsetIndexFile     string `json:"offset_index_file"`

	// Header defaults for newly built block files
	FileStructureType string  `json:"file_structure_type"`
	FormatVersion     string  `json:"format_version"`
	BlockSize         int     `json:"block_size"`
	MinBlockCapacity  float64 `json:"min_block_capacity"`
	IndexSchema       string  `json:"index_schema"`
	PrimaryKeyField   int     `json:"primary_key_field"`
	RecordFieldCount  int     `json:"record_field_count"`

	// Loading and querying
	RelinkOnLoad bool   `json:"relink_on_load"`
	KeyDelimiter string `json:"key_delimiter"`

	ArchiveCodec string `json:"archive_codec"`
	LogLevel     string `json:"log_level"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config rooted at dataDir with the defaults the
// block builder has always used: 512 byte blocks at 50% minimum capacity.
func NewDefaultConfig(dataDir string) *Config {
	return &Config{
		Version: CurrentConfigVersion,

		DataDir:             dataDir,
		BlockFile:           "block.txt",
		BlockIndexFile:      "index.idx",
		LengthIndicatedFile: "postal_codes_length_indicated.csv",
		OffsetIndexFile:     "offset.idx",

		FileStructureType: "blocked_sequence_set",
		FormatVersion:     "1.0",
		BlockSize:         512,
		MinBlockCapacity:  0.5,
		IndexSchema:       "key:string,rbn:int",
		PrimaryKeyField:   0,
		RecordFieldCount:  6,

		RelinkOnLoad: true,
		KeyDelimiter: "-z",

		ArchiveCodec: "zstd",
		LogLevel:     "info",
	}
}

// Path resolves a configured file name against the data directory.
func (c *Config) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.BlockFile == "" {
		return fmt.Errorf("%w: block file not specified", ErrInvalidConfig)
	}

	if c.BlockIndexFile == "" {
		return fmt.Errorf("%w: block index file not specified", ErrInvalidConfig)
	}

	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: block size must be positive", ErrInvalidConfig)
	}

	if c.MinBlockCapacity < 0 || c.MinBlockCapacity > 1 {
		return fmt.Errorf("%w: min block capacity must be within [0, 1]", ErrInvalidConfig)
	}

	if c.RecordFieldCount <= 0 {
		return fmt.Errorf("%w: record field count must be positive", ErrInvalidConfig)
	}

	if c.PrimaryKeyField < 0 || c.PrimaryKeyField >= c.RecordFieldCount {
		return fmt.Errorf("%w: primary key field %d outside record of %d fields",
			ErrInvalidConfig, c.PrimaryKeyField, c.RecordFieldCount)
	}

	if c.KeyDelimiter == "" {
		return fmt.Errorf("%w: key delimiter not specified", ErrInvalidConfig)
	}

	return nil
}

// LoadConfig reads a JSON configuration file. Missing fields keep their
// defaults relative to the file's directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig(filepath.Dir(path))
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration as JSON via a temporary file and rename.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
