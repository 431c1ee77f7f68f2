package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the runtime configuration of the server.
type Settings struct {
	Port    string `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	// InMemory keeps everything in memory (badger in-memory mode)
	InMemory bool `yaml:"in_memory"`

	MaxStorageGB int64 `yaml:"max_storage_gb"`
	MaxMemoryMB  int64 `yaml:"max_memory_mb"`

	// Retention deletes measurements older than this when > 0
	Retention time.Duration `yaml:"retention"`

	// MaxExportWindow rejects longer export windows when > 0
	MaxExportWindow time.Duration `yaml:"max_export_window"`

	// MaxMultiBoxRows caps multi box exports when > 0
	MaxMultiBoxRows int `yaml:"max_multibox_rows"`

	// CORSOrigins lists allowed origins; empty allows all
	CORSOrigins []string `yaml:"cors_origins"`

	// BoxesFile is a YAML or JSON list of box documents loaded at startup
	BoxesFile string `yaml:"boxes_file"`
}

// Default returns the settings used when nothing is configured.
func Default() *Settings {
	return &Settings{
		Port:         DefaultPort,
		DataDir:      DefaultDataDir,
		MaxStorageGB: DefaultMaxStorageGB,
		MaxMemoryMB:  DefaultMaxMemoryMB,
	}
}

// Load builds settings in three layers: defaults, the YAML file at path (if
// path is not empty) and OSEM_* environment variables. A .env file in the
// working directory is loaded into the environment first when present.
func Load(path string) (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Settings) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Settings) applyEnv() {
	if v := os.Getenv("OSEM_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("OSEM_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	c.MaxStorageGB = getEnvInt64("OSEM_MAX_STORAGE_GB", c.MaxStorageGB)
	c.MaxMemoryMB = getEnvInt64("OSEM_MAX_MEMORY_MB", c.MaxMemoryMB)
	c.InMemory = getEnvBool("OSEM_IN_MEMORY", c.InMemory)
	c.Retention = getEnvDuration("OSEM_RETENTION", c.Retention)
	if v := os.Getenv("OSEM_BOXES_FILE"); v != "" {
		c.BoxesFile = v
	}
}

// Validate rejects settings the server cannot start with.
func (c *Settings) Validate() error {
	if c.Port == "" {
		return errors.New("port must be set")
	}
	if !c.InMemory && c.DataDir == "" {
		return errors.New("data_dir must be set unless in_memory is true")
	}
	if c.MaxStorageGB <= 0 {
		return fmt.Errorf("max_storage_gb must be positive, got %d", c.MaxStorageGB)
	}
	if c.MaxMemoryMB < 0 {
		return fmt.Errorf("max_memory_mb cannot be negative, got %d", c.MaxMemoryMB)
	}
	if c.Retention < 0 || c.MaxExportWindow < 0 || c.MaxMultiBoxRows < 0 {
		return errors.New("retention, max_export_window and max_multibox_rows cannot be negative")
	}
	return nil
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %t", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}
