package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the settings needed to open the storage engine.
// Precedence: environment variables > config file > defaults.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Log     LogConfig     `toml:"log"`
}

// StorageConfig locates the on-disk tree and sizes the entity cache.
type StorageConfig struct {
	BaseDir         string `toml:"base_dir"`
	CacheSize       int    `toml:"cache_size"`
	MaxHistoryDepth int    `toml:"max_history_depth"` // default for new plans that don't set one explicitly
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Load creates a Config by reading from a TOML config file and environment
// variables. Precedence: environment variables > config file > defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter (from --config flag)
//  2. SPECVAULT_CONFIG environment variable
//  3. ./specvault.toml (current directory)
//  4. ~/.config/specvault/specvault.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables always
// override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			BaseDir:         "./.specvault",
			CacheSize:       500,
			MaxHistoryDepth: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil // no config file found; rely on defaults + env
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty string
// if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit // caller wants this file; let DecodeFile report if missing
	}

	if p := os.Getenv("SPECVAULT_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("specvault.toml"); err == nil {
		return "specvault.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/specvault/specvault.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config values.
// An env var only takes effect if it is non-empty.
func (c *Config) applyEnv() {
	envOverride("SPECVAULT_BASE_DIR", &c.Storage.BaseDir)
	envOverride("SPECVAULT_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("SPECVAULT_CACHE_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Storage.CacheSize = n
		}
	}
	if v := os.Getenv("SPECVAULT_MAX_HISTORY_DEPTH"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n >= 0 {
			c.Storage.MaxHistoryDepth = n
		}
	}
}

// Validate checks that required fields are present and sane.
func (c *Config) Validate() error {
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage base_dir must not be empty")
	}
	if c.Storage.CacheSize <= 0 {
		return fmt.Errorf("storage cache_size must be positive, got %d", c.Storage.CacheSize)
	}
	if c.Storage.MaxHistoryDepth < 0 || c.Storage.MaxHistoryDepth > 10 {
		return fmt.Errorf("storage max_history_depth must be between 0 and 10, got %d", c.Storage.MaxHistoryDepth)
	}
	return nil
}

// envOverride sets *dst to the value of the named env var, if it is non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
