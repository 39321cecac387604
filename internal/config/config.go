package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all client configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	UserAgent  string        `mapstructure:"user_agent"`

	// Endpoint paths on the base URL.
	DataModelPath string `mapstructure:"data_model_path"`
	PushPath      string `mapstructure:"push_path"`
	PullPath      string `mapstructure:"pull_path"`
	ChangesPath   string `mapstructure:"changes_path"` // websocket change feed, optional
}

// StorageConfig for local paths.
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`      // base directory
	StateDir     string `mapstructure:"state_dir"`     // schema hash, token file
	DatabaseFile string `mapstructure:"database_file"` // sqlite replica
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	// TryLaterCode is the server error code treated as a soft push
	// failure: skip this cycle's pull and resubmit next cycle.
	TryLaterCode int `mapstructure:"try_later_code"`

	// RejectedFieldWhitelist lists field names whose server-side
	// rejection is tolerated. A name on the whitelist suppresses the
	// conflict for that field across all rejected objects.
	RejectedFieldWhitelist []string `mapstructure:"rejected_field_whitelist"`

	// AutoSyncInterval enables the periodic sync loop when positive.
	AutoSyncInterval time.Duration `mapstructure:"auto_sync_interval"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // empty = stderr
}

// Default returns config with sensible defaults.
func Default() *Config {
	dataDir := ".lambdaconnect"

	return &Config{
		API: APIConfig{
			Timeout:       30 * time.Second,
			MaxRetries:    3,
			UserAgent:     "lambdaconnect-go/1.0",
			DataModelPath: "/api/v1/data-model",
			PushPath:      "/api/v1/push",
			PullPath:      "/api/v1/pull",
			ChangesPath:   "",
		},
		Storage: StorageConfig{
			DataDir:      dataDir,
			StateDir:     filepath.Join(dataDir, "state"),
			DatabaseFile: filepath.Join(dataDir, "replica.db"),
		},
		Sync: SyncConfig{
			TryLaterCode:     42,
			AutoSyncInterval: 0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}
	if c.API.DataModelPath == "" || c.API.PushPath == "" || c.API.PullPath == "" {
		return errors.New("api endpoint paths are required")
	}
	if c.Storage.DatabaseFile == "" {
		return errors.New("storage.database_file is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.StateDir,
		filepath.Dir(c.Storage.DatabaseFile),
	}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
