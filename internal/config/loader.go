package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from a file plus environment overrides.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader. configPath may be empty, in which
// case default locations are searched.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "LAMBDACONNECT",
	}
}

// Load resolves the final configuration.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	l.setDefaults(v)

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		v.SetConfigName("lambdaconnect")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/lambdaconnect")
		if err := v.ReadInConfig(); err != nil {
			// Missing file is fine; anything else is not.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (l *Loader) setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("api.timeout", def.API.Timeout)
	v.SetDefault("api.max_retries", def.API.MaxRetries)
	v.SetDefault("api.user_agent", def.API.UserAgent)
	v.SetDefault("api.data_model_path", def.API.DataModelPath)
	v.SetDefault("api.push_path", def.API.PushPath)
	v.SetDefault("api.pull_path", def.API.PullPath)

	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("storage.state_dir", def.Storage.StateDir)
	v.SetDefault("storage.database_file", def.Storage.DatabaseFile)

	v.SetDefault("sync.try_later_code", def.Sync.TryLaterCode)
	v.SetDefault("sync.auto_sync_interval", def.Sync.AutoSyncInterval)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
}
