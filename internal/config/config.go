// Package config loads taskfuse configuration with viper.
//
// The config file lives at <home>/config.yaml where <home> is
// $TASKFUSE_HOME or ~/.taskfuse. Provider blocks configure sync behavior
// per provider; everything has a default so a missing file works.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/taskfuse/taskfuse/internal/appsync"
)

// File names inside the taskfuse home directory.
const (
	configFile      = "config.yaml"
	todoDBFile      = "todos.db"
	mappingDBFile   = "sync.db"
	credentialsFile = "credentials.json"
	daemonLogFile   = "daemon.log"
)

// Config is the root configuration.
type Config struct {
	home string

	// DashboardPort is where the dashboard server listens.
	DashboardPort int `mapstructure:"dashboard_port" yaml:"dashboard_port"`

	// Providers configures each sync provider by name.
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderConfig is the YAML shape of one provider block.
type ProviderConfig struct {
	Enabled          bool              `mapstructure:"enabled" yaml:"enabled"`
	Direction        string            `mapstructure:"sync_direction" yaml:"sync_direction"`
	ConflictStrategy string            `mapstructure:"conflict_strategy" yaml:"conflict_strategy"`
	AutoSync         bool              `mapstructure:"auto_sync" yaml:"auto_sync"`
	SyncInterval     time.Duration     `mapstructure:"sync_interval" yaml:"sync_interval"`
	SyncCompleted    bool              `mapstructure:"sync_completed" yaml:"sync_completed"`
	SyncArchived     bool              `mapstructure:"sync_archived" yaml:"sync_archived"`
	MaxRetries       int               `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds   int               `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RateLimitRPM     int               `mapstructure:"rate_limit_rpm" yaml:"rate_limit_rpm"`
	ProjectMappings  map[string]string `mapstructure:"project_mappings" yaml:"project_mappings,omitempty"`
	TagMappings      map[string]string `mapstructure:"tag_mappings" yaml:"tag_mappings,omitempty"`
	Settings         map[string]string `mapstructure:"settings" yaml:"settings,omitempty"`
}

// Home resolves the taskfuse home directory.
func Home() (string, error) {
	if h := os.Getenv("TASKFUSE_HOME"); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".taskfuse"), nil
}

// Load reads the config file from the taskfuse home directory.
// A missing file yields a default config.
func Load() (*Config, error) {
	home, err := Home()
	if err != nil {
		return nil, err
	}
	return LoadFrom(home)
}

// LoadFrom reads the config file from an explicit directory.
func LoadFrom(home string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(home, configFile))
	v.SetConfigType("yaml")

	v.SetDefault("dashboard_port", 8422)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := &Config{home: home}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	return cfg, nil
}

// Save writes the config back to disk as YAML.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.home, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.home, configFile), data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Paths derived from the home directory.

func (c *Config) TodoDBPath() string      { return filepath.Join(c.home, todoDBFile) }
func (c *Config) MappingDBPath() string   { return filepath.Join(c.home, mappingDBFile) }
func (c *Config) CredentialsPath() string { return filepath.Join(c.home, credentialsFile) }
func (c *Config) DaemonLogPath() string   { return filepath.Join(c.home, daemonLogFile) }

// SyncConfigs converts the provider blocks into sync engine configs,
// filling unset fields with the engine defaults.
func (c *Config) SyncConfigs() []*appsync.Config {
	out := make([]*appsync.Config, 0, len(c.Providers))
	for name, pc := range c.Providers {
		cfg := appsync.DefaultConfig(appsync.Provider(name))
		cfg.Enabled = pc.Enabled
		cfg.AutoSync = pc.AutoSync
		cfg.SyncCompleted = pc.SyncCompleted
		cfg.SyncArchived = pc.SyncArchived

		if pc.Direction != "" {
			cfg.Direction = appsync.Direction(pc.Direction)
		}
		if pc.ConflictStrategy != "" {
			cfg.Strategy = appsync.Strategy(pc.ConflictStrategy)
		}
		if pc.SyncInterval > 0 {
			cfg.SyncInterval = pc.SyncInterval
		}
		if pc.MaxRetries > 0 {
			cfg.MaxRetries = pc.MaxRetries
		}
		if pc.TimeoutSeconds > 0 {
			cfg.Timeout = time.Duration(pc.TimeoutSeconds) * time.Second
		}
		if pc.RateLimitRPM > 0 {
			cfg.RequestsPerMinute = pc.RateLimitRPM
		}
		if pc.ProjectMappings != nil {
			cfg.ProjectMappings = pc.ProjectMappings
		}
		if pc.TagMappings != nil {
			cfg.TagMappings = pc.TagMappings
		}
		if pc.Settings != nil {
			cfg.Settings = pc.Settings
		}
		out = append(out, cfg)
	}
	return out
}
