package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "WEAVE"
	configDirName  = ".weave"
	configFileName = "weave.json"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file. A missing file yields the defaults;
// WEAVE_* environment variables override either.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, configDirName)
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "weave.log")
	}

	if cfg.Audit.Enabled && cfg.Audit.File == "" {
		cfg.Audit.File = filepath.Join(cfg.DataDir, "audit.log")
	}

	if cfg.WorkspacePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		cfg.WorkspacePath = wd
	}

	return cfg, nil
}

// bindEnvKeys registers the nested keys AutomaticEnv cannot discover on its
// own when they are absent from the config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"data_dir",
		"workspace_path",
		"logging.level",
		"logging.file",
		"scheduler.workers",
		"scheduler.permits",
		"scheduler.foreground_lock_timeout_ms",
		"scheduler.background_lock_timeout_ms",
		"scheduler.lock_lease_seconds",
		"cleanup.enabled",
		"cleanup.idle_timeout_seconds",
		"cleanup.schedule",
		"persistence.save_schedule",
		"metrics.enabled",
		"metrics.addr",
		"audit.enabled",
	} {
		_ = v.BindEnv(key)
	}
}

// SessionsDir is where snapshots and transcripts live
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("data_dir", cfg.DataDir)
	v.Set("workspace_path", cfg.WorkspacePath)
	v.Set("logging", cfg.Logging)
	v.Set("scheduler", cfg.Scheduler)
	v.Set("cleanup", cfg.Cleanup)
	v.Set("persistence", cfg.Persistence)
	v.Set("metrics", cfg.Metrics)
	v.Set("audit", cfg.Audit)
	v.Set("ai", cfg.AI)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
