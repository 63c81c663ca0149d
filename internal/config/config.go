package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main weave configuration
type Config struct {
	// Data directory (snapshots, transcripts, logs)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Root that tool calls are confined to
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`

	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler" mapstructure:"scheduler"`
	Cleanup     CleanupConfig     `json:"cleanup" mapstructure:"cleanup"`
	Persistence PersistenceConfig `json:"persistence" mapstructure:"persistence"`
	Metrics     MetricsConfig     `json:"metrics" mapstructure:"metrics"`
	Audit       AuditConfig       `json:"audit" mapstructure:"audit"`

	// AI configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // MB
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // days
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // rotated files kept
	Compress   bool   `json:"compress" mapstructure:"compress"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
}

// SchedulerConfig sizes the background worker pool and its locking
type SchedulerConfig struct {
	Workers                 int `json:"workers" mapstructure:"workers"`
	Permits                 int `json:"permits" mapstructure:"permits"` // concurrent remote calls, <= workers
	ForegroundLockTimeoutMs int `json:"foreground_lock_timeout_ms" mapstructure:"foreground_lock_timeout_ms"`
	BackgroundLockTimeoutMs int `json:"background_lock_timeout_ms" mapstructure:"background_lock_timeout_ms"`
	LockLeaseSeconds        int `json:"lock_lease_seconds" mapstructure:"lock_lease_seconds"`
	OutputLimit             int `json:"output_limit" mapstructure:"output_limit"` // entries kept per session
}

// CleanupConfig controls idle session eviction
type CleanupConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	IdleTimeoutSeconds int    `json:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
	Schedule           string `json:"schedule" mapstructure:"schedule"` // cron spec
}

// PersistenceConfig controls periodic snapshotting
type PersistenceConfig struct {
	SaveSchedule string `json:"save_schedule" mapstructure:"save_schedule"` // cron spec
}

// MetricsConfig holds the optional prometheus listener
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// AuditConfig holds session lifecycle audit settings
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	File    string `json:"file" mapstructure:"file"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles     []AIProfile `json:"profiles" mapstructure:"profiles"`
	SystemPrompt string      `json:"system_prompt" mapstructure:"system_prompt"`
	MaxToolLoops int         `json:"max_tool_loops" mapstructure:"max_tool_loops"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID        string `json:"id" mapstructure:"id"`
	Provider  string `json:"provider" mapstructure:"provider"` // anthropic, openai, scripted
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
	MaxTokens int    `json:"max_tokens" mapstructure:"max_tokens"`
	Priority  int    `json:"priority" mapstructure:"priority"`
}

var validProviders = []string{"anthropic", "openai", "scripted"}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   true,
			Redaction:  true,
		},
		Scheduler: SchedulerConfig{
			Workers:                 4,
			Permits:                 3,
			ForegroundLockTimeoutMs: 5000,
			BackgroundLockTimeoutMs: 250,
			LockLeaseSeconds:        600,
			OutputLimit:             1000,
		},
		Cleanup: CleanupConfig{
			Enabled:            true,
			IdleTimeoutSeconds: 3600,
			Schedule:           "@every 5m",
		},
		Persistence: PersistenceConfig{
			SaveSchedule: "@every 1m",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		AI: AIConfig{
			Profiles:     []AIProfile{},
			MaxToolLoops: 8,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	s := c.Scheduler
	if s.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be >= 1, got %d", s.Workers)
	}
	if s.Permits < 1 {
		return fmt.Errorf("scheduler.permits must be >= 1, got %d", s.Permits)
	}
	if s.Permits > s.Workers {
		return fmt.Errorf("scheduler.permits (%d) must not exceed scheduler.workers (%d)", s.Permits, s.Workers)
	}
	if s.ForegroundLockTimeoutMs <= 0 || s.BackgroundLockTimeoutMs <= 0 {
		return fmt.Errorf("scheduler lock timeouts must be positive")
	}
	if s.LockLeaseSeconds <= 0 {
		return fmt.Errorf("scheduler.lock_lease_seconds must be positive")
	}
	if s.OutputLimit <= 0 {
		return fmt.Errorf("scheduler.output_limit must be positive")
	}

	if c.Cleanup.Enabled {
		if c.Cleanup.IdleTimeoutSeconds <= 0 {
			return fmt.Errorf("cleanup.idle_timeout_seconds must be positive")
		}
		if c.Cleanup.Schedule == "" {
			return fmt.Errorf("cleanup.schedule is required when cleanup is enabled")
		}
	}

	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", profile.ID)
		}
		seen[profile.ID] = true
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		valid := false
		for _, vp := range validProviders {
			if profile.Provider == vp {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai, scripted)", profile.ID, profile.Provider)
		}
		if profile.Provider != "scripted" && profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	return nil
}

// PrimaryProfile returns the profile with the highest priority, or false when none is configured.
func (c *Config) PrimaryProfile() (AIProfile, bool) {
	if len(c.AI.Profiles) == 0 {
		return AIProfile{}, false
	}
	best := c.AI.Profiles[0]
	for _, p := range c.AI.Profiles[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, true
}

func (s SchedulerConfig) ForegroundLockTimeout() time.Duration {
	return time.Duration(s.ForegroundLockTimeoutMs) * time.Millisecond
}

func (s SchedulerConfig) BackgroundLockTimeout() time.Duration {
	return time.Duration(s.BackgroundLockTimeoutMs) * time.Millisecond
}

func (s SchedulerConfig) LockLease() time.Duration {
	return time.Duration(s.LockLeaseSeconds) * time.Second
}

func (c CleanupConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}
