package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 3, cfg.Scheduler.Permits)
	assert.Equal(t, 1000, cfg.Scheduler.OutputLimit)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.LockLease())
	assert.True(t, cfg.Cleanup.Enabled)
	assert.Equal(t, time.Hour, cfg.Cleanup.IdleTimeout())
	assert.Equal(t, "@every 5m", cfg.Cleanup.Schedule)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.AI.Profiles)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "valid anthropic profile",
			mutate: func(c *Config) {
				c.AI.Profiles = []AIProfile{{ID: "p", Provider: "anthropic", APIKey: "sk-ant-x"}}
			},
		},
		{
			name: "scripted profile needs no key",
			mutate: func(c *Config) {
				c.AI.Profiles = []AIProfile{{ID: "offline", Provider: "scripted"}}
			},
		},
		{
			name:    "permits exceed workers",
			mutate:  func(c *Config) { c.Scheduler.Permits = 5 },
			wantErr: "must not exceed",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Scheduler.Workers = 0 },
			wantErr: "scheduler.workers",
		},
		{
			name:    "zero lease",
			mutate:  func(c *Config) { c.Scheduler.LockLeaseSeconds = 0 },
			wantErr: "lock_lease_seconds",
		},
		{
			name:    "cleanup without schedule",
			mutate:  func(c *Config) { c.Cleanup.Schedule = "" },
			wantErr: "cleanup.schedule",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.AI.Profiles = []AIProfile{{ID: "g", Provider: "gemini", APIKey: "k"}}
			},
			wantErr: "invalid provider",
		},
		{
			name: "missing api key",
			mutate: func(c *Config) {
				c.AI.Profiles = []AIProfile{{ID: "o", Provider: "openai"}}
			},
			wantErr: "api_key is required",
		},
		{
			name: "duplicate profile id",
			mutate: func(c *Config) {
				c.AI.Profiles = []AIProfile{
					{ID: "a", Provider: "scripted"},
					{ID: "a", Provider: "scripted"},
				}
			},
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPrimaryProfile(t *testing.T) {
	cfg := DefaultConfig()

	_, ok := cfg.PrimaryProfile()
	assert.False(t, ok)

	cfg.AI.Profiles = []AIProfile{
		{ID: "low", Provider: "scripted", Priority: 1},
		{ID: "high", Provider: "scripted", Priority: 5},
	}
	p, ok := cfg.PrimaryProfile()
	require.True(t, ok)
	assert.Equal(t, "high", p.ID)
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"scheduler"`)
	assert.Contains(t, s, `"permits": 3`)
}
