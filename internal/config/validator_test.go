package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateAPIKey("sk-ant-123", "anthropic"))
	assert.Error(t, v.ValidateAPIKey("sk-123", "anthropic"))
	assert.NoError(t, v.ValidateAPIKey("sk-123", "openai"))
	assert.Error(t, v.ValidateAPIKey("", "openai"))
	assert.NoError(t, v.ValidateAPIKey("", "scripted"))
}

func TestValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule("cleanup.schedule", "@every 5m"))
	assert.NoError(t, v.ValidateSchedule("cleanup.schedule", "*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("cleanup.schedule", "every five minutes"))
	assert.Error(t, v.ValidateSchedule("cleanup.schedule", ""))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(200001))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("defaults are clean", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "loud"
		cfg.Cleanup.Schedule = "sometimes"
		cfg.Scheduler.Permits = 9
		cfg.AI.Profiles = []AIProfile{{ID: "a", Provider: "anthropic", APIKey: "bad"}}

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4)

		var joined []string
		for _, err := range errs {
			joined = append(joined, err.Error())
		}
		all := strings.Join(joined, "\n")
		assert.Contains(t, all, "invalid log level")
		assert.Contains(t, all, "cleanup.schedule")
		assert.Contains(t, all, "must not exceed")
		assert.Contains(t, all, "sk-ant-")
	})
}
