package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizardRun(t *testing.T) {
	t.Run("anthropic with retry on bad key", func(t *testing.T) {
		in := strings.NewReader("anthropic\nbad-key\nsk-ant-good\nclaude-sonnet-4-5\n6\n2\ndebug\n")
		var out bytes.Buffer

		cfg, err := NewWizard(in, &out).Run()

		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "sk-ant-good", cfg.AI.Profiles[0].APIKey)
		assert.Equal(t, "claude-sonnet-4-5", cfg.AI.Profiles[0].Model)
		assert.Equal(t, 6, cfg.Scheduler.Workers)
		assert.Equal(t, 2, cfg.Scheduler.Permits)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Contains(t, out.String(), "Error:")
		assert.NoError(t, cfg.Validate())
	})

	t.Run("scripted with defaults and capped permits", func(t *testing.T) {
		in := strings.NewReader("scripted\n2\n5\n\n")
		var out bytes.Buffer

		cfg, err := NewWizard(in, &out).Run()

		require.NoError(t, err)
		assert.Equal(t, "scripted", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, 2, cfg.Scheduler.Workers)
		assert.Equal(t, 2, cfg.Scheduler.Permits)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewWizard(strings.NewReader("gemini\n"), &bytes.Buffer{}).Run()
		assert.Error(t, err)
	})
}
