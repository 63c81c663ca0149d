package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var lines []map[string]interface{}
	for _, raw := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(raw), &line), raw)
		lines = append(lines, line)
	}
	return lines
}

func TestNew_FileOutputHonoursLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "weave.log")

	l, err := New(Config{Level: "warn", File: path})
	require.NoError(t, err)

	l.Info().Msg("dropped")
	l.Warn().Str("session_id", "abc").Msg("kept")
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["message"])
	assert.Equal(t, "abc", lines[0]["session_id"])
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Contains(t, lines[0], "time")
}

func TestNew_InstallsGlobalLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.log")

	l, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	log.Logger.Debug().Str("component", "coordinator").Msg("via global")
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "coordinator", lines[0]["component"])
}

func TestNew_RedactsProviderKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.log")

	l, err := New(Config{Level: "info", File: path, Redaction: true})
	require.NoError(t, err)

	l.Info().Str("api_key", "sk-test123456789abcdefghijklmnopqrstuvwxyz").Msg("profile loaded")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[REDACTED]")
	assert.NotContains(t, string(data), "sk-test123456789abcdef")
}

func TestNew_LevelDefaultsAndValidation(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, l.GetZerolog().GetLevel())
	assert.NoError(t, l.Close())

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNew_ConsoleOnly(t *testing.T) {
	l, err := New(Config{Level: "error", Console: true, Pretty: true})
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}
