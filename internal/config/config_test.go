package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recbind.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
database: /tmp/tasks.db
save_delay: 250ms
log_level: debug
collections:
  - name: task
    id_attribute: key
    schema: |
      status?: "open" | "done"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tasks.db", cfg.Database)
	assert.Equal(t, 250*time.Millisecond, cfg.SaveDelay.Std())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	require.Len(t, cfg.Collections, 1)
	assert.Equal(t, "task", cfg.Collections[0].Name)
	assert.Equal(t, "key", cfg.Collections[0].IDAttribute)
	assert.Contains(t, cfg.Collections[0].Schema, `"open" | "done"`)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "collections:\n  - name: task\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, 700*time.Millisecond, cfg.SaveDelay.Std())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Empty(t, cfg.Collections[0].IDAttribute)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown field", "databse: x.db\n", "field databse not found"},
		{"bad duration", "save_delay: soon\n", "invalid duration"},
		{"numeric duration", "save_delay: [1]\n", "duration must be a string"},
		{"negative duration", "save_delay: -1s\n", "save_delay must not be negative"},
		{"bad level", "log_level: loud\n", `log_level "loud"`},
		{"unnamed collection", "collections:\n  - id_attribute: id\n", "collections[0]: name is required"},
		{"duplicate collection", "collections:\n  - name: task\n  - name: task\n", `collections[1]: duplicate collection "task"`},
		{"malformed", "collections: [\n", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCollection(t *testing.T) {
	cfg, err := Parse([]byte("collections:\n  - name: task\n  - name: note\n"))
	require.NoError(t, err)

	col, ok := cfg.Collection("note")
	assert.True(t, ok)
	assert.Equal(t, "note", col.Name)

	_, ok = cfg.Collection("user")
	assert.False(t, ok)
}

func TestSlogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), in)
	}
}
