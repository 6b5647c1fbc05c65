package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, config Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	config.writer = output
	logger, err := New(&config)
	require.NoError(t, err)
	return logger, output
}

func jsonLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level      string
		wantLevels []string
	}{
		{level: "debug", wantLevels: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", wantLevels: []string{"INFO", "WARN", "ERROR"}},
		{level: "WARN", wantLevels: []string{"WARN", "ERROR"}},
		{level: "warning", wantLevels: []string{"WARN", "ERROR"}},
		{level: " error ", wantLevels: []string{"ERROR"}},
		{level: "verbose", wantLevels: []string{"INFO", "WARN", "ERROR"}},
		{level: "", wantLevels: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			logger, output := newBuffered(t, Config{Level: tt.level, Format: "json"})

			logger.Debug("assignment pass")
			logger.Info("ticket admitted")
			logger.Warn("task tick skipped")
			logger.Error("delivery failed")

			var got []string
			for _, entry := range jsonLines(t, output) {
				got = append(got, entry["level"].(string))
			}
			assert.Equal(t, tt.wantLevels, got)
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	logger, output := newBuffered(t, Config{Level: "info", Format: "json"})

	logger.With(slog.String("queue_type", "VIP")).Info("ticket admitted",
		slog.String("code", "T1000"),
		slog.Int("position", 3),
		slog.Bool("proximity_notified", false),
	)

	entries := jsonLines(t, output)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "ticket admitted", entry["msg"])
	assert.Equal(t, "VIP", entry["queue_type"])
	assert.Equal(t, "T1000", entry["code"])
	assert.Equal(t, float64(3), entry["position"])
	assert.Equal(t, false, entry["proximity_notified"])
	assert.Contains(t, entry, "time")
}

func TestNew_Source(t *testing.T) {
	logger, output := newBuffered(t, Config{Format: "json", EnableSource: true})

	logger.Info("with source")

	entries := jsonLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source["file"], "logger_test.go")
}

func TestNew_Console(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		noColor   bool
		wantColor bool
	}{
		{name: "colored", format: "console", wantColor: true},
		{name: "no color", format: "console", noColor: true},
		{name: "empty format is console", format: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, output := newBuffered(t, Config{Format: tt.format, NoColor: tt.noColor || !tt.wantColor})

			logger.Info("engine started", slog.Int("tasks", 3))

			// tint abbreviates levels
			assert.Contains(t, output.String(), "INF")
			assert.Contains(t, output.String(), "engine started")
			assert.Equal(t, tt.wantColor, strings.Contains(output.String(), "\x1b["))
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "engine.log")

	logger, err := New(&Config{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("ticket_id", "t-1"))
	require.NoError(t, logger.Close())

	// reopening appends
	logger, err = New(&Config{Level: "info", Format: "console", Output: path})
	require.NoError(t, err)
	logger.Info("second run")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "ticket_id=t-1")
	assert.Contains(t, string(data), "second run")
	assert.NotContains(t, string(data), "\x1b[", "file output has no color codes")
}

func TestNew_FileOutputError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := New(&Config{Output: filepath.Join(blocker, "nested", "app.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create log directory")
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger, err := New(&Config{Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.With("k", "v").Close())
}

func TestLogger_Component(t *testing.T) {
	logger, output := newBuffered(t, Config{Format: "json"})

	logger.Component("outbox").Info("drained", slog.Int("sent", 2))

	entries := jsonLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "outbox", entries[0]["component"])
	assert.Equal(t, float64(2), entries[0]["sent"])
}
