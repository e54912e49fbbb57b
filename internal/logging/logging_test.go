package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLogsJSON(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(Options{Environment: "production", Stdout: &buf})
	defer closer.Close()
	log.Info("job finished", "call_id", "42")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "42", rec["call_id"])
}

func TestLevelFiltersAndFileTee(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "app.log")
	log, closer := New(Options{Level: "warn", File: path, MaxSizeMB: 1, Stdout: &buf})
	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, closer.Close())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
}
