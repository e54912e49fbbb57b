package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/config"
)

func writeSilence(t *testing.T, path string) {
	t.Helper()
	const rate, dataSize = 8000, 16000
	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:16], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], rate)
	binary.LittleEndian.PutUint32(buf[28:32], rate*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestRunAnalyzePrintsComment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "555.wav")
	writeSilence(t, path)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var out bytes.Buffer
	require.NoError(t, runAnalyze(context.Background(), config.Config{}, logger, path, &out))
	assert.Contains(t, out.String(), "Automatic call analysis")
	assert.Contains(t, out.String(), "555")
}

func TestRunAnalyzeJSONAndFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "556.wav")
	writeSilence(t, path)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	analyzeJSON, analyzeOutDir = true, filepath.Join(dir, "out")
	t.Cleanup(func() { analyzeJSON, analyzeOutDir = false, "" })

	var out bytes.Buffer
	require.NoError(t, runAnalyze(context.Background(), config.Config{}, logger, path, &out))
	var r analysis.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.Equal(t, "556", r.CallID)
	assert.InDelta(t, 1.0, r.DurationSeconds, 0.01)
	assert.FileExists(t, filepath.Join(dir, "out", "556_summary.txt"))
}

func TestRunAnalyzeMissingFile(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := runAnalyze(context.Background(), config.Config{}, logger, filepath.Join(t.TempDir(), "nope.wav"), io.Discard)
	assert.Error(t, err)
}
