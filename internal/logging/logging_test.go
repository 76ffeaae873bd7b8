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

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn", Format: FormatJSON}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", "path", "vol/TEM")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "vol/TEM", rec["path"])
}

func TestNew_TextFormatDefault(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{}, &buf)
	require.NoError(t, err)
	logger.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, _, err := New(Options{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voltree.log")
	logger, closer, err := New(Options{File: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)
	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
