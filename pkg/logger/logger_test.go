package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := Get()
	Set(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { Set(old) })
	return &buf
}

func TestInfof(t *testing.T) {
	buf := capture(t)

	Infof("starting %s on port %d", "api", 8181)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "starting api on port 8181", entry["msg"])
}

func TestInfowAddsFields(t *testing.T) {
	buf := capture(t)

	Infow("backend selected", "backend", "cluster")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "backend selected", entry["msg"])
	assert.Equal(t, "cluster", entry["backend"])
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	old := Get()
	Set(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { Set(old) })

	Debugf("noisy %d", 1)
	assert.Empty(t, buf.String())
}
