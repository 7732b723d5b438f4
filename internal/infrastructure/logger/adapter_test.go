package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerAdapter_FieldsReachCore(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core))

	log.WithField("component", "fetcher").Info("Fetching", "url", "https://example.com")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Fetching", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "fetcher", ctx["component"])
	assert.Equal(t, "https://example.com", ctx["url"])
}

func TestLoggerAdapter_WritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLoggerAdapter(Config{Level: "debug", Dir: dir, Session: "what is go?", MaxSizeMB: 1})
	require.NoError(t, err)

	log.Debug("hello", "n", 1)
	require.NoError(t, log.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*_what_is_go_.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a_b-c", sanitize("a b-c"))
	assert.Equal(t, "session", sanitize(""))
	assert.Len(t, sanitize(string(make([]byte, 100))), 60)
}
