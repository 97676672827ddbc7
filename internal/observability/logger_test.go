package observability

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/strandtools/webrelay/internal/config"
)

type syncBuffer struct {
	bytes.Buffer
}

func (*syncBuffer) Sync() error { return nil }

func TestLoggerWritesConsole(t *testing.T) {
	buf := &syncBuffer{}
	logger, err := newLogger(config.LogConfig{Level: "debug"}, zapcore.AddSync(buf))
	require.NoError(t, err)

	logger.Info("broker ready", zap.String("port", "7777"))
	require.NoError(t, logger.Sync())
	out := buf.String()
	assert.Contains(t, out, "broker ready")
	assert.Contains(t, out, "webrelay")
}

func TestLoggerLevelFiltering(t *testing.T) {
	buf := &syncBuffer{}
	logger, err := newLogger(config.LogConfig{Level: "warn"}, zapcore.AddSync(buf))
	require.NoError(t, err)

	logger.Debug("invisible")
	logger.Warn("visible")
	require.NoError(t, logger.Sync())
	assert.NotContains(t, buf.String(), "invisible")
	assert.Contains(t, buf.String(), "visible")
}

func TestLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	buf := &syncBuffer{}
	logger, err := newLogger(config.LogConfig{Level: ""}, zapcore.AddSync(buf))
	require.NoError(t, err)

	logger.Debug("hidden at info")
	logger.Info("shown")
	require.NoError(t, logger.Sync())
	assert.NotContains(t, buf.String(), "hidden at info")
	assert.Contains(t, buf.String(), "shown")
}

func TestLoggerFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webrelay.log")
	logger, err := newLogger(config.LogConfig{
		Level:      "info",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	}, zapcore.AddSync(&syncBuffer{}))
	require.NoError(t, err)

	logger.Info("file sink check")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"file sink check"`)
}
