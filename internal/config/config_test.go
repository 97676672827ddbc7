package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandtools/webrelay/internal/bridge"
	"github.com/strandtools/webrelay/internal/catalog"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "playwright", cfg.Backend.Engine)
	assert.Equal(t, 1280, cfg.Backend.Viewport.Width)
	assert.Equal(t, 2000, cfg.Events.Capacity)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout())
	assert.Equal(t, "full", cfg.DefaultProfile)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_profile = "core"

[server]
port = 9000

[backend]
engine = "devtools"
headless = false

[events]
capacity = 500

[routing]
evaluation = "playwright"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "devtools", cfg.Backend.Engine)
	assert.False(t, cfg.Backend.Headless)
	assert.Equal(t, 500, cfg.Events.Capacity)
	assert.Equal(t, "core", cfg.DefaultProfile)

	overrides := cfg.RoutingOverrides()
	assert.Equal(t, bridge.BackendPlaywright, overrides[catalog.CategoryEvaluation])
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEBRELAY_PORT", "8123")
	t.Setenv("WEBRELAY_ENGINE", "devtools")
	t.Setenv("WEBRELAY_EVENT_CAPACITY", "300")
	t.Setenv("WEBRELAY_HEADLESS", "false")
	t.Setenv("WEBRELAY_PROFILE", "pipeline")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "devtools", cfg.Backend.Engine)
	assert.Equal(t, 300, cfg.Events.Capacity)
	assert.False(t, cfg.Backend.Headless)
	assert.Equal(t, "pipeline", cfg.DefaultProfile)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9000\n"), 0644))
	t.Setenv("WEBRELAY_PORT", "9001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

func TestUnparsableEnvIgnored(t *testing.T) {
	t.Setenv("WEBRELAY_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestClamping(t *testing.T) {
	t.Setenv("WEBRELAY_VIEWPORT_WIDTH", "10")
	t.Setenv("WEBRELAY_VIEWPORT_HEIGHT", "10")
	t.Setenv("WEBRELAY_EVENT_CAPACITY", "5")
	t.Setenv("WEBRELAY_CALL_TIMEOUT", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 320, cfg.Backend.Viewport.Width)
	assert.Equal(t, 240, cfg.Backend.Viewport.Height)
	assert.Equal(t, 100, cfg.Events.Capacity)
	assert.Equal(t, time.Second, cfg.CallTimeout())

	t.Setenv("WEBRELAY_EVENT_CAPACITY", "9999999")
	t.Setenv("WEBRELAY_CALL_TIMEOUT", "100000")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 100000, cfg.Events.Capacity)
	assert.Equal(t, 300*time.Second, cfg.CallTimeout())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("WEBRELAY_ENGINE", "selenium")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejectsBadRouting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webrelay.toml")
	require.NoError(t, os.WriteFile(path, []byte("[routing]\nnonsense = \"playwright\"\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[routing]\nevaluation = \"selenium\"\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	t.Setenv("WEBRELAY_LOG_LEVEL", "chatty")
	_, err := Load("")
	assert.Error(t, err)
}
