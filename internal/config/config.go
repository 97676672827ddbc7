package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/strandtools/webrelay/internal/bridge"
	"github.com/strandtools/webrelay/internal/catalog"
)

// Config is the full broker configuration, loaded from TOML with
// WEBRELAY_* environment overrides applied on top. Out-of-range values
// are clamped, not rejected, so a bad knob never stops the process.
type Config struct {
	Server         ServerConfig      `toml:"server"`
	Backend        BackendConfig     `toml:"backend"`
	Timeouts       TimeoutConfig     `toml:"timeouts"`
	Events         EventConfig       `toml:"events"`
	Workflow       WorkflowConfig    `toml:"workflow"`
	Recovery       RecoveryConfig    `toml:"recovery"`
	Proxy          ProxyConfig       `toml:"proxy"`
	Log            LogConfig         `toml:"log"`
	DefaultProfile string            `toml:"default_profile"`
	Routing        map[string]string `toml:"routing"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type BackendConfig struct {
	Engine   string         `toml:"engine"`
	Headless bool           `toml:"headless"`
	Viewport ViewportConfig `toml:"viewport"`
}

type ViewportConfig struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

type TimeoutConfig struct {
	CallSeconds     int `toml:"call_seconds"`
	StageSeconds    int `toml:"stage_seconds"`
	ShutdownSeconds int `toml:"shutdown_seconds"`
}

type EventConfig struct {
	Capacity int `toml:"capacity"`
}

type WorkflowConfig struct {
	StateDir string `toml:"state_dir"`
}

type RecoveryConfig struct {
	LogFile string `toml:"log_file"`
}

type ProxyConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Clamp bounds. Viewports below the minimum are useless for page
// automation; ring capacities above the maximum waste memory for no
// querying benefit.
const (
	minViewportWidth  = 320
	minViewportHeight = 240
	minEventCapacity  = 100
	maxEventCapacity  = 100000
	minCallSeconds    = 1
	maxCallSeconds    = 300
)

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 7777},
		Backend: BackendConfig{
			Engine:   string(bridge.BackendPlaywright),
			Headless: true,
			Viewport: ViewportConfig{Width: 1280, Height: 720},
		},
		Timeouts: TimeoutConfig{CallSeconds: 30, StageSeconds: 120, ShutdownSeconds: 10},
		Events:   EventConfig{Capacity: 2000},
		Workflow: WorkflowConfig{StateDir: defaultStateDir()},
		Recovery: RecoveryConfig{LogFile: defaultRecoveryLog()},
		Proxy:    ProxyConfig{Enabled: false, Port: 19888},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
		DefaultProfile: "full",
		Routing:        map[string]string{},
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".webrelay/workflows"
	}
	return home + "/.webrelay/workflows"
}

func defaultRecoveryLog() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".webrelay/recovery.json"
	}
	return home + "/.webrelay/recovery.json"
}

// Load reads the TOML file at path (missing file means defaults),
// applies environment overrides, validates, and clamps.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.clamp()
	return cfg, nil
}

// applyEnv maps WEBRELAY_* variables onto the config. Unset variables
// leave the file/default value in place; unparsable numbers are
// ignored rather than fatal.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WEBRELAY_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v, ok := envInt("WEBRELAY_PORT"); ok {
		cfg.Server.Port = v
	}
	if v := os.Getenv("WEBRELAY_ENGINE"); v != "" {
		cfg.Backend.Engine = v
	}
	if v := os.Getenv("WEBRELAY_HEADLESS"); v != "" {
		cfg.Backend.Headless = v != "false" && v != "0"
	}
	if v, ok := envInt("WEBRELAY_VIEWPORT_WIDTH"); ok {
		cfg.Backend.Viewport.Width = v
	}
	if v, ok := envInt("WEBRELAY_VIEWPORT_HEIGHT"); ok {
		cfg.Backend.Viewport.Height = v
	}
	if v, ok := envInt("WEBRELAY_CALL_TIMEOUT"); ok {
		cfg.Timeouts.CallSeconds = v
	}
	if v, ok := envInt("WEBRELAY_EVENT_CAPACITY"); ok {
		cfg.Events.Capacity = v
	}
	if v := os.Getenv("WEBRELAY_STATE_DIR"); v != "" {
		cfg.Workflow.StateDir = v
	}
	if v := os.Getenv("WEBRELAY_RECOVERY_LOG"); v != "" {
		cfg.Recovery.LogFile = v
	}
	if v := os.Getenv("WEBRELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WEBRELAY_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("WEBRELAY_PROFILE"); v != "" {
		cfg.DefaultProfile = v
	}
	if v := os.Getenv("WEBRELAY_PROXY_ENABLED"); v != "" {
		cfg.Proxy.Enabled = v == "true" || v == "1"
	}
	if v, ok := envInt("WEBRELAY_PROXY_PORT"); ok {
		cfg.Proxy.Port = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// validate rejects values that clamping cannot repair.
func (c *Config) validate() error {
	if _, err := bridge.ParseBackendID(c.Backend.Engine); err != nil {
		return fmt.Errorf("backend.engine: %w", err)
	}
	for name, backend := range c.Routing {
		if _, err := catalog.ParseCategory(name); err != nil {
			return fmt.Errorf("routing.%s: %w", name, err)
		}
		if _, err := bridge.ParseBackendID(backend); err != nil {
			return fmt.Errorf("routing.%s: %w", name, err)
		}
	}
	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
		}
	}
	return nil
}

func (c *Config) clamp() {
	if c.Backend.Viewport.Width < minViewportWidth {
		c.Backend.Viewport.Width = minViewportWidth
	}
	if c.Backend.Viewport.Height < minViewportHeight {
		c.Backend.Viewport.Height = minViewportHeight
	}
	if c.Events.Capacity < minEventCapacity {
		c.Events.Capacity = minEventCapacity
	}
	if c.Events.Capacity > maxEventCapacity {
		c.Events.Capacity = maxEventCapacity
	}
	if c.Timeouts.CallSeconds < minCallSeconds {
		c.Timeouts.CallSeconds = minCallSeconds
	}
	if c.Timeouts.CallSeconds > maxCallSeconds {
		c.Timeouts.CallSeconds = maxCallSeconds
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		c.Server.Port = 7777
	}
	if c.Timeouts.ShutdownSeconds < 1 {
		c.Timeouts.ShutdownSeconds = 10
	}
}

// CallTimeout returns the per-call dispatch deadline.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Timeouts.CallSeconds) * time.Second
}

// ShutdownTimeout returns the graceful-shutdown grace period.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Timeouts.ShutdownSeconds) * time.Second
}

// RoutingOverrides converts the string map into typed category/backend
// pairs. validate has already vetted both sides.
func (c *Config) RoutingOverrides() map[catalog.Category]bridge.BackendID {
	out := make(map[catalog.Category]bridge.BackendID, len(c.Routing))
	for name, backend := range c.Routing {
		cat, _ := catalog.ParseCategory(name)
		id, _ := bridge.ParseBackendID(backend)
		out[cat] = id
	}
	return out
}
