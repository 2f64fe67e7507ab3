// Package config handles devbridge.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/device-bridge/bridge"
	"github.com/wippyai/device-bridge/device"
	"github.com/wippyai/device-bridge/errors"
)

// FileName is the configuration file looked up by the CLI.
const FileName = "devbridge.toml"

// Config represents a devbridge.toml file.
type Config struct {
	Bridge BridgeConfig `toml:"bridge"`
	Log    LogConfig    `toml:"log"`
	Device DeviceConfig `toml:"device"`
	Script ScriptConfig `toml:"script"`
	Wasm   WasmConfig   `toml:"wasm"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// BridgeConfig limits live resources. Zero means unlimited.
type BridgeConfig struct {
	MaxHandles     int `toml:"max_handles"`
	MaxBuffers     int `toml:"max_buffers"`
	MaxBufferBytes int `toml:"max_buffer_bytes"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Format      string `toml:"format"` // console or json
	Development bool   `toml:"development"`
}

// DeviceConfig describes the simulated device. Empty lists keep the
// built-in defaults.
type DeviceConfig struct {
	Name      string           `toml:"name"`
	UDID      string           `toml:"udid"`
	Latency   Duration         `toml:"latency"`
	Processes []device.Process `toml:"processes"`
	Apps      []device.App     `toml:"apps"`
	Services  []device.Service `toml:"services"`
}

// ScriptConfig configures the JavaScript runner.
type ScriptConfig struct {
	Path    string `toml:"path"`
	Prelude bool   `toml:"prelude"`
}

// WasmConfig configures the WebAssembly guest host.
type WasmConfig struct {
	Path             string `toml:"path"`
	Entry            string `toml:"entry"`
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	dev := device.DefaultConfig()
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Device: DeviceConfig{
			Name: dev.Name,
			UDID: dev.UDID,
		},
		Script: ScriptConfig{Prelude: true},
		Wasm: WasmConfig{
			Entry:            "_start",
			MemoryLimitPages: 256,
		},
	}
}

// Load parses a configuration file. Keys absent from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes TOML data over the defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidRequest).
			Detail("unknown keys: %s", strings.Join(keys, ", ")).
			Build()
	}
	return c, nil
}

// FindAndLoad walks up from startDir looking for devbridge.toml. It returns
// the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

func invalid(path []string, format string, args ...any) *errors.Error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidRequest).
		Path(path...).
		Detail(format, args...).
		Build()
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	limits := []struct {
		key   string
		value int
	}{
		{"max_handles", c.Bridge.MaxHandles},
		{"max_buffers", c.Bridge.MaxBuffers},
		{"max_buffer_bytes", c.Bridge.MaxBufferBytes},
	}
	for _, l := range limits {
		if l.value < 0 {
			return invalid([]string{"bridge", l.key}, "must not be negative, got %d", l.value)
		}
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid([]string{"log", "level"}, "unknown level %q", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return invalid([]string{"log", "format"}, "must be console or json, got %q", c.Log.Format)
	}

	if c.Device.Latency.Duration < 0 {
		return invalid([]string{"device", "latency"}, "must not be negative")
	}
	pids := make(map[int64]bool, len(c.Device.Processes))
	for i, p := range c.Device.Processes {
		if p.PID <= 0 {
			return invalid([]string{"device", "processes", fmt.Sprint(i), "pid"}, "must be positive")
		}
		if pids[p.PID] {
			return invalid([]string{"device", "processes", fmt.Sprint(i), "pid"}, "duplicate pid %d", p.PID)
		}
		pids[p.PID] = true
	}
	for i, a := range c.Device.Apps {
		if a.BundleID == "" {
			return invalid([]string{"device", "apps", fmt.Sprint(i), "bundle_id"}, "must not be empty")
		}
		if a.Type != "User" && a.Type != "System" {
			return invalid([]string{"device", "apps", fmt.Sprint(i), "type"}, "must be User or System, got %q", a.Type)
		}
	}

	if c.Wasm.MemoryLimitPages > 65536 {
		return invalid([]string{"wasm", "memory_limit_pages"}, "must be at most 65536")
	}
	return nil
}

// Limits returns the bridge resource limits.
func (c *Config) Limits() bridge.Limits {
	return bridge.Limits{
		MaxHandles:     c.Bridge.MaxHandles,
		MaxBuffers:     c.Bridge.MaxBuffers,
		MaxBufferBytes: c.Bridge.MaxBufferBytes,
	}
}

// DeviceConfig returns the simulator description, filling unset lists from
// the defaults.
func (c *Config) DeviceConfig() device.Config {
	dev := device.DefaultConfig()
	if c.Device.Name != "" {
		dev.Name = c.Device.Name
	}
	if c.Device.UDID != "" {
		dev.UDID = c.Device.UDID
	}
	if len(c.Device.Processes) > 0 {
		dev.Processes = c.Device.Processes
	}
	if len(c.Device.Apps) > 0 {
		dev.Apps = c.Device.Apps
	}
	if len(c.Device.Services) > 0 {
		dev.Services = c.Device.Services
	}
	dev.Latency = c.Device.Latency.Duration
	return dev
}

// NewLogger builds the zap logger described by the log section.
func (c *Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, invalid([]string{"log", "level"}, "unknown level %q", c.Log.Level)
	}
	zc.Level = level
	zc.Encoding = c.Log.Format
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
