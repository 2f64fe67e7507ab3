package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wippyai/device-bridge/device"
	"github.com/wippyai/device-bridge/errors"
)

const sample = `
[bridge]
max_handles = 64
max_buffers = 32
max_buffer_bytes = 1048576

[log]
level = "debug"
format = "json"

[device]
name = "Test Phone"
latency = "25ms"

[[device.processes]]
pid = 1
name = "launchd"

[[device.processes]]
pid = 300
name = "Demo"
bundle_id = "com.example.demo"

[[device.apps]]
bundle_id = "com.example.demo"
name = "Demo"
version = "2.0"
type = "User"

[script]
path = "scripts/main.js"

[wasm]
memory_limit_pages = 64
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if c.Limits().MaxHandles != 64 || c.Limits().MaxBufferBytes != 1048576 {
		t.Errorf("unexpected limits %+v", c.Limits())
	}
	if c.Log.Level != "debug" || c.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", c.Log)
	}
	if !c.Script.Prelude {
		t.Error("prelude default must survive a file that does not set it")
	}
	if c.Wasm.Entry != "_start" || c.Wasm.MemoryLimitPages != 64 {
		t.Errorf("unexpected wasm config %+v", c.Wasm)
	}

	dev := c.DeviceConfig()
	if dev.Name != "Test Phone" || dev.Latency != 25*time.Millisecond {
		t.Errorf("unexpected device %+v", dev)
	}
	if len(dev.Processes) != 2 || dev.Processes[1].BundleID != "com.example.demo" {
		t.Errorf("unexpected processes %+v", dev.Processes)
	}
	if len(dev.Services) == 0 {
		t.Error("services must fall back to defaults")
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("[bridge]\nmax_handels = 3\n"))
	if errors.KindOf(err) != errors.KindInvalidRequest {
		t.Fatalf("Expected InvalidRequest for unknown key, got %v", err)
	}
}

func TestParse_BadDuration(t *testing.T) {
	if _, err := Parse([]byte("[device]\nlatency = \"soon\"\n")); err == nil {
		t.Fatal("Expected duration error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"negative handles", func(c *Config) { c.Bridge.MaxHandles = -1 }, "bridge.max_handles"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"negative latency", func(c *Config) { c.Device.Latency.Duration = -time.Second }, "device.latency"},
		{"duplicate pid", func(c *Config) {
			c.Device.Processes = []device.Process{{PID: 5}, {PID: 5}}
		}, "device.processes.1.pid"},
		{"app type", func(c *Config) {
			c.Device.Apps = []device.App{{BundleID: "a", Type: "Other"}}
		}, "device.apps.0.type"},
		{"memory pages", func(c *Config) { c.Wasm.MemoryLimitPages = 70000 }, "wasm.memory_limit_pages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("Expected config error, got %v", err)
			}
			if e.Phase != errors.PhaseConfig || strings.Join(e.Path, ".") != tt.path {
				t.Fatalf("Expected error at %s, got %v", tt.path, e)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadAndFind(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Device.Name != "Test Phone" {
		t.Errorf("Expected file config, got %+v", c.Device)
	}
	abs, _ := filepath.Abs(dir)
	if c.Dir != abs {
		t.Errorf("Expected Dir %s, got %s", abs, c.Dir)
	}

	if _, err := Load(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestNewLogger(t *testing.T) {
	c := Default()
	c.Log.Level = "warn"
	log, err := c.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Error("debug must be disabled at warn level")
	}
}
