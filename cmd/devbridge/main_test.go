package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/device-bridge/config"
)

func newTestSession(t *testing.T) *session {
	t.Helper()
	cfg := config.Default()
	cfg.Log.Level = "error"
	s, err := newSession(cfg, io.Discard)
	if err != nil {
		t.Fatalf("newSession failed: %v", err)
	}
	t.Cleanup(s.close)
	return s
}

func TestLoadConfig_LevelOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path, "debug")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected overridden level, got %q", cfg.Log.Level)
	}

	if _, err := loadConfig(path, "chatty"); err == nil {
		t.Error("Expected invalid level to be rejected")
	}
}

func TestResolve(t *testing.T) {
	if got := resolve("/cfg", "main.js"); got != filepath.Join("/cfg", "main.js") {
		t.Errorf("unexpected relative resolution %s", got)
	}
	if got := resolve("/cfg", "/abs/main.js"); got != "/abs/main.js" {
		t.Errorf("absolute path must be kept, got %s", got)
	}
}

func TestPrintOperations(t *testing.T) {
	s := newTestSession(t)

	var buf bytes.Buffer
	printOperations(&buf, s.host, s.runner.Bridge())
	out := buf.String()

	for _, want := range []string{
		"Namespace: device",
		"Namespace: bridge",
		"killProcess(pid: ",
		"(consumed)",
		"Consumes the file handle.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected listing to contain %q", want)
		}
	}
}

func TestRunScript(t *testing.T) {
	s := newTestSession(t)

	if err := runScript(context.Background(), s, "ok.js", `listProcesses()`); err != nil {
		t.Fatalf("runScript failed: %v", err)
	}
	err := runScript(context.Background(), s, "fail.js", `killProcess(424242)`)
	if err == nil || !strings.Contains(err.Error(), "fail.js") {
		t.Fatalf("Expected script error naming the file, got %v", err)
	}
}

func TestInteractiveModel_Eval(t *testing.T) {
	s := newTestSession(t)
	m := newInteractiveModel(s, config.Default())

	m.input.SetValue("1 + 2")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil || !m.busy {
		t.Fatal("Expected evaluation to start")
	}

	m.Update(cmd())
	if m.busy {
		t.Fatal("Expected evaluation to finish")
	}
	if len(m.history) != 1 || m.history[0].output != "3" || m.history[0].err != nil {
		t.Fatalf("unexpected history %+v", m.history)
	}
	if !strings.Contains(m.View(), "operations") {
		t.Error("Expected stats line in view")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if m.input.Value() != "1 + 2" {
		t.Errorf("Expected history recall, got %q", m.input.Value())
	}
}
