package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/device-bridge/bridge"
	"github.com/wippyai/device-bridge/config"
	"github.com/wippyai/device-bridge/device"
	"github.com/wippyai/device-bridge/dispatch"
	"github.com/wippyai/device-bridge/jsbridge"
	"github.com/wippyai/device-bridge/wasmguest"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Path to devbridge.toml (default: search upward from the working directory)")
		scriptFile  = flag.String("script", "", "JavaScript file to run against the bridge")
		wasmFile    = flag.String("wasm", "", "WebAssembly guest to run against the bridge")
		list        = flag.Bool("list", false, "List registered operations and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		logLevel    = flag.String("log-level", "", "Override the configured log level")
	)
	flag.Parse()

	cfg, err := loadConfig(*configFile, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := options{
		script:      *scriptFile,
		wasm:        *wasmFile,
		list:        *list,
		interactive: *interactive,
	}
	if opts.script == "" && cfg.Script.Path != "" {
		opts.script = resolve(cfg.Dir, cfg.Script.Path)
	}
	if opts.wasm == "" && cfg.Wasm.Path != "" {
		opts.wasm = resolve(cfg.Dir, cfg.Wasm.Path)
	}

	if !opts.list && !opts.interactive && opts.script == "" && opts.wasm == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			opts.stdin = true
		} else {
			fmt.Fprintln(os.Stderr, "Usage: devbridge [-config devbridge.toml] -script <file.js>")
			fmt.Fprintln(os.Stderr, "       devbridge -wasm <guest.wasm>")
			fmt.Fprintln(os.Stderr, "       devbridge -list")
			fmt.Fprintln(os.Stderr, "       devbridge -i  (interactive mode)")
			fmt.Fprintln(os.Stderr, "       devbridge < script.js")
			os.Exit(1)
		}
	}

	if err := run(cfg, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	script      string
	wasm        string
	list        bool
	interactive bool
	stdin       bool
}

func loadConfig(path, level string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, fmt.Errorf("working directory: %w", wdErr)
		}
		cfg, err = config.FindAndLoad(wd)
	}
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) || dir == "" {
		return path
	}
	return filepath.Join(dir, path)
}

// session is a simulator, a script runner and the bridge they share.
type session struct {
	log    *zap.Logger
	sim    *device.Simulator
	host   *device.Host
	runner *jsbridge.Runner
}

func newSession(cfg *config.Config, console io.Writer) (*session, error) {
	log, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	sim := device.New(cfg.DeviceConfig(), log.Named("device"))
	host := device.NewHost(sim)
	runner, err := jsbridge.New(jsbridge.Config{
		Hosts: []dispatch.Host{host},
		BridgeOptions: []bridge.Option{
			bridge.WithLogger(log.Named("bridge")),
			bridge.WithLimits(cfg.Limits()),
			bridge.WithCodeNamer(device.CodeName),
		},
		Console:   console,
		Logger:    log.Named("js"),
		NoPrelude: !cfg.Script.Prelude,
	})
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("script runner: %w", err)
	}
	return &session{log: log, sim: sim, host: host, runner: runner}, nil
}

func (s *session) close() {
	td := s.runner.Close()
	s.log.Debug("bridge closed",
		zap.Int("cancelled", td.Cancelled),
		zap.Int("handles", td.Handles),
		zap.Int("buffers", td.Buffers),
		zap.Int("native_live", s.sim.Live()))
	if live := s.sim.Live(); live != 0 {
		s.log.Warn("native objects outlived the bridge",
			zap.Int("count", live),
			zap.Strings("kinds", s.sim.LiveKinds()))
	}
	_ = s.log.Sync()
}

func run(cfg *config.Config, opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := newSession(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer s.close()

	if opts.list {
		printOperations(os.Stdout, s.host, s.runner.Bridge())
		return nil
	}

	if opts.interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(s, cfg)
	}

	if opts.stdin {
		src, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		return runScript(ctx, s, "<stdin>", string(src))
	}

	if opts.script != "" {
		src, err := os.ReadFile(opts.script)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		if err := runScript(ctx, s, opts.script, string(src)); err != nil {
			return err
		}
	}

	if opts.wasm != "" {
		if err := runGuest(ctx, s, cfg, opts.wasm); err != nil {
			return err
		}
	}
	return nil
}

func runScript(ctx context.Context, s *session, name, src string) error {
	result, err := s.runner.Run(ctx, name, src)
	if err != nil {
		return fmt.Errorf("script %s: %w", name, err)
	}
	if result != nil {
		fmt.Printf("Result: %v\n", result)
	}
	return nil
}

func runGuest(ctx context.Context, s *session, cfg *config.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	host, err := wasmguest.NewHost(ctx, s.runner.Bridge(), wasmguest.Config{
		MemoryLimitPages: cfg.Wasm.MemoryLimitPages,
		Entry:            cfg.Wasm.Entry,
		Stdout:           os.Stdout,
		Stderr:           os.Stderr,
		Logger:           s.log.Named("wasm"),
	})
	if err != nil {
		return fmt.Errorf("create guest host: %w", err)
	}
	defer host.Close(ctx)

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := host.Run(ctx, name, data); err != nil {
		return fmt.Errorf("run guest: %w", err)
	}
	return nil
}

func printOperations(w io.Writer, h *device.Host, b *bridge.Bridge) {
	fmt.Fprintf(w, "Namespace: %s\n\n", h.Namespace())
	for _, op := range h.Operations() {
		var params []string
		for _, p := range op.Params {
			s := p.Name + ": " + p.Kind.String()
			if p.Type != 0 {
				s += "<" + device.TypeName(p.Type) + ">"
			}
			if p.Consume {
				s += " (consumed)"
			}
			if p.Optional {
				s += "?"
			}
			params = append(params, s)
		}
		fmt.Fprintf(w, "  %s(%s)\n", op.Name, strings.Join(params, ", "))
		if op.Doc != "" {
			fmt.Fprintf(w, "      %s\n", op.Doc)
		}
	}

	byNamespace := make(map[string][]string)
	var namespaces []string
	for _, name := range b.Operations() {
		ns := b.Namespace(name)
		if ns == h.Namespace() {
			continue
		}
		if _, ok := byNamespace[ns]; !ok {
			namespaces = append(namespaces, ns)
		}
		byNamespace[ns] = append(byNamespace[ns], name)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		fmt.Fprintf(w, "\nNamespace: %s\n\n", ns)
		for _, name := range byNamespace[ns] {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}
