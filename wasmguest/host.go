package wasmguest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/device-bridge/bridge"
)

// ModuleName is the import module guests use to reach the bridge.
const ModuleName = "devbridge"

// Return values of devbridge.call besides a response length.
const (
	// CallBadPointer means the request range lies outside guest memory.
	CallBadPointer int32 = -1
	// CallEncodeFailed means the outcome could not be serialized.
	CallEncodeFailed int32 = -2
)

// Config holds configuration for a guest host.
type Config struct {
	// MemoryLimitPages caps guest memory in 64KB pages. 0 keeps the wazero
	// default.
	MemoryLimitPages uint32
	// Entry is the export run by Run. Defaults to "_start".
	Entry  string
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

// Host runs WebAssembly guests against a bridge. A guest writes a CBOR
// request into its memory and calls
//
//	devbridge.call(ptr, len i32) i32
//
// which executes the operation synchronously and returns the length of the
// CBOR response, then copies the response out with
//
//	devbridge.read(ptr, cap i32) i32
//
// Each guest instance has its own pending response.
type Host struct {
	b         *bridge.Bridge
	runtime   wazero.Runtime
	log       *zap.Logger
	cfg       Config
	responses map[string][]byte
	mu        sync.Mutex
}

// NewHost creates a wazero runtime with WASI and the devbridge module.
func NewHost(ctx context.Context, b *bridge.Bridge, cfg Config) (*Host, error) {
	if cfg.Logger == nil {
		cfg.Logger = Logger()
	}
	if cfg.Entry == "" {
		cfg.Entry = "_start"
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	h := &Host{
		b:         b,
		runtime:   rt,
		log:       cfg.Logger,
		cfg:       cfg,
		responses: make(map[string][]byte),
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	_, err := rt.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.callFunc),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		WithParameterNames("ptr", "len").
		Export("call").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.readFunc),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		WithParameterNames("ptr", "cap").
		Export("read").
		Instantiate(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate %s: %w", ModuleName, err)
	}
	return h, nil
}

// Runtime returns the underlying wazero runtime.
func (h *Host) Runtime() wazero.Runtime {
	return h.runtime
}

// Run compiles and instantiates a guest, then calls its entry export.
func (h *Host) Run(ctx context.Context, name string, wasm []byte) error {
	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return fmt.Errorf("compile failed: %w", err)
	}
	defer compiled.Close(ctx)

	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions()
	if h.cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(h.cfg.Stdout)
	}
	if h.cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(h.cfg.Stderr)
	}

	mod, err := h.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return fmt.Errorf("instantiate failed: %w", err)
	}
	defer func() {
		h.forget(name)
		_ = mod.Close(ctx)
	}()

	entry := mod.ExportedFunction(h.cfg.Entry)
	if entry == nil {
		return fmt.Errorf("guest %s has no export %q", name, h.cfg.Entry)
	}
	h.log.Debug("guest started", zap.String("module", name), zap.String("entry", h.cfg.Entry))
	if _, err := entry.Call(ctx); err != nil {
		return fmt.Errorf("guest %s: %w", name, err)
	}
	return nil
}

// Close releases the wazero runtime. The bridge is left to its owner.
func (h *Host) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

func (h *Host) callFunc(ctx context.Context, mod api.Module, stack []uint64) {
	ptr := api.DecodeU32(stack[0])
	length := api.DecodeU32(stack[1])
	stack[0] = api.EncodeI32(h.call(ctx, mod, ptr, length))
}

func (h *Host) readFunc(_ context.Context, mod api.Module, stack []uint64) {
	ptr := api.DecodeU32(stack[0])
	capacity := api.DecodeU32(stack[1])
	stack[0] = api.EncodeI32(h.read(mod, ptr, capacity))
}

// call executes the request at [ptr, ptr+length) and stores the response.
func (h *Host) call(ctx context.Context, mod api.Module, ptr, length uint32) int32 {
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		h.log.Warn("guest request out of bounds",
			zap.String("module", mod.Name()),
			zap.Uint32("ptr", ptr),
			zap.Uint32("len", length))
		return CallBadPointer
	}

	var (
		payload map[string]any
		err     error
	)
	msg, perr := DecodeRequest(data)
	if perr != nil {
		err = perr
	} else {
		payload, err = h.b.Call(ctx, msg.Op, msg.Params...)
	}

	resp, encErr := EncodeResponse(payload, err)
	if encErr != nil {
		h.log.Error("encode guest response",
			zap.String("module", mod.Name()),
			zap.String("op", msg.Op),
			zap.Error(encErr))
		return CallEncodeFailed
	}

	h.mu.Lock()
	h.responses[mod.Name()] = resp
	h.mu.Unlock()
	return int32(len(resp))
}

// read copies the pending response into [ptr, ptr+capacity) and clears it.
// It returns the number of bytes copied, 0 if nothing is pending, or
// CallBadPointer if the range is invalid or too small.
func (h *Host) read(mod api.Module, ptr, capacity uint32) int32 {
	h.mu.Lock()
	resp, ok := h.responses[mod.Name()]
	if ok && uint32(len(resp)) <= capacity {
		delete(h.responses, mod.Name())
	}
	h.mu.Unlock()

	if !ok {
		return 0
	}
	if uint32(len(resp)) > capacity {
		return CallBadPointer
	}
	if !mod.Memory().Write(ptr, resp) {
		return CallBadPointer
	}
	return int32(len(resp))
}

func (h *Host) forget(name string) {
	h.mu.Lock()
	delete(h.responses, name)
	h.mu.Unlock()
}
