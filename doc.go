// Package devicebridge connects scripting runtimes to a native device library.
//
// Scripts never see native pointers. Every native object an operation
// produces is stored in a handle registry and handed out as a numeric
// reference; byte data lives in a buffer pool. Requests are routed by name
// to registered operations, native errors are translated into structured
// failures, and each request completes exactly once on the caller's
// scheduler.
//
// # Architecture Overview
//
//	devicebridge/
//	├── errors/       Structured failures (phase, kind, op, path, native code)
//	├── resource/     Handle registry and buffer pool with monotonic identifiers
//	├── ffi/          Native error translation and release guards
//	├── dispatch/     Message routing, parameter checking, exactly-once delivery
//	├── plist/        Property list conversion for buffers
//	├── bridge/       Lifecycle controller that owns all of the above
//	├── device/       Simulated device exposed as bridge operations
//	├── jsbridge/     goja event loop runner with an async script prelude
//	├── wasmguest/    wazero host letting WebAssembly guests post CBOR requests
//	├── config/       devbridge.toml loading and validation
//	└── cmd/devbridge Command line runner and interactive REPL
//
// # Quick Start
//
// Run a script against the simulated device:
//
//	sim := device.New(device.DefaultConfig(), log)
//	r, err := jsbridge.New(jsbridge.Config{
//		Hosts:         []dispatch.Host{device.NewHost(sim)},
//		BridgeOptions: []bridge.Option{bridge.WithCodeNamer(device.CodeName)},
//	})
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	pids, err := r.Run(ctx, "main.js", `
//		listProcesses().then(ps => ps.map(p => p.pid))
//	`)
//
// Or call operations directly from Go:
//
//	b := bridge.New(bridge.WithCodeNamer(device.CodeName))
//	_ = b.RegisterHost(device.NewHost(sim))
//	defer b.Close()
//
//	res, err := b.Call(ctx, "coreDeviceProxyConnect")
//
// # Teardown
//
// Closing a bridge stops intake, cancels in-flight requests without
// delivering them and releases every live handle and buffer exactly once.
package devicebridge
