// Package device exposes a simulated Apple device as bridge operations.
//
// The Simulator stands in for the native device library: it hands out
// opaque native objects (proxies, adapters, sockets, service clients, open
// files) and keeps the device state they act on. Releasing an object twice
// panics, so any path that double-frees through the bridge shows up in
// tests.
//
// Host publishes the operations under the "device" namespace:
//
//	sim := device.New(device.DefaultConfig(), log)
//	b := bridge.New(bridge.WithCodeNamer(device.CodeName))
//	b.RegisterHost(device.NewHost(sim))
//
// Operations that take ownership of their argument use consumed handle
// parameters: coreDeviceProxyCreateTcpAdapter consumes the proxy,
// rsdHandshakeNew consumes the socket and afcFileClose consumes the file.
// Native errors carry the codes declared in codes.go.
package device
