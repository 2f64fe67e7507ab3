// Package wasmguest lets sandboxed WebAssembly modules drive a bridge.
//
// Guests import two functions from the "devbridge" module. call takes a
// CBOR-encoded {op, params} request from guest memory, runs it to
// completion and returns the response length; read copies the CBOR
// response {ok, result | error} back into guest memory. References travel
// as {kind, id} maps exactly as they do for script callers, and failures
// carry {kind, message, code}.
//
// Guests run under wazero with WASI preview1 available, so modules built
// by standard toolchains can log to stdout and stderr.
package wasmguest
