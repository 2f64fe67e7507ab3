// Package jsbridge runs JavaScript against a bridge on a goja event loop.
//
// A Runner owns the loop and the bridge. Scripts call the global
// __postDeviceMessage with {op, params} and receive a promise; the bridge
// delivers outcomes through a LoopScheduler so promises settle on the loop
// goroutine. Failures reject with an Error whose kind, message and code
// mirror the bridge failure.
//
// The embedded prelude (idevice.js) defines one async function per known
// operation, for example:
//
//	const client = await afcClientConnect();
//	const entries = await afcListDirectory(client, "/");
//
// After Close every later call rejects with BridgeTornDown.
package jsbridge
