// Package bridge ties a handle registry, a buffer pool and a dispatcher into
// the single object a scripting runtime talks to.
//
// A Bridge is live from New until Close. While live it accepts messages,
// routes them to registered operations, and owns every native handle and
// buffer those operations produce. Close stops intake, cancels executing
// requests without delivering them and releases everything still live.
//
//	b := bridge.New(bridge.WithLogger(log), bridge.WithScheduler(loop))
//	_ = b.RegisterHost(device.NewHost(sim))
//	defer b.Close()
//
// Every bridge provides buffer helpers, plist conversion and explicit free
// operations in the "bridge" namespace.
package bridge
