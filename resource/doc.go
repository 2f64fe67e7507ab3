// Package resource provides the identifier tables that stand between
// scripting code and native resources.
//
// Scripting code never holds a native pointer. It holds an ID, and the bridge
// owns two tables that map IDs back to native values:
//
//	Registry  native handles (connections, sessions, providers), each paired
//	          with the release function that destroys it
//	Pool      byte buffers owned by the bridge, copied on the way in and out
//
// # Identifiers
//
// IDs are issued monotonically starting at 1 and are never reused within the
// lifetime of a table, so a freed ID can never resolve to a newer resource:
//
//	reg := resource.NewRegistry(0)
//	id, _ := reg.Register(conn, freeConn)
//	reg.Free(id) // true, freeConn(conn) called
//	reg.Free(id) // false, nothing called
//
// # Leases
//
// A native call that uses a handle borrows it with Acquire and returns the
// lease when the call completes. Freeing a leased handle removes it from the
// table at once but defers the release function until the lease is returned:
//
//	lease, err := reg.Acquire(id, TypeAFCClient)
//	go func() {
//	    defer lease.Return()
//	    afcList(lease.Value(), "/")
//	}()
//
// Take detaches a handle without releasing it, for native operations that
// consume their argument.
//
// # Teardown
//
// DrainAll releases every handle exactly once, leased or not, and closes the
// table. The Pool equivalent discards every buffer.
package resource
