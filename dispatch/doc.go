// Package dispatch routes requests from scripting code to native operations.
//
// A request names an operation and carries positional parameters: literals
// or tagged references to handles and buffers. The Dispatcher validates the
// parameters against the operation's signature, resolves references through
// the resource tables, runs the operation and delivers exactly one outcome
// through the Scheduler:
//
//	received -> validated -> executing -> succeeded | failed
//
// Validation failures skip straight to failed without touching the native
// layer. Native results that are handles or byte buffers are registered and
// replaced with references before delivery.
//
// After Close, executing requests are cancelled and never delivered. Their
// late completions are swallowed and anything native they carry is
// released.
package dispatch
