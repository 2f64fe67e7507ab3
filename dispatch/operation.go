package dispatch

import (
	"context"

	"github.com/wippyai/device-bridge/ffi"
	"github.com/wippyai/device-bridge/resource"
)

// ParamKind is the shape a parameter must have.
type ParamKind uint8

const (
	ParamAny ParamKind = iota
	ParamString
	ParamInt
	ParamNumber
	ParamBool
	ParamList
	ParamMap
	ParamHandle   // live handle reference, resolved to its native value
	ParamBuffer   // live buffer reference, resolved to a copy of its bytes
	ParamHandleID // handle reference passed through unresolved
	ParamBufferID // buffer reference passed through unresolved
)

func (k ParamKind) String() string {
	switch k {
	case ParamAny:
		return "any"
	case ParamString:
		return "string"
	case ParamInt:
		return "integer"
	case ParamNumber:
		return "number"
	case ParamBool:
		return "boolean"
	case ParamList:
		return "list"
	case ParamMap:
		return "map"
	case ParamHandle, ParamHandleID:
		return "handle reference"
	case ParamBuffer, ParamBufferID:
		return "buffer reference"
	}
	return "unknown"
}

func (k ParamKind) isRef() bool {
	return k >= ParamHandle
}

// passthrough reports whether references of this kind skip liveness checks.
func (k ParamKind) passthrough() bool {
	return k == ParamHandleID || k == ParamBufferID
}

// ParamSpec describes one positional parameter of an operation.
type ParamSpec struct {
	Name string
	Kind ParamKind
	// Type restricts ParamHandle to handles registered with that type.
	Type resource.Type
	// Optional parameters may be omitted or nil. Only trailing parameters
	// can be optional.
	Optional bool
	// Consume moves ownership of a ParamHandle from the registry to the
	// operation. The identifier is dead once the operation starts.
	Consume bool
}

// Opt returns a copy of p marked optional.
func (p ParamSpec) Opt() ParamSpec {
	p.Optional = true
	return p
}

func StringParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: ParamString} }
func IntParam(name string) ParamSpec    { return ParamSpec{Name: name, Kind: ParamInt} }
func NumberParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: ParamNumber} }
func BoolParam(name string) ParamSpec   { return ParamSpec{Name: name, Kind: ParamBool} }
func ListParam(name string) ParamSpec   { return ParamSpec{Name: name, Kind: ParamList} }
func MapParam(name string) ParamSpec    { return ParamSpec{Name: name, Kind: ParamMap} }
func AnyParam(name string) ParamSpec    { return ParamSpec{Name: name, Kind: ParamAny} }
func BufferParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: ParamBuffer} }

// HandleParam is a borrowed handle of the given type.
func HandleParam(name string, typ resource.Type) ParamSpec {
	return ParamSpec{Name: name, Kind: ParamHandle, Type: typ}
}

// ConsumedHandleParam is a handle whose ownership passes to the operation.
func ConsumedHandleParam(name string, typ resource.Type) ParamSpec {
	return ParamSpec{Name: name, Kind: ParamHandle, Type: typ, Consume: true}
}

func HandleIDParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: ParamHandleID} }
func BufferIDParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: ParamBufferID} }

// NativeFunc performs an operation. It must eventually call exactly one of
// call.Succeed, call.Fail or call.Reject, from any goroutine. Extra calls
// are dropped and their payloads released.
type NativeFunc func(ctx context.Context, call *Call)

// Operation is a named native entry point with a positional signature.
type Operation struct {
	Invoke NativeFunc
	Name   string
	Doc    string
	Params []ParamSpec
}

// Result is a success payload. Values may be literals, nested lists and maps,
// NewHandle or NewBuffer; the dispatcher replaces the latter two with Refs.
type Result map[string]any

// NewHandle is a native value produced by an operation. The dispatcher
// registers it and hands scripting code a handle reference in its place. If
// the request cannot be delivered the dispatcher calls Release instead.
type NewHandle struct {
	Native  any
	Release resource.ReleaseFunc
	Type    resource.Type
}

// NewBuffer is byte data produced by an operation, registered in the buffer
// pool and returned as a buffer reference.
type NewBuffer struct {
	Data []byte
}

// Sync adapts a synchronous function into a NativeFunc. A non-nil foreign
// error fails the request; otherwise the result succeeds it.
func Sync(fn func(ctx context.Context, call *Call) (Result, ffi.ForeignError)) NativeFunc {
	return func(ctx context.Context, call *Call) {
		res, ferr := fn(ctx, call)
		if !ffi.IsNil(ferr) {
			call.Fail(ferr)
			return
		}
		call.Succeed(res)
	}
}

// Async runs fn on its own goroutine.
func Async(fn func(ctx context.Context, call *Call) (Result, ffi.ForeignError)) NativeFunc {
	run := Sync(fn)
	return func(ctx context.Context, call *Call) {
		go run(ctx, call)
	}
}
