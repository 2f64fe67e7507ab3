package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in request processing the error occurred
type Phase string

const (
	PhaseValidate Phase = "validate" // operation lookup and parameter shapes
	PhaseResolve  Phase = "resolve"  // handle/buffer reference resolution
	PhaseExecute  Phase = "execute"  // native operation
	PhaseRegister Phase = "register" // minting identifiers for native results
	PhaseDeliver  Phase = "deliver"  // continuation delivery
	PhaseTeardown Phase = "teardown" // bridge shutdown
	PhaseCodec    Phase = "codec"    // plist/cbor transforms
	PhaseHost     Phase = "host"     // operation registration
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error. The string values are the stable discriminants
// scripting code sees in failure payloads.
type Kind string

const (
	KindInvalidRequest    Kind = "InvalidRequest"
	KindStaleReference    Kind = "StaleReference"
	KindNativeFailure     Kind = "NativeFailure"
	KindResourceExhausted Kind = "ResourceExhausted"
	KindBridgeTornDown    Kind = "BridgeTornDown"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
	Path   []string
	Code   int32
	// HasCode distinguishes a native code of zero from no code at all.
	HasCode bool
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.HasCode {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target with an empty
// Phase matches any phase of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Message returns the human-readable part of the error without the phase
// prefix. It is never empty.
func (e *Error) Message() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Detail != "":
		b.WriteString(e.Detail)
	case e.Cause != nil:
		b.WriteString(e.Cause.Error())
	default:
		b.WriteString(defaultMessage(e.Kind))
	}
	if len(e.Path) > 0 {
		b.WriteString(" (at ")
		b.WriteString(strings.Join(e.Path, "."))
		b.WriteByte(')')
	}
	return b.String()
}

func defaultMessage(k Kind) string {
	switch k {
	case KindInvalidRequest:
		return "invalid request"
	case KindStaleReference:
		return "stale reference"
	case KindNativeFailure:
		return "unknown failure"
	case KindResourceExhausted:
		return "resource exhausted"
	case KindBridgeTornDown:
		return "bridge torn down"
	}
	return "unknown failure"
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Path sets the parameter path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Code sets the native error code
func (b *Builder) Code(code int32) *Builder {
	b.err.Code = code
	b.err.HasCode = true
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidRequest creates an invalid request error
func InvalidRequest(op string, path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalidRequest,
		Op:     op,
		Path:   path,
		Detail: detail,
	}
}

// UnknownOperation creates an invalid request error for an unregistered operation
func UnknownOperation(op string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalidRequest,
		Detail: fmt.Sprintf("unknown operation %q", op),
		Value:  op,
	}
}

// ParamMismatch creates an invalid request error for a parameter of the wrong shape
func ParamMismatch(op string, path []string, want string, got any) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalidRequest,
		Op:     op,
		Path:   path,
		Detail: fmt.Sprintf("expected %s, got %T", want, got),
		Value:  got,
	}
}

// StaleReference creates a stale reference error for a freed or never-issued identifier
func StaleReference(op string, path []string, kind string, id uint32) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindStaleReference,
		Op:     op,
		Path:   path,
		Detail: fmt.Sprintf("%s %d is not live", kind, id),
		Value:  id,
	}
}

// NativeFailure creates a native failure error from a translated foreign error
func NativeFailure(op string, code int32, detail string) *Error {
	return &Error{
		Phase:   PhaseExecute,
		Kind:    KindNativeFailure,
		Op:      op,
		Code:    code,
		HasCode: true,
		Detail:  detail,
	}
}

// UnknownFailure creates a native failure error with no native code
func UnknownFailure(op string) *Error {
	return &Error{
		Phase:  PhaseExecute,
		Kind:   KindNativeFailure,
		Op:     op,
		Detail: "unknown failure",
	}
}

// ResourceExhausted creates an allocation failure error for a registry
func ResourceExhausted(what string, limit int) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindResourceExhausted,
		Detail: fmt.Sprintf("%s limit %d reached", what, limit),
		Value:  limit,
	}
}

// TornDown creates a bridge torn down error
func TornDown(phase Phase, op string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindBridgeTornDown,
		Op:     op,
		Detail: "bridge is torn down",
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Codec creates an invalid request error for a failed plist/cbor transform
func Codec(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCodec,
		Kind:   KindInvalidRequest,
		Detail: detail,
		Cause:  cause,
	}
}

// Registration creates an operation registration error
func Registration(name string, detail string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindInvalidRequest,
		Op:     name,
		Detail: detail,
	}
}

// Sentinels for errors.Is matching on Kind regardless of phase.
var (
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}
	ErrStaleReference    = &Error{Kind: KindStaleReference}
	ErrNativeFailure     = &Error{Kind: KindNativeFailure}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
	ErrBridgeTornDown    = &Error{Kind: KindBridgeTornDown}
)
