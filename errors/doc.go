// Package errors provides structured error types for the device bridge.
//
// Errors are categorized by Phase (where in request processing the error
// occurred) and Kind (the scripting-visible discriminant). The five kinds are:
//
//	InvalidRequest     malformed operation name or parameters
//	StaleReference     identifier unknown or already freed
//	NativeFailure      translated foreign error from the native layer
//	ResourceExhausted  a registry cannot mint another identifier
//	BridgeTornDown     request arrived or completed after shutdown
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseValidate, errors.KindInvalidRequest).
//		Op("afcFileOpen").
//		Path("params", "2").
//		Detail("unknown open mode %q", mode).
//		Build()
//
// Errors cross back into scripting code only as a Failure, which holds plain
// data (kind, message, optional native code).
//
// All errors implement the standard error interface and support errors.Is/As.
// The Err* sentinels match on Kind alone.
package errors
