package errors

import (
	stderrors "errors"
)

// Failure is the scripting-visible form of an error. It carries no native
// resources and no Go error values, only plain data.
type Failure struct {
	Kind    Kind   `cbor:"kind" json:"kind"`
	Message string `cbor:"message" json:"message"`
	Code    *int32 `cbor:"code,omitempty" json:"code,omitempty"`
}

// Failure flattens the error for delivery to scripting code.
func (e *Error) Failure() Failure {
	f := Failure{
		Kind:    e.Kind,
		Message: e.Message(),
	}
	if f.Kind == "" {
		f.Kind = KindNativeFailure
	}
	if e.HasCode {
		code := e.Code
		f.Code = &code
	}
	return f
}

// Map returns the failure as a generic mapping.
func (f Failure) Map() map[string]any {
	m := map[string]any{
		"kind":    string(f.Kind),
		"message": f.Message,
	}
	if f.Code != nil {
		m["code"] = int64(*f.Code)
	}
	return m
}

// AsFailure converts any error into a Failure. Errors that are not *Error
// become an unknown NativeFailure carrying the error text.
func AsFailure(err error) Failure {
	if err == nil {
		return UnknownFailure("").Failure()
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Failure()
	}
	msg := err.Error()
	if msg == "" {
		msg = "unknown failure"
	}
	return Failure{Kind: KindNativeFailure, Message: msg}
}

// KindOf returns the Kind of err, or "" if err is not a structured error.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}
