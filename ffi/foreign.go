package ffi

import (
	"fmt"
	"sync/atomic"
)

// NativeError is a ForeignError backed by Go memory. Native adapters that
// produce errors in Go (simulators, purego shims) return it; reading it after
// Free panics so that use-after-free bugs surface in tests.
type NativeError struct {
	msg   string
	frees atomic.Int32
	code  int32
}

// NewError creates a foreign error with the given code and message.
func NewError(code int32, format string, args ...any) *NativeError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &NativeError{code: code, msg: msg}
}

func (e *NativeError) Code() int32 {
	e.check()
	return e.code
}

func (e *NativeError) Message() string {
	e.check()
	return e.msg
}

func (e *NativeError) Free() {
	e.frees.Add(1)
}

// Frees returns how many times Free was called.
func (e *NativeError) Frees() int {
	return int(e.frees.Load())
}

func (e *NativeError) check() {
	if e.frees.Load() > 0 {
		panic(fmt.Sprintf("foreign error %d read after free", e.code))
	}
}
