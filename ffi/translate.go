package ffi

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/device-bridge/errors"
)

// ForeignError is an error value produced by the native layer. It owns
// native memory: Free must be called exactly once, and neither Code nor
// Message may be called after Free.
type ForeignError interface {
	Code() int32
	Message() string
	Free()
}

// CodeNamer maps a native error code to a symbolic name ("" if unknown).
type CodeNamer func(code int32) string

// Translator converts foreign errors into structured bridge errors.
// The zero value is usable and names no codes.
type Translator struct {
	names CodeNamer
	log   *zap.Logger
}

// NewTranslator creates a translator. names may be nil.
func NewTranslator(names CodeNamer, log *zap.Logger) *Translator {
	if log == nil {
		log = Logger()
	}
	return &Translator{names: names, log: log}
}

// Translate reads the code and message out of ferr, frees it, and returns
// a NativeFailure for op. The foreign error is freed on every path,
// including a panic inside Code or Message. A nil foreign error yields an
// unknown failure. Translate never panics.
func (t *Translator) Translate(op string, ferr ForeignError) (out *errors.Error) {
	if IsNil(ferr) {
		return errors.UnknownFailure(op)
	}

	defer func() {
		if p := recover(); p != nil {
			t.logger().Warn("foreign error translation panicked",
				zap.String("op", op),
				zap.Any("panic", p))
			out = errors.UnknownFailure(op)
		}
	}()
	defer t.free(op, ferr)

	code := ferr.Code()
	msg := strings.TrimSpace(ferr.Message())

	name := ""
	if t != nil && t.names != nil {
		name = t.names(code)
	}

	var detail string
	switch {
	case name != "" && msg != "":
		detail = fmt.Sprintf("%s: %s", name, msg)
	case name != "":
		detail = name
	case msg != "":
		detail = msg
	default:
		detail = fmt.Sprintf("native error %d", code)
	}

	return errors.NativeFailure(op, code, detail)
}

// free releases ferr, containing a panic from a misbehaving Free.
func (t *Translator) free(op string, ferr ForeignError) {
	defer func() {
		if p := recover(); p != nil {
			t.logger().Warn("foreign error free panicked",
				zap.String("op", op),
				zap.Any("panic", p))
		}
	}()
	ferr.Free()
}

func (t *Translator) logger() *zap.Logger {
	if t == nil || t.log == nil {
		return Logger()
	}
	return t.log
}

// Discard frees a foreign error nobody will read, such as one delivered
// after its request already completed.
func (t *Translator) Discard(op string, ferr ForeignError) {
	if IsNil(ferr) {
		return
	}
	t.free(op, ferr)
}

// IsNil reports whether ferr is nil or an interface holding a nil pointer.
func IsNil(ferr ForeignError) bool {
	if ferr == nil {
		return true
	}
	v := reflect.ValueOf(ferr)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// CodeTable builds a CodeNamer from a static map.
func CodeTable(names map[int32]string) CodeNamer {
	return func(code int32) string {
		return names[code]
	}
}

var (
	logger   *zap.Logger
	loggerMu sync.RWMutex
)

// Logger returns the package logger. It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// SetLogger sets the package logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}
