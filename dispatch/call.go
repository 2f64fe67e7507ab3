package dispatch

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/device-bridge/errors"
	"github.com/wippyai/device-bridge/ffi"
	"github.com/wippyai/device-bridge/resource"
)

// Call is one executing request as seen by a native operation: resolved
// arguments plus the completion methods. Argument accessors return the zero
// value for omitted optional parameters.
type Call struct {
	d       *Dispatcher
	req     *request
	op      *Operation
	args    []any
	set     []bool
	consume int
}

// Op returns the operation name.
func (c *Call) Op() string { return c.op.Name }

// Has reports whether parameter i was supplied.
func (c *Call) Has(i int) bool {
	return i >= 0 && i < len(c.set) && c.set[i]
}

// Arg returns the resolved parameter i: a literal, the native value of a
// handle, the bytes of a buffer, or a Ref for pass-through parameters.
func (c *Call) Arg(i int) any {
	if !c.Has(i) {
		return nil
	}
	return c.args[i]
}

func (c *Call) String(i int) string {
	s, _ := c.Arg(i).(string)
	return s
}

func (c *Call) Int(i int) int64 {
	n, _ := c.Arg(i).(int64)
	return n
}

func (c *Call) Number(i int) float64 {
	n, _ := c.Arg(i).(float64)
	return n
}

func (c *Call) Bool(i int) bool {
	b, _ := c.Arg(i).(bool)
	return b
}

func (c *Call) List(i int) []any {
	l, _ := c.Arg(i).([]any)
	return l
}

func (c *Call) Map(i int) map[string]any {
	m, _ := c.Arg(i).(map[string]any)
	return m
}

// Bytes returns the private copy of a buffer parameter.
func (c *Call) Bytes(i int) []byte {
	b, _ := c.Arg(i).([]byte)
	return b
}

// Native returns the native value of a handle parameter. For a consumed
// handle the operation now owns the value and must release it.
func (c *Call) Native(i int) any {
	return c.Arg(i)
}

// Ref returns a pass-through reference parameter.
func (c *Call) Ref(i int) Ref {
	r, _ := c.Arg(i).(Ref)
	return r
}

// NativeAs returns handle parameter i as a T.
func NativeAs[T any](c *Call, i int) (T, bool) {
	v, ok := c.Arg(i).(T)
	return v, ok
}

// Succeed completes the request with res. NewHandle and NewBuffer values in
// res are registered and replaced with references before delivery.
func (c *Call) Succeed(res Result) {
	d := c.d
	if !c.req.finish(StateSucceeded) {
		d.dropped(c.req, "success")
		d.discardResult(map[string]any(res))
		return
	}
	d.settle(c.req)

	payload, err := d.mint(c.req.op, map[string]any(res))
	if err != nil {
		if err.Kind == errors.KindBridgeTornDown {
			d.log.Debug("completion after teardown swallowed", zap.String("op", c.req.op))
			return
		}
		d.deliverFailure(c.req, err)
		return
	}
	d.deliverSuccess(c.req, payload)
}

// Fail completes the request with a foreign error. The error is translated
// and freed here; the caller must not touch it afterwards.
func (c *Call) Fail(ferr ffi.ForeignError) {
	d := c.d
	if !c.req.finish(StateFailed) {
		d.dropped(c.req, "failure")
		d.tr.Discard(c.req.op, ferr)
		return
	}
	d.settle(c.req)
	d.deliverFailure(c.req, d.tr.Translate(c.req.op, ferr))
}

// Reject completes the request with a bridge-level error, for operations
// implemented in Go that detect a bad request after dispatch.
func (c *Call) Reject(err *errors.Error) {
	d := c.d
	if !c.req.finish(StateFailed) {
		d.dropped(c.req, "rejection")
		return
	}
	d.settle(c.req)
	if err.Op == "" {
		err.Op = c.req.op
	}
	d.deliverFailure(c.req, err)
}

func (c *Call) takeConsumed() *errors.Error {
	if c.consume < 0 {
		return nil
	}
	i := c.consume
	ref := c.args[i].(Ref)
	native, err := c.d.handles.Take(ref.ID, c.op.Params[i].Type)
	if err != nil {
		return resolveError(c.op.Name, paramPath(c.op, i), ref, err)
	}
	c.args[i] = native
	return nil
}

type minter struct {
	d       *Dispatcher
	err     *errors.Error
	op      string
	handles []resource.ID
	buffers []resource.ID
}

// mint registers every new handle and buffer in res and returns the payload
// with references in their place. On failure everything minted so far is
// freed and every handle not yet registered is released.
func (d *Dispatcher) mint(op string, res map[string]any) (map[string]any, *errors.Error) {
	m := &minter{d: d, op: op}
	out := m.mapValue(res)
	if m.err != nil {
		for _, id := range m.handles {
			d.handles.Free(id)
		}
		for _, id := range m.buffers {
			d.buffers.Free(id)
		}
		return nil, m.err
	}
	return out, nil
}

func (m *minter) mapValue(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = m.value(v)
	}
	return out
}

func (m *minter) value(v any) any {
	switch x := v.(type) {
	case NewHandle:
		return m.handle(x)
	case *NewHandle:
		if x == nil {
			return nil
		}
		return m.handle(*x)
	case NewBuffer:
		return m.buffer(x.Data)
	case *NewBuffer:
		if x == nil {
			return nil
		}
		return m.buffer(x.Data)
	case Result:
		return m.mapValue(x)
	case map[string]any:
		return m.mapValue(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = m.value(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = m.mapValue(e)
		}
		return out
	}
	return v
}

func (m *minter) handle(h NewHandle) any {
	if m.err != nil {
		m.d.releaseNative(m.op, h)
		return nil
	}
	id, err := m.d.handles.RegisterTyped(h.Type, h.Native, h.Release)
	if err != nil {
		m.err = registerError(m.op, "handle", err)
		m.d.releaseNative(m.op, h)
		return nil
	}
	m.handles = append(m.handles, id)
	return Ref{Kind: RefHandle, ID: id}
}

func (m *minter) buffer(data []byte) any {
	if m.err != nil {
		return nil
	}
	id, err := m.d.buffers.Register(data)
	if err != nil {
		m.err = registerError(m.op, "buffer", err)
		return nil
	}
	m.buffers = append(m.buffers, id)
	return Ref{Kind: RefBuffer, ID: id}
}

func registerError(op, what string, err error) *errors.Error {
	if stderrors.Is(err, resource.ErrClosed) {
		return errors.TornDown(errors.PhaseRegister, op)
	}
	return errors.New(errors.PhaseRegister, errors.KindResourceExhausted).
		Op(op).
		Cause(err).
		Detail("cannot register %s result", what).
		Build()
}

// releaseNative destroys a native result that will never be registered.
func (d *Dispatcher) releaseNative(op string, h NewHandle) {
	if h.Release == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("release of undelivered handle panicked",
				zap.String("op", op),
				zap.Any("panic", p))
		}
	}()
	h.Release(h.Native)
}

// discardResult releases every native value in an undeliverable result.
func (d *Dispatcher) discardResult(res map[string]any) {
	for _, v := range res {
		d.discardValue(v)
	}
}

func (d *Dispatcher) discardValue(v any) {
	switch x := v.(type) {
	case NewHandle:
		d.releaseNative("", x)
	case *NewHandle:
		if x != nil {
			d.releaseNative("", *x)
		}
	case Result:
		d.discardResult(x)
	case map[string]any:
		d.discardResult(x)
	case []map[string]any:
		for _, e := range x {
			d.discardResult(e)
		}
	case []any:
		for _, e := range x {
			d.discardValue(e)
		}
	}
}

// freeRefs frees every reference in a payload that was minted but never
// delivered.
func (d *Dispatcher) freeRefs(v any) {
	switch x := v.(type) {
	case Ref:
		switch x.Kind {
		case RefHandle:
			d.handles.Free(x.ID)
		case RefBuffer:
			d.buffers.Free(x.ID)
		}
	case map[string]any:
		for _, e := range x {
			d.freeRefs(e)
		}
	case []any:
		for _, e := range x {
			d.freeRefs(e)
		}
	}
}
