package bridge

import (
	"context"
	"encoding/base64"
	stderrors "errors"

	"github.com/wippyai/device-bridge/dispatch"
	"github.com/wippyai/device-bridge/errors"
	"github.com/wippyai/device-bridge/plist"
	"github.com/wippyai/device-bridge/resource"
)

// Namespace of the operations every bridge provides.
const Namespace = "bridge"

type builtins struct {
	b *Bridge
}

func (builtins) Namespace() string { return Namespace }

func (h builtins) Operations() []*dispatch.Operation {
	return []*dispatch.Operation{
		{
			Name:   "freeHandle",
			Doc:    "Release a native handle. Unknown or already freed identifiers report freed=false.",
			Params: []dispatch.ParamSpec{dispatch.HandleIDParam("handle")},
			Invoke: h.freeHandle,
		},
		{
			Name:   "freeBuffer",
			Doc:    "Release a buffer. Unknown or already freed identifiers report freed=false.",
			Params: []dispatch.ParamSpec{dispatch.BufferIDParam("buffer")},
			Invoke: h.freeBuffer,
		},
		{
			Name:   "bufferCreate",
			Doc:    "Create a buffer from base64 data.",
			Params: []dispatch.ParamSpec{dispatch.StringParam("base64")},
			Invoke: h.bufferCreate,
		},
		{
			Name:   "bufferFromString",
			Doc:    "Create a buffer holding the UTF-8 bytes of a string.",
			Params: []dispatch.ParamSpec{dispatch.StringParam("text")},
			Invoke: h.bufferFromString,
		},
		{
			Name:   "bufferRead",
			Doc:    "Return the contents of a buffer as base64 and as text.",
			Params: []dispatch.ParamSpec{dispatch.BufferParam("buffer")},
			Invoke: h.bufferRead,
		},
		{
			Name: "bufferReadRange",
			Doc:  "Return bytes [begin, end) of a buffer as base64.",
			Params: []dispatch.ParamSpec{
				dispatch.BufferIDParam("buffer"),
				dispatch.IntParam("begin"),
				dispatch.IntParam("end"),
			},
			Invoke: h.bufferReadRange,
		},
		{
			Name:   "bufferSize",
			Doc:    "Return the length of a buffer.",
			Params: []dispatch.ParamSpec{dispatch.BufferIDParam("buffer")},
			Invoke: h.bufferSize,
		},
		{
			Name: "plistEncode",
			Doc:  "Encode a mapping as a property list buffer (xml by default, or binary).",
			Params: []dispatch.ParamSpec{
				dispatch.MapParam("value"),
				dispatch.StringParam("format").Opt(),
			},
			Invoke: h.plistEncode,
		},
		{
			Name:   "plistDecode",
			Doc:    "Decode a property list buffer into a mapping.",
			Params: []dispatch.ParamSpec{dispatch.BufferParam("buffer")},
			Invoke: h.plistDecode,
		},
		{
			Name:   "bridgeStats",
			Doc:    "Report live handle and buffer counts.",
			Invoke: h.bridgeStats,
		},
		{
			Name:   "listOperations",
			Doc:    "List every operation the bridge accepts.",
			Invoke: h.listOperations,
		},
	}
}

func (h builtins) freeHandle(_ context.Context, call *dispatch.Call) {
	call.Succeed(dispatch.Result{"freed": h.b.handles.Free(call.Ref(0).ID)})
}

func (h builtins) freeBuffer(_ context.Context, call *dispatch.Call) {
	call.Succeed(dispatch.Result{"freed": h.b.buffers.Free(call.Ref(0).ID)})
}

func (h builtins) bufferCreate(_ context.Context, call *dispatch.Call) {
	data, err := base64.StdEncoding.DecodeString(call.String(0))
	if err != nil {
		call.Reject(errors.New(errors.PhaseExecute, errors.KindInvalidRequest).
			Path("base64").
			Cause(err).
			Detail("invalid base64 data").
			Build())
		return
	}
	call.Succeed(dispatch.Result{"buffer": dispatch.NewBuffer{Data: data}})
}

func (h builtins) bufferFromString(_ context.Context, call *dispatch.Call) {
	call.Succeed(dispatch.Result{"buffer": dispatch.NewBuffer{Data: []byte(call.String(0))}})
}

func (h builtins) bufferRead(_ context.Context, call *dispatch.Call) {
	data := call.Bytes(0)
	call.Succeed(dispatch.Result{
		"base64": base64.StdEncoding.EncodeToString(data),
		"text":   string(data),
		"size":   int64(len(data)),
	})
}

func (h builtins) bufferReadRange(_ context.Context, call *dispatch.Call) {
	ref := call.Ref(0)
	data, err := h.b.buffers.ReadRange(ref.ID, int(call.Int(1)), int(call.Int(2)))
	if err != nil {
		call.Reject(bufferError(ref, err))
		return
	}
	call.Succeed(dispatch.Result{
		"base64": base64.StdEncoding.EncodeToString(data),
		"size":   int64(len(data)),
	})
}

func (h builtins) bufferSize(_ context.Context, call *dispatch.Call) {
	ref := call.Ref(0)
	n, ok := h.b.buffers.Size(ref.ID)
	if !ok {
		call.Reject(bufferError(ref, resource.ErrNotFound))
		return
	}
	call.Succeed(dispatch.Result{"size": int64(n)})
}

func (h builtins) plistEncode(_ context.Context, call *dispatch.Call) {
	format, err := plist.ParseFormat(call.String(1))
	if err != nil {
		call.Reject(asError(err))
		return
	}
	data, err := plist.Encode(call.Map(0), format)
	if err != nil {
		call.Reject(asError(err))
		return
	}
	call.Succeed(dispatch.Result{"buffer": dispatch.NewBuffer{Data: data}})
}

func (h builtins) plistDecode(_ context.Context, call *dispatch.Call) {
	value, format, err := plist.Decode(call.Bytes(0))
	if err != nil {
		call.Reject(asError(err))
		return
	}
	call.Succeed(dispatch.Result{"value": value, "format": format.String()})
}

func (h builtins) bridgeStats(_ context.Context, call *dispatch.Call) {
	call.Succeed(dispatch.Result(h.b.Stats().Map()))
}

func (h builtins) listOperations(_ context.Context, call *dispatch.Call) {
	names := h.b.Operations()
	ops := make([]any, len(names))
	for i, n := range names {
		ops[i] = n
	}
	call.Succeed(dispatch.Result{"operations": ops})
}

func bufferError(ref dispatch.Ref, err error) *errors.Error {
	if stderrors.Is(err, resource.ErrNotFound) {
		return errors.StaleReference("", []string{"buffer"}, string(ref.Kind), uint32(ref.ID))
	}
	return errors.New(errors.PhaseExecute, errors.KindInvalidRequest).
		Cause(err).
		Detail("%s", err.Error()).
		Build()
}

func asError(err error) *errors.Error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e
	}
	return errors.Wrap(errors.PhaseExecute, errors.KindInvalidRequest, err, err.Error())
}
