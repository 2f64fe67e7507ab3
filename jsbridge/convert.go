package jsbridge

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/wippyai/device-bridge/bridge"
	"github.com/wippyai/device-bridge/dispatch"
	"github.com/wippyai/device-bridge/errors"
)

// toValue converts a success payload for the script. References become
// plain {kind, id} objects so scripts can pass them back unchanged.
func toValue(vm *goja.Runtime, payload map[string]any) goja.Value {
	return vm.ToValue(dispatch.Export(payload))
}

// failureValue builds an Error object carrying the failure kind and code.
func failureValue(vm *goja.Runtime, f errors.Failure) goja.Value {
	obj, err := vm.New(vm.Get("Error"), vm.ToValue(f.Message))
	if err != nil {
		obj = vm.NewObject()
		_ = obj.Set("message", f.Message)
	}
	_ = obj.Set("name", "BridgeError")
	_ = obj.Set("kind", string(f.Kind))
	if f.Code != nil {
		_ = obj.Set("code", int64(*f.Code))
	}
	return obj
}

// rejectionError converts a rejected promise value into a Go error. Bridge
// failures keep their kind and code.
func rejectionError(v goja.Value) error {
	obj, ok := v.(*goja.Object)
	if !ok {
		return fmt.Errorf("script rejected: %s", valueString(v))
	}
	kind := obj.Get("kind")
	if kind == nil || goja.IsUndefined(kind) {
		return fmt.Errorf("script rejected: %s", valueString(v))
	}
	f := errors.Failure{Kind: errors.Kind(kind.String())}
	if msg := obj.Get("message"); msg != nil {
		f.Message = msg.String()
	}
	if code := obj.Get("code"); code != nil && !goja.IsUndefined(code) {
		c := int32(code.ToInteger())
		f.Code = &c
	}
	return bridge.FailureError(f)
}

func valueString(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}
