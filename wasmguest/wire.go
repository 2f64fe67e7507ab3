package wasmguest

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/device-bridge/dispatch"
	"github.com/wippyai/device-bridge/errors"
)

// Request is the CBOR form of a message sent by a guest.
type Request struct {
	Op     string `cbor:"op"`
	Params []any  `cbor:"params"`
}

// Response is the CBOR form of an outcome returned to a guest. Exactly one
// of Result and Error is set.
type Response struct {
	Result map[string]any  `cbor:"result,omitempty"`
	Error  *errors.Failure `cbor:"error,omitempty"`
	OK     bool            `cbor:"ok"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wasmguest: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wasmguest: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// DecodeRequest parses a guest request into a message.
func DecodeRequest(data []byte) (dispatch.Message, *errors.Error) {
	var raw map[string]any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return dispatch.Message{}, errors.Codec("malformed guest request", err)
	}
	return dispatch.ParseMessage(raw)
}

// EncodeRequest serializes a request the way a guest would.
func EncodeRequest(op string, params ...any) ([]byte, error) {
	if params == nil {
		params = []any{}
	}
	exported := make([]any, len(params))
	for i, p := range params {
		exported[i] = dispatch.Export(p)
	}
	return encMode.Marshal(Request{Op: op, Params: exported})
}

// EncodeResponse serializes a success payload or a failure.
func EncodeResponse(payload map[string]any, err error) ([]byte, error) {
	resp := Response{OK: err == nil}
	if err != nil {
		f := errors.AsFailure(err)
		resp.Error = &f
	} else {
		resp.Result, _ = dispatch.Export(payload).(map[string]any)
	}
	return encMode.Marshal(resp)
}

// DecodeResponse parses a response produced by EncodeResponse.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := decMode.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("wasmguest: unmarshal response: %w", err)
	}
	return resp, nil
}
