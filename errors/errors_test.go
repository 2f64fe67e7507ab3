package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseExecute,
				Kind:    KindNativeFailure,
				Op:      "afcFileOpen",
				Path:    []string{"params", "1"},
				Code:    -33,
				HasCode: true,
				Detail:  "object not found",
			},
			contains: []string{"[execute]", "NativeFailure", "afcFileOpen", "params.1", "code -33", "object not found"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseResolve,
				Kind:  KindStaleReference,
			},
			contains: []string{"[resolve]", "StaleReference"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseCodec,
				Kind:   KindInvalidRequest,
				Detail: "decode plist",
				Cause:  errors.New("unexpected EOF"),
			},
			contains: []string{"[codec]", "InvalidRequest", "decode plist", "caused by", "unexpected EOF"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseCodec, KindInvalidRequest, cause, "encode")

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
	wrapped := fmt.Errorf("outer: %w", err)
	var e *Error
	if !errors.As(wrapped, &e) {
		t.Fatal("expected errors.As to find *Error")
	}
	if e.Kind != KindInvalidRequest {
		t.Errorf("expected InvalidRequest, got %s", e.Kind)
	}
}

func TestError_Is(t *testing.T) {
	err := StaleReference("killProcess", []string{"params", "0"}, "handle", 99)

	if !errors.Is(err, ErrStaleReference) {
		t.Error("expected sentinel match on kind")
	}
	if errors.Is(err, ErrInvalidRequest) {
		t.Error("different kind should not match")
	}
	if !errors.Is(err, &Error{Phase: PhaseResolve, Kind: KindStaleReference}) {
		t.Error("same phase and kind should match")
	}
	if errors.Is(err, &Error{Phase: PhaseValidate, Kind: KindStaleReference}) {
		t.Error("different phase should not match")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseValidate, KindInvalidRequest).
		Op("bufferReadRange").
		Path("params", "2").
		Value(12).
		Code(7).
		Detail("end %d beyond size %d", 12, 4).
		Build()

	if err.Op != "bufferReadRange" {
		t.Errorf("unexpected op %q", err.Op)
	}
	if len(err.Path) != 2 || err.Path[1] != "2" {
		t.Errorf("unexpected path %v", err.Path)
	}
	if !err.HasCode || err.Code != 7 {
		t.Errorf("unexpected code %d", err.Code)
	}
	if err.Detail != "end 12 beyond size 4" {
		t.Errorf("unexpected detail %q", err.Detail)
	}
	if err.Value != 12 {
		t.Errorf("unexpected value %v", err.Value)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		phase Phase
		kind  Kind
	}{
		{InvalidRequest("op", nil, "bad"), PhaseValidate, KindInvalidRequest},
		{UnknownOperation("nope"), PhaseValidate, KindInvalidRequest},
		{ParamMismatch("op", []string{"params", "0"}, "string", 3), PhaseValidate, KindInvalidRequest},
		{StaleReference("op", nil, "buffer", 3), PhaseResolve, KindStaleReference},
		{NativeFailure("op", -1, "boom"), PhaseExecute, KindNativeFailure},
		{UnknownFailure("op"), PhaseExecute, KindNativeFailure},
		{ResourceExhausted("handle", 10), PhaseRegister, KindResourceExhausted},
		{TornDown(PhaseDeliver, "op"), PhaseDeliver, KindBridgeTornDown},
		{Codec("decode", errors.New("x")), PhaseCodec, KindInvalidRequest},
		{Registration("op", "duplicate"), PhaseHost, KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.phase), func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("expected phase %s, got %s", tt.phase, tt.err.Phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, tt.err.Kind)
			}
			if tt.err.Message() == "" {
				t.Error("message must never be empty")
			}
		})
	}

	if !strings.Contains(ResourceExhausted("buffer", 1024).Detail, "1024") {
		t.Error("expected limit in detail")
	}
}

func TestFailure(t *testing.T) {
	f := NativeFailure("killProcess", -5, "no such process").Failure()
	if f.Kind != KindNativeFailure {
		t.Errorf("unexpected kind %s", f.Kind)
	}
	if f.Code == nil || *f.Code != -5 {
		t.Fatalf("expected code -5, got %v", f.Code)
	}
	if !strings.Contains(f.Message, "no such process") {
		t.Errorf("unexpected message %q", f.Message)
	}

	m := f.Map()
	if m["kind"] != "NativeFailure" || m["code"] != int64(-5) {
		t.Errorf("unexpected map %v", m)
	}

	noCode := StaleReference("op", nil, "handle", 1).Failure()
	if noCode.Code != nil {
		t.Error("stale reference has no native code")
	}
	if _, ok := noCode.Map()["code"]; ok {
		t.Error("code key should be omitted")
	}
}

func TestAsFailure(t *testing.T) {
	if f := AsFailure(nil); f.Kind != KindNativeFailure || f.Message == "" {
		t.Errorf("nil error should become unknown failure, got %+v", f)
	}

	plain := AsFailure(errors.New("plain"))
	if plain.Kind != KindNativeFailure || plain.Message != "plain" {
		t.Errorf("unexpected %+v", plain)
	}

	wrapped := AsFailure(fmt.Errorf("ctx: %w", TornDown(PhaseDeliver, "op")))
	if wrapped.Kind != KindBridgeTornDown {
		t.Errorf("expected BridgeTornDown, got %s", wrapped.Kind)
	}

	if KindOf(errors.New("x")) != "" {
		t.Error("plain error has no kind")
	}
	if KindOf(UnknownOperation("x")) != KindInvalidRequest {
		t.Error("expected InvalidRequest kind")
	}
}
