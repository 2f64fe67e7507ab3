package dispatch

import (
	"testing"

	"github.com/wippyai/device-bridge/errors"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		raw     map[string]any
		name    string
		op      string
		params  int
		wantErr bool
	}{
		{name: "full", raw: map[string]any{"op": "listProcesses", "params": []any{"a", 1}}, op: "listProcesses", params: 2},
		{name: "no params", raw: map[string]any{"op": "listProcesses"}, op: "listProcesses"},
		{name: "null params", raw: map[string]any{"op": "x", "params": nil}, op: "x"},
		{name: "missing op", raw: map[string]any{"params": []any{}}, wantErr: true},
		{name: "empty op", raw: map[string]any{"op": ""}, wantErr: true},
		{name: "numeric op", raw: map[string]any{"op": 3}, wantErr: true},
		{name: "params not a list", raw: map[string]any{"op": "x", "params": "a"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage(tt.raw)
			if tt.wantErr {
				if err == nil || err.Kind != errors.KindInvalidRequest {
					t.Fatalf("Expected InvalidRequest, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Op != tt.op || len(msg.Params) != tt.params {
				t.Fatalf("got %+v", msg)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	v, err := normalize(map[any]any{
		"pid":  uint16(7),
		"tags": []any{int32(1), float32(0.5)},
	}, nil, false)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	m := v.(map[string]any)
	if m["pid"] != int64(7) {
		t.Fatalf("Expected int64 7, got %#v", m["pid"])
	}
	tags := m["tags"].([]any)
	if tags[0] != int64(1) || tags[1] != float64(0.5) {
		t.Fatalf("unexpected tags %#v", tags)
	}

	ref, err := normalize(map[string]any{"kind": "buffer", "id": float64(3)}, nil, false)
	if err != nil || ref != (Ref{Kind: RefBuffer, ID: 3}) {
		t.Fatalf("Expected buffer ref 3, got %#v (%v)", ref, err)
	}

	// Maps that only look similar stay maps.
	plain, err := normalize(map[string]any{"kind": "file", "id": 3}, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := plain.(map[string]any); !ok {
		t.Fatalf("Expected plain map, got %#v", plain)
	}

	// Below the top level a tagged map is an ordinary literal.
	lit, err := normalize(map[string]any{"value": map[string]any{"kind": "handle", "id": 3}}, nil, false)
	if err != nil {
		t.Fatalf("Expected nested tagged map to be accepted, got %v", err)
	}
	inner, ok := lit.(map[string]any)["value"].(map[string]any)
	if !ok || inner["kind"] != "handle" || inner["id"] != int64(3) {
		t.Fatalf("Expected literal map, got %#v", lit)
	}

	if _, err := normalize(map[any]any{1: "x"}, nil, false); err == nil {
		t.Fatal("Expected error for non-string key")
	}
	if _, err := normalize(uint64(1<<63), nil, false); err == nil {
		t.Fatal("Expected error for out of range integer")
	}
	if _, err := normalize(struct{}{}, nil, false); err == nil {
		t.Fatal("Expected error for unsupported type")
	}
}

func TestExport(t *testing.T) {
	out := Export(map[string]any{
		"h":    Ref{Kind: RefHandle, ID: 2},
		"list": []any{Ref{Kind: RefBuffer, ID: 5}, "x"},
	}).(map[string]any)

	h := out["h"].(map[string]any)
	if h["kind"] != "handle" || h["id"] != int64(2) {
		t.Fatalf("unexpected handle export %v", h)
	}
	b := out["list"].([]any)[0].(map[string]any)
	if b["kind"] != "buffer" || b["id"] != int64(5) {
		t.Fatalf("unexpected buffer export %v", b)
	}
}
