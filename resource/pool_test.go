package resource

import (
	"bytes"
	"errors"
	"testing"
)

func TestPool_RoundTrip(t *testing.T) {
	p := NewPool(0, 0)
	data := []byte("plist payload")

	id, err := p.Register(data)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, ok := p.Resolve(id)
	if !ok {
		t.Fatal("Resolve failed")
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Expected %q, got %q", data, got)
	}
	if n, _ := p.Size(id); n != len(data) {
		t.Fatalf("Expected size %d, got %d", len(data), n)
	}
	if p.Bytes() != len(data) {
		t.Fatalf("Expected %d total bytes, got %d", len(data), p.Bytes())
	}
}

func TestPool_CopyOnRegister(t *testing.T) {
	p := NewPool(0, 0)
	data := []byte("abc")
	id, _ := p.Register(data)

	data[0] = 'X'
	got, _ := p.Resolve(id)
	if string(got) != "abc" {
		t.Fatalf("pool content changed through caller slice: %q", got)
	}
}

func TestPool_ResolveReturnsCopy(t *testing.T) {
	p := NewPool(0, 0)
	id, _ := p.Register([]byte("abc"))

	first, _ := p.Resolve(id)
	first[0] = 'X'
	second, _ := p.Resolve(id)
	if string(second) != "abc" {
		t.Fatalf("pool content changed through resolved slice: %q", second)
	}
}

func TestPool_NoDoubleFree(t *testing.T) {
	p := NewPool(0, 0)
	obs := &testObserver{}
	p.Subscribe(obs)

	id, _ := p.Register([]byte("x"))
	if !p.Free(id) {
		t.Fatal("First Free should succeed")
	}
	if p.Free(id) {
		t.Fatal("Second Free should report false")
	}
	if _, ok := p.Resolve(id); ok {
		t.Fatal("Freed buffer should not resolve")
	}
	kinds := obs.kinds()
	if len(kinds) != 2 || kinds[1] != EventReleased {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestPool_ReadRange(t *testing.T) {
	p := NewPool(0, 0)
	id, _ := p.Register([]byte("0123456789"))

	tests := []struct {
		name       string
		want       string
		begin, end int
		wantErr    bool
	}{
		{name: "middle", begin: 2, end: 5, want: "234"},
		{name: "empty", begin: 4, end: 4, want: ""},
		{name: "whole", begin: 0, end: 10, want: "0123456789"},
		{name: "past end", begin: 5, end: 11, wantErr: true},
		{name: "reversed", begin: 5, end: 4, wantErr: true},
		{name: "negative", begin: -1, end: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ReadRange(id, tt.begin, tt.end)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Fatalf("Expected %q, got %q", tt.want, got)
			}
		})
	}

	if _, err := p.ReadRange(id+1, 0, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestPool_Limits(t *testing.T) {
	p := NewPool(1, 4)
	if _, err := p.Register([]byte("12345")); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted for oversized buffer, got %v", err)
	}
	if _, err := p.Register([]byte("1234")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Register([]byte("1")); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted for count limit, got %v", err)
	}
}

func TestPool_DrainAll(t *testing.T) {
	p := NewPool(0, 0)
	var ids []ID
	for i := 0; i < 3; i++ {
		id, _ := p.Register([]byte{byte(i)})
		ids = append(ids, id)
	}

	if n := p.DrainAll(); n != 3 {
		t.Fatalf("Expected 3 drained, got %d", n)
	}
	for _, id := range ids {
		if _, ok := p.Resolve(id); ok {
			t.Fatalf("buffer %d resolves after drain", id)
		}
	}
	if p.Len() != 0 || p.Bytes() != 0 {
		t.Fatal("pool should be empty")
	}
	if _, err := p.Register([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
}
