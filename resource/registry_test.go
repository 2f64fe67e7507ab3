package resource

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testObserver struct {
	events []Event
	mu     sync.Mutex
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *testObserver) kinds() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EventType, len(o.events))
	for i, e := range o.events {
		out[i] = e.Kind
	}
	return out
}

type nativeConn struct {
	name string
}

// releaseCounter counts release calls per native value.
type releaseCounter struct {
	calls map[any]int
	mu    sync.Mutex
}

func newReleaseCounter() *releaseCounter {
	return &releaseCounter{calls: make(map[any]int)}
}

func (c *releaseCounter) release(native any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[native]++
}

func (c *releaseCounter) count(native any) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[native]
}

func TestRegistry_RoundTrip(t *testing.T) {
	reg := NewRegistry(0)
	conn := &nativeConn{name: "proxy"}

	id, err := reg.Register(conn, func(any) {})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected non-zero id")
	}

	got, ok := reg.Resolve(id)
	if !ok {
		t.Fatal("Resolve failed")
	}
	if got != conn {
		t.Fatalf("Expected %p, got %v", conn, got)
	}
	if reg.Len() != 1 {
		t.Fatalf("Expected Len 1, got %d", reg.Len())
	}
}

func TestRegistry_NoDoubleFree(t *testing.T) {
	reg := NewRegistry(0)
	counter := newReleaseCounter()
	conn := &nativeConn{name: "h1"}

	id, err := reg.Register(conn, counter.release)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Fatalf("Expected first id to be 1, got %d", id)
	}

	if !reg.Free(id) {
		t.Fatal("First Free should succeed")
	}
	if reg.Free(id) {
		t.Fatal("Second Free should report false")
	}
	if n := counter.count(conn); n != 1 {
		t.Fatalf("Expected release once, got %d", n)
	}
	if _, ok := reg.Resolve(id); ok {
		t.Fatal("Freed id should not resolve")
	}
}

func TestRegistry_FreeUnknown(t *testing.T) {
	reg := NewRegistry(0)
	if reg.Free(0) {
		t.Fatal("id 0 is never valid")
	}
	if reg.Free(42) {
		t.Fatal("never-issued id should report false")
	}
}

func TestRegistry_IDsNeverReused(t *testing.T) {
	reg := NewRegistry(0)
	seen := make(map[ID]bool)
	for i := 0; i < 100; i++ {
		id, err := reg.Register(i, nil)
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("id %d reused", id)
		}
		seen[id] = true
		reg.Free(id)
	}
}

func TestRegistry_Typed(t *testing.T) {
	const (
		typeSession Type = 1
		typeSocket  Type = 2
	)
	reg := NewRegistry(0)
	id, _ := reg.RegisterTyped(typeSession, "session", nil)

	if _, err := reg.ResolveTyped(id, typeSession); err != nil {
		t.Fatalf("ResolveTyped with correct type failed: %v", err)
	}
	if _, err := reg.ResolveTyped(id, TypeAny); err != nil {
		t.Fatalf("TypeAny should match: %v", err)
	}
	_, err := reg.ResolveTyped(id, typeSocket)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("Expected ErrTypeMismatch, got %v", err)
	}
	_, err = reg.ResolveTyped(id+1, typeSession)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if typ, ok := reg.TypeOf(id); !ok || typ != typeSession {
		t.Fatalf("TypeOf returned %d, %v", typ, ok)
	}
}

func TestRegistry_Limit(t *testing.T) {
	reg := NewRegistry(2)
	a, _ := reg.Register("a", nil)
	if _, err := reg.Register("b", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register("c", nil); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted, got %v", err)
	}
	reg.Free(a)
	if _, err := reg.Register("c", nil); err != nil {
		t.Fatalf("Register after Free should succeed: %v", err)
	}
}

func TestRegistry_LeaseDefersRelease(t *testing.T) {
	reg := NewRegistry(0)
	counter := newReleaseCounter()
	conn := &nativeConn{name: "busy"}
	id, _ := reg.Register(conn, counter.release)

	lease, err := reg.Acquire(id, TypeAny)
	if err != nil {
		t.Fatal(err)
	}
	if lease.Value() != conn {
		t.Fatal("lease should expose the native handle")
	}

	if !reg.Free(id) {
		t.Fatal("Free of leased handle should succeed")
	}
	if reg.Contains(id) {
		t.Fatal("freed handle must not resolve while leased")
	}
	if counter.count(conn) != 0 {
		t.Fatal("release must wait for the lease")
	}

	lease.Return()
	lease.Return()
	if n := counter.count(conn); n != 1 {
		t.Fatalf("Expected release once after Return, got %d", n)
	}
}

func TestRegistry_LeaseWithoutFree(t *testing.T) {
	reg := NewRegistry(0)
	counter := newReleaseCounter()
	id, _ := reg.Register("x", counter.release)

	lease, _ := reg.Acquire(id, TypeAny)
	lease.Return()
	if counter.count("x") != 0 {
		t.Fatal("returning a lease must not release a live handle")
	}
	if !reg.Free(id) || counter.count("x") != 1 {
		t.Fatal("Free after Return should release immediately")
	}
}

func TestRegistry_Take(t *testing.T) {
	reg := NewRegistry(0)
	counter := newReleaseCounter()
	id, _ := reg.RegisterTyped(3, "file", counter.release)

	lease, _ := reg.Acquire(id, 3)
	if _, err := reg.Take(id, 3); !errors.Is(err, ErrOutstandingBorrow) {
		t.Fatalf("Expected ErrOutstandingBorrow, got %v", err)
	}
	lease.Return()

	v, err := reg.Take(id, 3)
	if err != nil {
		t.Fatal(err)
	}
	if v != "file" {
		t.Fatalf("unexpected value %v", v)
	}
	if reg.Free(id) {
		t.Fatal("taken handle must not be freeable")
	}
	reg.DrainAll()
	if counter.count("file") != 0 {
		t.Fatal("taken handle must never be released by the registry")
	}
}

func TestRegistry_DrainAll(t *testing.T) {
	reg := NewRegistry(0)
	counter := newReleaseCounter()
	obs := &testObserver{}
	reg.Subscribe(obs)

	var ids []ID
	for i := 0; i < 5; i++ {
		id, _ := reg.Register(i, counter.release)
		ids = append(ids, id)
	}
	reg.Free(ids[0])

	leased, _ := reg.Acquire(ids[1], TypeAny)
	orphanLease, _ := reg.Acquire(ids[2], TypeAny)
	reg.Free(ids[2])

	if n := reg.DrainAll(); n != 4 {
		t.Fatalf("Expected 4 drained, got %d", n)
	}
	for i := 0; i < 5; i++ {
		if n := counter.count(i); n != 1 {
			t.Fatalf("native %d released %d times", i, n)
		}
	}
	for _, id := range ids {
		if _, ok := reg.Resolve(id); ok {
			t.Fatalf("id %d resolves after drain", id)
		}
	}

	leased.Return()
	orphanLease.Return()
	for i := 0; i < 5; i++ {
		if n := counter.count(i); n != 1 {
			t.Fatalf("native %d released %d times after lease return", i, n)
		}
	}

	if _, err := reg.Register("late", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Expected ErrClosed, got %v", err)
	}
	if reg.DrainAll() != 0 {
		t.Fatal("second drain should be empty")
	}

	kinds := obs.kinds()
	if kinds[0] != EventCreated || kinds[len(kinds)-1] != EventDrained {
		t.Fatalf("unexpected event sequence %v", kinds)
	}
}

func TestRegistry_ReleasePanicIsContained(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	reg := NewRegistry(0)
	reg.SetLogger(zap.New(core))

	id, _ := reg.Register("bad", func(any) { panic("native crash") })
	if !reg.Free(id) {
		t.Fatal("Free should report success even if release panics")
	}
	if logs.Len() != 1 {
		t.Fatalf("Expected one error log, got %d", logs.Len())
	}
	if reg.Free(id) {
		t.Fatal("second Free must still be a no-op")
	}
}

func TestRegistry_ConcurrentFree(t *testing.T) {
	reg := NewRegistry(0)
	var released atomic.Int32
	id, _ := reg.Register("shared", func(any) { released.Add(1) })

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Free(id) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("Expected exactly one successful Free, got %d", wins.Load())
	}
	if released.Load() != 1 {
		t.Fatalf("Expected exactly one release, got %d", released.Load())
	}
}

func TestRegistry_Each(t *testing.T) {
	reg := NewRegistry(0)
	reg.RegisterTyped(1, "a", nil)
	reg.RegisterTyped(2, "b", nil)

	seen := 0
	reg.Each(func(id ID, typ Type) bool {
		seen++
		return true
	})
	if seen != 2 {
		t.Fatalf("Expected 2, got %d", seen)
	}

	seen = 0
	reg.Each(func(id ID, typ Type) bool {
		seen++
		return false
	})
	if seen != 1 {
		t.Fatalf("Expected early stop, got %d", seen)
	}
}
