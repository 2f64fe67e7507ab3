package resource

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type handleState uint8

const (
	stateLive handleState = iota
	stateOrphaned
	stateReleased
)

type handleEntry struct {
	native  any
	release ReleaseFunc
	typ     Type
	borrows int
	state   handleState
}

// Registry assigns identifiers to native handles, each paired with the
// release function that destroys it. Register, Free, Resolve and DrainAll
// are serialized by a single lock; release functions run outside it.
//
// A handle that is freed while a lease is outstanding is removed from the
// table immediately (it no longer resolves) and released when the last lease
// is returned. DrainAll releases everything, leased or not.
type Registry struct {
	observers
	log     *zap.Logger
	orphans map[*handleEntry]ID
	tbl     table[*handleEntry]
	mu      sync.Mutex
}

// NewRegistry creates a handle registry holding at most limit live handles.
// A limit of 0 means unbounded.
func NewRegistry(limit int) *Registry {
	return &Registry{
		tbl:     newTable[*handleEntry](limit),
		orphans: make(map[*handleEntry]ID),
		log:     Logger(),
	}
}

// SetLogger replaces the logger used to report panicking release functions.
func (r *Registry) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	r.mu.Lock()
	r.log = l
	r.mu.Unlock()
}

// Register stores a native handle with TypeAny.
func (r *Registry) Register(native any, release ReleaseFunc) (ID, error) {
	return r.RegisterTyped(TypeAny, native, release)
}

// RegisterTyped stores a native handle under a fresh identifier.
func (r *Registry) RegisterTyped(typ Type, native any, release ReleaseFunc) (ID, error) {
	if release == nil {
		release = func(any) {}
	}
	r.mu.Lock()
	id, err := r.tbl.insert(&handleEntry{
		native:  native,
		release: release,
		typ:     typ,
	})
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}

	r.notify(Event{Class: ClassHandle, ID: id, Type: typ, Kind: EventCreated})
	return id, nil
}

// Resolve returns the native handle for id without affecting ownership.
func (r *Registry) Resolve(id ID) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tbl.get(id)
	if !ok {
		return nil, false
	}
	return e.native, true
}

// ResolveTyped returns the native handle only if it has the expected type.
func (r *Registry) ResolveTyped(id ID, typ Type) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(id, typ)
	if err != nil {
		return nil, err
	}
	return e.native, nil
}

// TypeOf returns the type tag of a live handle.
func (r *Registry) TypeOf(id ID) (Type, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tbl.get(id)
	if !ok {
		return 0, false
	}
	return e.typ, true
}

// Contains reports whether id names a live handle.
func (r *Registry) Contains(id ID) bool {
	_, ok := r.TypeOf(id)
	return ok
}

func (r *Registry) lookup(id ID, typ Type) (*handleEntry, error) {
	e, ok := r.tbl.get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if typ != TypeAny && e.typ != typ {
		return nil, fmt.Errorf("%w: handle %d has type %d, want %d", ErrTypeMismatch, id, e.typ, typ)
	}
	return e, nil
}

// Acquire borrows a live handle for the duration of a native call. The
// handle stays owned by the registry; a Free that races the call is deferred
// until the lease is returned.
func (r *Registry) Acquire(id ID, typ Type) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.lookup(id, typ)
	if err != nil {
		return nil, err
	}
	e.borrows++
	return &Lease{reg: r, entry: e, id: id}, nil
}

// Take detaches a handle from the registry without releasing it. Ownership
// moves to the caller, typically a native operation that consumes its
// argument. Handles with outstanding leases cannot be taken.
func (r *Registry) Take(id ID, typ Type) (any, error) {
	r.mu.Lock()
	e, err := r.lookup(id, typ)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	if e.borrows > 0 {
		r.mu.Unlock()
		return nil, ErrOutstandingBorrow
	}
	r.tbl.remove(id)
	e.state = stateReleased
	r.mu.Unlock()

	r.notify(Event{Class: ClassHandle, ID: id, Type: e.typ, Kind: EventDetached})
	return e.native, nil
}

// Free releases the handle named by id exactly once. It returns false
// without side effects if id is unknown or already freed.
func (r *Registry) Free(id ID) bool {
	r.mu.Lock()
	e, ok := r.tbl.remove(id)
	if !ok {
		r.mu.Unlock()
		return false
	}
	if e.borrows > 0 {
		e.state = stateOrphaned
		r.orphans[e] = id
		r.mu.Unlock()
		return true
	}
	e.state = stateReleased
	r.mu.Unlock()

	r.release(id, e)
	return true
}

// DrainAll releases every live handle, including leased and orphaned ones,
// and closes the registry. Subsequent registrations fail with ErrClosed.
// It returns the number of handles released.
func (r *Registry) DrainAll() int {
	r.mu.Lock()
	live := r.tbl.drain()
	var pending []drained
	for id, e := range live {
		if e.state == stateLive {
			e.state = stateReleased
			pending = append(pending, drained{id: id, entry: e})
		}
	}
	for e, id := range r.orphans {
		if e.state == stateOrphaned {
			e.state = stateReleased
			pending = append(pending, drained{id: id, entry: e})
		}
	}
	r.orphans = make(map[*handleEntry]ID)
	r.mu.Unlock()

	for _, d := range pending {
		r.release(d.id, d.entry)
		r.notify(Event{Class: ClassHandle, ID: d.id, Type: d.entry.typ, Kind: EventDrained})
	}
	return len(pending)
}

type drained struct {
	entry *handleEntry
	id    ID
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tbl.entries)
}

// Each calls fn for every live handle until fn returns false. The registry
// lock is not held while fn runs.
func (r *Registry) Each(fn func(id ID, typ Type) bool) {
	r.mu.Lock()
	snapshot := make(map[ID]Type, len(r.tbl.entries))
	for id, e := range r.tbl.entries {
		snapshot[id] = e.typ
	}
	r.mu.Unlock()

	for id, typ := range snapshot {
		if !fn(id, typ) {
			return
		}
	}
}

// release runs the release function, containing any panic it raises.
func (r *Registry) release(id ID, e *handleEntry) {
	r.mu.Lock()
	native := e.native
	e.native = nil
	log := r.log
	r.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			log.Error("native release function panicked",
				zap.Uint32("id", uint32(id)),
				zap.Uint32("type", uint32(e.typ)),
				zap.Any("panic", p))
		}
	}()
	e.release(native)
	r.notify(Event{Class: ClassHandle, ID: id, Type: e.typ, Kind: EventReleased})
}

// Lease is a borrow of a registered handle. Return must be called exactly
// once when the native call that used the handle has finished; extra calls
// are ignored.
type Lease struct {
	reg   *Registry
	entry *handleEntry
	once  sync.Once
	id    ID
}

// ID returns the identifier the lease was acquired for.
func (l *Lease) ID() ID { return l.id }

// Value returns the borrowed native handle.
func (l *Lease) Value() any {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	return l.entry.native
}

// Return ends the borrow. If the handle was freed while borrowed, this is
// where it is released.
func (l *Lease) Return() {
	l.once.Do(func() {
		r := l.reg
		r.mu.Lock()
		e := l.entry
		e.borrows--
		if e.borrows > 0 || e.state != stateOrphaned {
			r.mu.Unlock()
			return
		}
		delete(r.orphans, e)
		e.state = stateReleased
		r.mu.Unlock()

		r.release(l.id, e)
	})
}
