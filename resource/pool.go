package resource

import (
	"fmt"
	"sync"
)

// Pool assigns identifiers to byte buffers owned by the bridge. Buffers are
// copied on registration and copied again on every read, so no caller ever
// holds a reference to pool-internal storage.
type Pool struct {
	observers
	tbl      table[[]byte]
	maxBytes int
	total    int
	mu       sync.Mutex
}

// NewPool creates a buffer pool holding at most limit live buffers of at
// most maxBytes each. Zero means unbounded.
func NewPool(limit, maxBytes int) *Pool {
	return &Pool{
		tbl:      newTable[[]byte](limit),
		maxBytes: maxBytes,
	}
}

// Register copies data into the pool and returns its identifier.
func (p *Pool) Register(data []byte) (ID, error) {
	if p.maxBytes > 0 && len(data) > p.maxBytes {
		return 0, fmt.Errorf("%w: buffer of %d bytes exceeds %d", ErrExhausted, len(data), p.maxBytes)
	}
	owned := make([]byte, len(data))
	copy(owned, data)

	p.mu.Lock()
	id, err := p.tbl.insert(owned)
	if err == nil {
		p.total += len(owned)
	}
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}

	p.notify(Event{Class: ClassBuffer, ID: id, Size: len(owned), Kind: EventCreated})
	return id, nil
}

// Resolve returns a copy of the buffer named by id.
func (p *Pool) Resolve(id ID) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.tbl.get(id)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true
}

// Size returns the length of the buffer named by id.
func (p *Pool) Size(id ID) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.tbl.get(id)
	if !ok {
		return 0, false
	}
	return len(b), true
}

// Contains reports whether id names a live buffer.
func (p *Pool) Contains(id ID) bool {
	_, ok := p.Size(id)
	return ok
}

// ReadRange returns a copy of bytes [begin, end) of the buffer named by id.
func (p *Pool) ReadRange(id ID, begin, end int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.tbl.get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if begin < 0 || end < begin || end > len(b) {
		return nil, fmt.Errorf("range [%d, %d) out of bounds (size %d)", begin, end, len(b))
	}
	out := make([]byte, end-begin)
	copy(out, b[begin:end])
	return out, nil
}

// Free removes the buffer named by id. It returns false if id is unknown or
// already freed.
func (p *Pool) Free(id ID) bool {
	p.mu.Lock()
	b, ok := p.tbl.remove(id)
	if ok {
		p.total -= len(b)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	p.notify(Event{Class: ClassBuffer, ID: id, Size: len(b), Kind: EventReleased})
	return true
}

// DrainAll frees every buffer and closes the pool. It returns the number of
// buffers freed.
func (p *Pool) DrainAll() int {
	p.mu.Lock()
	live := p.tbl.drain()
	p.total = 0
	p.mu.Unlock()

	for id, b := range live {
		p.notify(Event{Class: ClassBuffer, ID: id, Size: len(b), Kind: EventDrained})
	}
	return len(live)
}

// Len returns the number of live buffers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tbl.entries)
}

// Bytes returns the total size of all live buffers.
func (p *Pool) Bytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
