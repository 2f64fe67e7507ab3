package resource

import (
	"fmt"
	"math"
	"sync"
)

// table maps monotonically issued IDs to values. IDs are never reused within
// the lifetime of a table, so a freed ID can never alias a newer resource.
// Callers hold mu around every access; table itself does no locking.
type table[T any] struct {
	entries map[ID]T
	next    ID
	limit   int
	closed  bool
}

func newTable[T any](limit int) table[T] {
	return table[T]{
		entries: make(map[ID]T),
		limit:   limit,
	}
}

func (t *table[T]) insert(v T) (ID, error) {
	if t.closed {
		return 0, ErrClosed
	}
	if t.limit > 0 && len(t.entries) >= t.limit {
		return 0, fmt.Errorf("%w: %d live entries", ErrExhausted, t.limit)
	}
	if t.next == math.MaxUint32 {
		return 0, fmt.Errorf("%w: identifier space used up", ErrExhausted)
	}
	t.next++
	t.entries[t.next] = v
	return t.next, nil
}

func (t *table[T]) get(id ID) (T, bool) {
	v, ok := t.entries[id]
	return v, ok
}

func (t *table[T]) remove(id ID) (T, bool) {
	v, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return v, ok
}

// drain closes the table and returns everything that was live.
func (t *table[T]) drain() map[ID]T {
	t.closed = true
	out := t.entries
	t.entries = make(map[ID]T)
	return out
}

// observers is the subscription list shared by Registry and Pool.
type observers struct {
	list []Observer
	mu   sync.RWMutex
}

// Subscribe adds an observer for lifecycle events.
func (o *observers) Subscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.list = append(o.list, obs)
}

// Unsubscribe removes an observer.
func (o *observers) Unsubscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, cur := range o.list {
		if cur == obs {
			o.list = append(o.list[:i], o.list[i+1:]...)
			return
		}
	}
}

func (o *observers) notify(e Event) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, obs := range o.list {
		obs.OnResourceEvent(e)
	}
}
