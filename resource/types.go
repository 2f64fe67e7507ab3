package resource

import "errors"

// ID is an opaque identifier handed to scripting code in place of a native
// value. ID 0 is reserved and always invalid.
type ID uint32

// Type tags a native handle with the kind of resource it is (connection,
// session, provider, ...). TypeAny matches every handle.
type Type uint32

const TypeAny Type = 0

// ReleaseFunc destroys a native handle. The registry calls it at most once
// per registered handle.
type ReleaseFunc func(native any)

// Class distinguishes the two identifier spaces owned by a bridge.
type Class string

const (
	ClassHandle Class = "handle"
	ClassBuffer Class = "buffer"
)

// EventType identifies a resource lifecycle event.
type EventType uint8

const (
	EventCreated EventType = iota
	EventReleased
	EventDetached
	EventDrained
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventReleased:
		return "released"
	case EventDetached:
		return "detached"
	case EventDrained:
		return "drained"
	}
	return "unknown"
}

// Event represents a resource lifecycle event.
type Event struct {
	Class Class
	ID    ID
	Type  Type
	Size  int
	Kind  EventType
}

// Observer receives notifications about resource lifecycle events.
// Observers are called outside the table lock and must not block.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

var (
	ErrClosed            = errors.New("resource table closed")
	ErrExhausted         = errors.New("resource table exhausted")
	ErrNotFound          = errors.New("resource not found")
	ErrTypeMismatch      = errors.New("resource type mismatch")
	ErrOutstandingBorrow = errors.New("cannot detach resource with outstanding borrows")
)
