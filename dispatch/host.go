package dispatch

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wippyai/device-bridge/errors"
)

// Host is a group of operations provided by one native subsystem.
type Host interface {
	// Namespace names the subsystem (e.g. "device", "bridge").
	Namespace() string
	// Operations lists the entry points the host exposes.
	Operations() []*Operation
}

type hostOp struct {
	op        *Operation
	namespace string
}

// HostRegistry maps operation names to operations. Names are global across
// namespaces: scripting code addresses operations by name only.
type HostRegistry struct {
	ops map[string]hostOp
	mu  sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		ops: make(map[string]hostOp),
	}
}

// RegisterHost registers every operation of h. Either all operations are
// registered or none are.
func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.Registration("", "namespace cannot be empty")
	}

	ops := h.Operations()
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if err := validateOperation(op); err != nil {
			return err
		}
		if seen[op.Name] {
			return errors.Registration(op.Name, "declared twice in "+ns)
		}
		seen[op.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, op := range ops {
		if prev, ok := r.ops[op.Name]; ok {
			return errors.Registration(op.Name, "already registered by "+prev.namespace)
		}
	}
	for _, op := range ops {
		r.ops[op.Name] = hostOp{op: op, namespace: ns}
	}
	return nil
}

// RegisterFunc registers a single operation under namespace.
func (r *HostRegistry) RegisterFunc(namespace string, op *Operation) error {
	return r.RegisterHost(funcHost{ns: namespace, ops: []*Operation{op}})
}

type funcHost struct {
	ns  string
	ops []*Operation
}

func (h funcHost) Namespace() string       { return h.ns }
func (h funcHost) Operations() []*Operation { return h.ops }

// Lookup returns the operation registered under name.
func (r *HostRegistry) Lookup(name string) (*Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.ops[name]
	return h.op, ok
}

// Names returns all registered operation names, sorted.
func (r *HostRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Namespace returns the namespace that registered name.
func (r *HostRegistry) Namespace(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ops[name].namespace
}

func validateOperation(op *Operation) error {
	if op == nil {
		return errors.Registration("", "operation cannot be nil")
	}
	if op.Name == "" {
		return errors.Registration("", "operation name cannot be empty")
	}
	if op.Invoke == nil {
		return errors.Registration(op.Name, "operation has no implementation")
	}

	optional := false
	consumed := 0
	for i, p := range op.Params {
		if p.Optional {
			optional = true
		} else if optional {
			return errors.Registration(op.Name, fmt.Sprintf("required parameter %d (%s) follows an optional one", i, p.Name))
		}
		if p.Consume {
			if p.Kind != ParamHandle {
				return errors.Registration(op.Name, fmt.Sprintf("parameter %d (%s) consumes a non-handle", i, p.Name))
			}
			consumed++
		}
	}
	if consumed > 1 {
		return errors.Registration(op.Name, "at most one parameter may be consumed")
	}
	return nil
}
