package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/device-bridge/errors"
	"github.com/wippyai/device-bridge/ffi"
	"github.com/wippyai/device-bridge/resource"
)

// State is the lifecycle position of a request.
type State uint32

const (
	StateReceived State = iota
	StateValidated
	StateExecuting
	StateSucceeded
	StateFailed
	StateCancelled // torn down before completion; never delivered
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateExecuting:
		return "executing"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

// Config configures a Dispatcher. Zero fields get defaults: an empty host
// registry, unbounded handle and buffer tables, the Inline scheduler and a
// translator that names no codes.
type Config struct {
	Hosts      *HostRegistry
	Handles    *resource.Registry
	Buffers    *resource.Pool
	Scheduler  Scheduler
	Translator *ffi.Translator
	Logger     *zap.Logger
}

// Dispatcher routes scripting requests to native operations and delivers
// exactly one outcome per request to the continuation it was given.
type Dispatcher struct {
	base    context.Context
	hosts   *HostRegistry
	handles *resource.Registry
	buffers *resource.Pool
	sched   Scheduler
	tr      *ffi.Translator
	log     *zap.Logger
	cancel  context.CancelFunc
	pending map[uint64]*request
	nextID  uint64
	mu      sync.Mutex
	closed  atomic.Bool
}

type request struct {
	onSuccess func(map[string]any)
	onFailure func(errors.Failure)
	cancel    func()
	op        string
	leases    []*resource.Lease
	id        uint64
	state     atomic.Uint32
}

// finish moves the request to a terminal state. Only the first caller wins.
func (r *request) finish(to State) bool {
	for {
		cur := State(r.state.Load())
		if cur.Terminal() {
			return false
		}
		if r.state.CompareAndSwap(uint32(cur), uint32(to)) {
			return true
		}
	}
}

func (r *request) returnLeases() {
	for _, l := range r.leases {
		l.Return()
	}
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = Logger()
	}
	if cfg.Hosts == nil {
		cfg.Hosts = NewHostRegistry()
	}
	if cfg.Handles == nil {
		cfg.Handles = resource.NewRegistry(0)
	}
	if cfg.Buffers == nil {
		cfg.Buffers = resource.NewPool(0, 0)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = Inline
	}
	if cfg.Translator == nil {
		cfg.Translator = ffi.NewTranslator(nil, cfg.Logger)
	}

	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		base:    base,
		cancel:  cancel,
		hosts:   cfg.Hosts,
		handles: cfg.Handles,
		buffers: cfg.Buffers,
		sched:   cfg.Scheduler,
		tr:      cfg.Translator,
		log:     cfg.Logger,
		pending: make(map[uint64]*request),
	}
}

func (d *Dispatcher) Hosts() *HostRegistry        { return d.hosts }
func (d *Dispatcher) Handles() *resource.Registry { return d.handles }
func (d *Dispatcher) Buffers() *resource.Pool     { return d.buffers }

// Closed reports whether Close has been called.
func (d *Dispatcher) Closed() bool {
	return d.closed.Load()
}

// Done is closed when the dispatcher is closed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.base.Done()
}

// Pending returns the number of requests currently executing.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Dispatch processes one request. Exactly one of onSuccess and onFailure is
// eventually run on the scheduler, unless the dispatcher is closed before
// the request completes, in which case neither runs.
//
// Validation failures are delivered through onFailure like any other. The
// returned error is non-nil only when the dispatcher is already closed; no
// continuation runs in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, onSuccess func(map[string]any), onFailure func(errors.Failure)) error {
	if d.closed.Load() {
		return errors.TornDown(errors.PhaseValidate, msg.Op)
	}

	req := &request{op: msg.Op, onSuccess: onSuccess, onFailure: onFailure}

	op, ok := d.hosts.Lookup(msg.Op)
	if !ok {
		d.reject(req, errors.UnknownOperation(msg.Op))
		return nil
	}

	call, verr := d.prepare(op, msg.Params, req)
	if verr != nil {
		d.reject(req, verr)
		return nil
	}
	req.state.Store(uint32(StateValidated))

	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(d.base, cancel)
	req.cancel = func() {
		stop()
		cancel()
	}

	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		req.cancel()
		req.returnLeases()
		return errors.TornDown(errors.PhaseValidate, msg.Op)
	}
	d.nextID++
	req.id = d.nextID
	d.pending[req.id] = req
	req.state.Store(uint32(StateExecuting))
	d.mu.Unlock()

	d.log.Debug("dispatching",
		zap.String("op", op.Name),
		zap.Uint64("request", req.id))

	d.invoke(opCtx, call)
	return nil
}

// DispatchRaw parses a generic {op, params} mapping and dispatches it.
// A malformed envelope is reported through onFailure.
func (d *Dispatcher) DispatchRaw(ctx context.Context, raw map[string]any, onSuccess func(map[string]any), onFailure func(errors.Failure)) error {
	msg, err := ParseMessage(raw)
	if err != nil {
		if d.closed.Load() {
			return errors.TornDown(errors.PhaseValidate, msg.Op)
		}
		d.reject(&request{onSuccess: onSuccess, onFailure: onFailure}, err)
		return nil
	}
	return d.Dispatch(ctx, msg, onSuccess, onFailure)
}

func (d *Dispatcher) invoke(ctx context.Context, call *Call) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("operation panicked",
				zap.String("op", call.op.Name),
				zap.Any("panic", p))
			call.Reject(errors.New(errors.PhaseExecute, errors.KindNativeFailure).
				Op(call.op.Name).
				Detail("operation panicked: %v", p).
				Build())
		}
	}()

	if err := call.takeConsumed(); err != nil {
		call.Reject(err)
		return
	}
	call.op.Invoke(ctx, call)
}

// Close cancels every executing request without delivering it and rejects
// all later dispatches. Completions that arrive afterwards are swallowed and
// their payloads released. It returns the number of requests cancelled.
func (d *Dispatcher) Close() int {
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return 0
	}
	d.closed.Store(true)
	reqs := make([]*request, 0, len(d.pending))
	for id, req := range d.pending {
		reqs = append(reqs, req)
		delete(d.pending, id)
	}
	d.mu.Unlock()

	d.cancel()

	n := 0
	for _, req := range reqs {
		if req.finish(StateCancelled) {
			n++
			req.cancel()
			req.returnLeases()
		}
	}
	d.log.Debug("dispatcher closed", zap.Int("cancelled", n))
	return n
}

// settle clears executing-state bookkeeping once a request is terminal.
func (d *Dispatcher) settle(req *request) {
	d.mu.Lock()
	delete(d.pending, req.id)
	d.mu.Unlock()

	if req.cancel != nil {
		req.cancel()
	}
	req.returnLeases()
}

// reject fails a request that never reached execution.
func (d *Dispatcher) reject(req *request, err *errors.Error) {
	if !req.finish(StateFailed) {
		return
	}
	d.log.Debug("request rejected",
		zap.String("op", req.op),
		zap.String("kind", string(err.Kind)),
		zap.String("reason", err.Message()))
	d.deliverFailure(req, err)
}

func (d *Dispatcher) deliverSuccess(req *request, payload map[string]any) {
	d.post(req, func() {
		if req.onSuccess != nil {
			req.onSuccess(payload)
		}
	}, func() {
		d.freeRefs(payload)
	})
}

func (d *Dispatcher) deliverFailure(req *request, err *errors.Error) {
	f := err.Failure()
	d.post(req, func() {
		if req.onFailure != nil {
			req.onFailure(f)
		}
	}, nil)
}

// post runs deliver on the scheduler. If the dispatcher has been closed by
// the time the continuation runs, or the scheduler refuses it, discard runs
// instead and nothing is delivered.
func (d *Dispatcher) post(req *request, deliver, discard func()) {
	fn := func() {
		if d.closed.Load() {
			d.log.Debug("delivery after teardown swallowed", zap.String("op", req.op))
			if discard != nil {
				discard()
			}
			return
		}
		defer func() {
			if p := recover(); p != nil {
				d.log.Error("continuation panicked",
					zap.String("op", req.op),
					zap.Any("panic", p))
			}
		}()
		deliver()
	}
	if !d.sched.Post(fn) {
		d.log.Debug("scheduler refused delivery", zap.String("op", req.op))
		if discard != nil {
			discard()
		}
	}
}

// dropped handles a completion for a request that is already terminal.
func (d *Dispatcher) dropped(req *request, what string) {
	if State(req.state.Load()) == StateCancelled {
		d.log.Debug("completion after teardown swallowed",
			zap.String("op", req.op),
			zap.String("outcome", what))
		return
	}
	d.log.Warn("duplicate completion dropped",
		zap.String("op", req.op),
		zap.Uint64("request", req.id),
		zap.String("outcome", what))
}

func (d *Dispatcher) prepare(op *Operation, params []any, req *request) (*Call, *errors.Error) {
	if len(params) > len(op.Params) {
		return nil, errors.InvalidRequest(op.Name, nil,
			fmt.Sprintf("expected at most %d parameters, got %d", len(op.Params), len(params)))
	}

	args := make([]any, len(op.Params))
	for i, p := range params {
		n, err := normalize(p, paramPath(op, i), false)
		if err != nil {
			err.Op = op.Name
			return nil, err
		}
		args[i] = n
	}

	// Every reference must be live before shapes are checked, so a freed
	// identifier is reported as stale wherever it appears.
	for i, a := range args {
		ref, ok := a.(Ref)
		if !ok || op.Params[i].Kind.passthrough() {
			continue
		}
		if !d.live(ref) {
			return nil, errors.StaleReference(op.Name, paramPath(op, i), string(ref.Kind), uint32(ref.ID))
		}
	}

	call := &Call{d: d, req: req, op: op, args: args, set: make([]bool, len(args)), consume: -1}
	for i, spec := range op.Params {
		if args[i] == nil {
			if !spec.Optional {
				return nil, errors.InvalidRequest(op.Name, paramPath(op, i), "missing required parameter")
			}
			continue
		}
		v, err := coerce(op.Name, spec, args[i], paramPath(op, i))
		if err != nil {
			return nil, err
		}
		args[i] = v
		call.set[i] = true
	}

	for i, spec := range op.Params {
		if !call.set[i] {
			continue
		}
		switch spec.Kind {
		case ParamHandle:
			ref := args[i].(Ref)
			if spec.Consume {
				if typ, ok := d.handles.TypeOf(ref.ID); ok && spec.Type != resource.TypeAny && typ != spec.Type {
					req.returnLeases()
					return nil, errors.InvalidRequest(op.Name, paramPath(op, i),
						fmt.Sprintf("handle %d has the wrong type", ref.ID))
				}
				call.consume = i
				continue
			}
			lease, err := d.handles.Acquire(ref.ID, spec.Type)
			if err != nil {
				req.returnLeases()
				return nil, resolveError(op.Name, paramPath(op, i), ref, err)
			}
			req.leases = append(req.leases, lease)
			args[i] = lease.Value()
		case ParamBuffer:
			ref := args[i].(Ref)
			data, ok := d.buffers.Resolve(ref.ID)
			if !ok {
				req.returnLeases()
				return nil, errors.StaleReference(op.Name, paramPath(op, i), string(ref.Kind), uint32(ref.ID))
			}
			args[i] = data
		}
	}
	return call, nil
}

func (d *Dispatcher) live(ref Ref) bool {
	switch ref.Kind {
	case RefHandle:
		return d.handles.Contains(ref.ID)
	case RefBuffer:
		return d.buffers.Contains(ref.ID)
	}
	return false
}

func coerce(op string, spec ParamSpec, v any, path []string) (any, *errors.Error) {
	ref, isRef := v.(Ref)
	if isRef != spec.Kind.isRef() && spec.Kind != ParamAny {
		return nil, errors.ParamMismatch(op, path, spec.Kind.String(), v)
	}

	switch spec.Kind {
	case ParamAny:
		if isRef {
			return nil, errors.ParamMismatch(op, path, "non-reference value", v)
		}
		return v, nil
	case ParamString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case ParamInt:
		if n, ok := integral(v); ok {
			return n, nil
		}
	case ParamNumber:
		switch n := v.(type) {
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case ParamBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case ParamList:
		if l, ok := v.([]any); ok {
			return l, nil
		}
	case ParamMap:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	case ParamHandle, ParamHandleID:
		if ref.Kind == RefHandle {
			return ref, nil
		}
	case ParamBuffer, ParamBufferID:
		if ref.Kind == RefBuffer {
			return ref, nil
		}
	}
	return nil, errors.ParamMismatch(op, path, spec.Kind.String(), v)
}

func resolveError(op string, path []string, ref Ref, err error) *errors.Error {
	switch {
	case stderrors.Is(err, resource.ErrNotFound):
		return errors.StaleReference(op, path, string(ref.Kind), uint32(ref.ID))
	case stderrors.Is(err, resource.ErrTypeMismatch):
		return errors.New(errors.PhaseResolve, errors.KindInvalidRequest).
			Op(op).Path(path...).Cause(err).
			Detail("handle %d has the wrong type", ref.ID).
			Build()
	case stderrors.Is(err, resource.ErrOutstandingBorrow):
		return errors.New(errors.PhaseResolve, errors.KindInvalidRequest).
			Op(op).Path(path...).Cause(err).
			Detail("handle %d is in use", ref.ID).
			Build()
	case stderrors.Is(err, resource.ErrClosed):
		return errors.TornDown(errors.PhaseResolve, op)
	}
	return errors.Wrap(errors.PhaseResolve, errors.KindInvalidRequest, err, "cannot resolve "+ref.String())
}

func paramPath(op *Operation, i int) []string {
	if i < len(op.Params) && op.Params[i].Name != "" {
		return []string{op.Params[i].Name}
	}
	return []string{fmt.Sprintf("params[%d]", i)}
}
