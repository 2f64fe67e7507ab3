package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/device-bridge/dispatch"
	"github.com/wippyai/device-bridge/errors"
	"github.com/wippyai/device-bridge/ffi"
	"github.com/wippyai/device-bridge/resource"
)

// Limits bounds the resources a bridge may hold. Zero means unbounded.
type Limits struct {
	MaxHandles     int
	MaxBuffers     int
	MaxBufferBytes int
}

type options struct {
	log    *zap.Logger
	sched  dispatch.Scheduler
	names  ffi.CodeNamer
	limits Limits
}

// Option configures a Bridge.
type Option func(*options)

// WithLogger sets the logger. Components get named children of it.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithLimits bounds the handle registry and the buffer pool.
func WithLimits(l Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithScheduler sets where continuations run. The default runs them inline.
func WithScheduler(s dispatch.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithCodeNamer names native error codes in failure messages.
func WithCodeNamer(n ffi.CodeNamer) Option {
	return func(o *options) { o.names = n }
}

// Stats is a snapshot of bridge resource usage.
type Stats struct {
	Handles     int  `cbor:"handles" json:"handles"`
	Buffers     int  `cbor:"buffers" json:"buffers"`
	BufferBytes int  `cbor:"bufferBytes" json:"bufferBytes"`
	Pending     int  `cbor:"pending" json:"pending"`
	Operations  int  `cbor:"operations" json:"operations"`
	Closed      bool `cbor:"closed" json:"closed"`
}

// Map returns the stats as a generic mapping.
func (s Stats) Map() map[string]any {
	return map[string]any{
		"handles":     int64(s.Handles),
		"buffers":     int64(s.Buffers),
		"bufferBytes": int64(s.BufferBytes),
		"pending":     int64(s.Pending),
		"operations":  int64(s.Operations),
		"closed":      s.Closed,
	}
}

// Teardown reports what Close released.
type Teardown struct {
	Cancelled int
	Handles   int
	Buffers   int
}

// Bridge owns the handle registry, the buffer pool and the dispatcher for
// one scripting runtime. It is Live from New until Close, then Closed.
type Bridge struct {
	handles  *resource.Registry
	buffers  *resource.Pool
	hosts    *dispatch.HostRegistry
	disp     *dispatch.Dispatcher
	log      *zap.Logger
	teardown Teardown
	once     sync.Once
}

// New creates a live bridge with the built-in operations registered.
func New(opts ...Option) *Bridge {
	o := options{log: Logger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}

	handles := resource.NewRegistry(o.limits.MaxHandles)
	handles.SetLogger(o.log.Named("handles"))
	buffers := resource.NewPool(o.limits.MaxBuffers, o.limits.MaxBufferBytes)
	hosts := dispatch.NewHostRegistry()

	b := &Bridge{
		handles: handles,
		buffers: buffers,
		hosts:   hosts,
		log:     o.log,
		disp: dispatch.New(dispatch.Config{
			Hosts:      hosts,
			Handles:    handles,
			Buffers:    buffers,
			Scheduler:  o.sched,
			Translator: ffi.NewTranslator(o.names, o.log.Named("ffi")),
			Logger:     o.log.Named("dispatch"),
		}),
	}

	if err := hosts.RegisterHost(builtins{b: b}); err != nil {
		// builtin signatures are static; failing here is a programming error
		panic(err)
	}
	return b
}

// RegisterHost adds a group of native operations.
func (b *Bridge) RegisterHost(h dispatch.Host) error {
	if b.disp.Closed() {
		return errors.TornDown(errors.PhaseHost, h.Namespace())
	}
	if err := b.hosts.RegisterHost(h); err != nil {
		return err
	}
	b.log.Debug("host registered",
		zap.String("namespace", h.Namespace()),
		zap.Int("operations", len(h.Operations())))
	return nil
}

// Dispatch submits one message. See dispatch.Dispatcher.Dispatch.
func (b *Bridge) Dispatch(ctx context.Context, msg dispatch.Message, onSuccess func(map[string]any), onFailure func(errors.Failure)) error {
	return b.disp.Dispatch(ctx, msg, onSuccess, onFailure)
}

// DispatchRaw submits a generic {op, params} mapping.
func (b *Bridge) DispatchRaw(ctx context.Context, raw map[string]any, onSuccess func(map[string]any), onFailure func(errors.Failure)) error {
	return b.disp.DispatchRaw(ctx, raw, onSuccess, onFailure)
}

// Call dispatches a message and waits for its outcome. A failure outcome is
// returned as an *errors.Error carrying the failure kind and message. Call
// must not be used from the goroutine that runs continuations, since it
// blocks until one of them has run. If the bridge is closed while the
// request executes, Call returns a BridgeTornDown error.
func (b *Bridge) Call(ctx context.Context, op string, params ...any) (map[string]any, error) {
	type result struct {
		payload map[string]any
		failure errors.Failure
		ok      bool
	}
	done := make(chan result, 1)
	err := b.disp.Dispatch(ctx, dispatch.Message{Op: op, Params: params},
		func(m map[string]any) { done <- result{payload: m, ok: true} },
		func(f errors.Failure) { done <- result{failure: f} })
	if err != nil {
		return nil, err
	}

	select {
	case r := <-done:
		if r.ok {
			return r.payload, nil
		}
		return nil, FailureError(r.failure)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.disp.Done():
		select {
		case r := <-done:
			if r.ok {
				return r.payload, nil
			}
			return nil, FailureError(r.failure)
		default:
		}
		return nil, errors.TornDown(errors.PhaseDeliver, op)
	}
}

// FailureError rebuilds a structured error from a delivered failure.
func FailureError(f errors.Failure) *errors.Error {
	e := &errors.Error{
		Phase:  errors.PhaseDeliver,
		Kind:   f.Kind,
		Detail: f.Message,
	}
	if f.Code != nil {
		e.Code = *f.Code
		e.HasCode = true
	}
	return e
}

// Close tears the bridge down: no new messages are accepted, executing
// requests are cancelled without delivery, and every handle and buffer is
// released. Close is idempotent.
func (b *Bridge) Close() Teardown {
	b.once.Do(func() {
		t := Teardown{Cancelled: b.disp.Close()}
		t.Handles = b.handles.DrainAll()
		t.Buffers = b.buffers.DrainAll()
		b.teardown = t
		b.log.Info("bridge torn down",
			zap.Int("cancelled", t.Cancelled),
			zap.Int("handles", t.Handles),
			zap.Int("buffers", t.Buffers))
	})
	return b.teardown
}

// Closed reports whether Close has been called.
func (b *Bridge) Closed() bool {
	return b.disp.Closed()
}

// Stats returns a snapshot of resource usage.
func (b *Bridge) Stats() Stats {
	return Stats{
		Handles:     b.handles.Len(),
		Buffers:     b.buffers.Len(),
		BufferBytes: b.buffers.Bytes(),
		Pending:     b.disp.Pending(),
		Operations:  len(b.hosts.Names()),
		Closed:      b.disp.Closed(),
	}
}

// Operations lists every registered operation name.
func (b *Bridge) Operations() []string {
	return b.hosts.Names()
}

// Namespace returns the namespace that registered op.
func (b *Bridge) Namespace(op string) string {
	return b.hosts.Namespace(op)
}

func (b *Bridge) Handles() *resource.Registry { return b.handles }
func (b *Bridge) Buffers() *resource.Pool     { return b.buffers }

// Subscribe observes lifecycle events of both handles and buffers.
func (b *Bridge) Subscribe(obs resource.Observer) {
	b.handles.Subscribe(obs)
	b.buffers.Subscribe(obs)
}
