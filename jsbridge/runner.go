package jsbridge

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"

	"github.com/wippyai/device-bridge/bridge"
	"github.com/wippyai/device-bridge/dispatch"
	"github.com/wippyai/device-bridge/errors"
)

//go:embed idevice.js
var prelude string

// PostFunction is the global scripts use to send a message to the bridge.
const PostFunction = "__postDeviceMessage"

// ModuleName is the require() name of the bridge module.
const ModuleName = "devbridge"

// Config configures a Runner.
type Config struct {
	// Hosts are registered on the bridge before the prelude runs.
	Hosts []dispatch.Host
	// BridgeOptions are passed to bridge.New. The scheduler option is
	// always overridden with the runner's event loop.
	BridgeOptions []bridge.Option
	// Console receives console output in addition to the log.
	Console io.Writer
	Logger  *zap.Logger
	// NoPrelude skips the wrapper functions.
	NoPrelude bool
}

// Runner couples a goja event loop with a bridge. Scripts post messages
// with __postDeviceMessage and get promises back; continuations run on the
// loop goroutine.
type Runner struct {
	loop   *eventloop.EventLoop
	sched  *LoopScheduler
	b      *bridge.Bridge
	log    *zap.Logger
	closed chan struct{}
	once   sync.Once
}

// New creates a runner, registers cfg.Hosts and starts the event loop.
func New(cfg Config) (*Runner, error) {
	log := cfg.Logger
	if log == nil {
		log = Logger()
	}

	reg := new(require.Registry)
	reg.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(&printer{
		log: log.Named("console"),
		out: cfg.Console,
	}))

	loop := eventloop.NewEventLoop(eventloop.WithRegistry(reg))
	sched := NewLoopScheduler(loop)

	opts := append(append([]bridge.Option{}, cfg.BridgeOptions...), bridge.WithScheduler(sched))
	b := bridge.New(opts...)
	for _, h := range cfg.Hosts {
		if err := b.RegisterHost(h); err != nil {
			b.Close()
			return nil, err
		}
	}

	r := &Runner{
		loop:   loop,
		sched:  sched,
		b:      b,
		log:    log,
		closed: make(chan struct{}),
	}
	reg.RegisterNativeModule(ModuleName, r.requireModule)
	loop.Start()

	if err := r.install(cfg.NoPrelude); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Bridge returns the underlying bridge.
func (r *Runner) Bridge() *bridge.Bridge {
	return r.b
}

func (r *Runner) install(noPrelude bool) error {
	done := make(chan error, 1)
	r.loop.RunOnLoop(func(vm *goja.Runtime) {
		done <- func() error {
			if err := vm.Set(PostFunction, r.post(vm)); err != nil {
				return err
			}
			if err := vm.Set("__bridgeOperations", r.operations()); err != nil {
				return err
			}
			if noPrelude {
				return nil
			}
			if _, err := vm.RunScript("idevice.js", prelude); err != nil {
				return fmt.Errorf("prelude: %w", err)
			}
			return nil
		}()
	})
	return <-done
}

func (r *Runner) operations() []any {
	names := r.b.Operations()
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// requireModule exposes the bridge as require("devbridge").
func (r *Runner) requireModule(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	_ = exports.Set("post", r.post(vm))
	_ = exports.Set("operations", r.operations())
	_ = exports.Set("stats", func() map[string]any { return r.b.Stats().Map() })
}

// post returns the JavaScript function that dispatches a message and
// returns a promise for its outcome. It must be created on the loop.
func (r *Runner) post(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := vm.NewPromise()

		raw, ok := call.Argument(0).Export().(map[string]any)
		if !ok {
			reject(failureValue(vm, errors.InvalidRequest("", nil, "message must be an object").Failure()))
			return vm.ToValue(promise)
		}

		err := r.b.DispatchRaw(context.Background(), raw,
			func(payload map[string]any) { resolve(toValue(vm, payload)) },
			func(f errors.Failure) { reject(failureValue(vm, f)) })
		if err != nil {
			reject(failureValue(vm, errors.AsFailure(err)))
		}
		return vm.ToValue(promise)
	}
}

// Run executes src and waits for its completion value. A promise result is
// awaited; a rejected promise becomes the error.
func (r *Runner) Run(ctx context.Context, name, src string) (any, error) {
	return r.run(ctx, name, src, func(_ *goja.Runtime, v goja.Value) any {
		if v == nil {
			return nil
		}
		return v.Export()
	})
}

// Eval runs src like Run and renders the result as JSON where possible,
// for interactive use.
func (r *Runner) Eval(ctx context.Context, src string) (string, error) {
	out, err := r.run(ctx, "<repl>", src, func(vm *goja.Runtime, v goja.Value) any {
		return render(vm, v)
	})
	if err != nil {
		return "", err
	}
	s, _ := out.(string)
	return s, nil
}

func render(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if _, ok := v.(*goja.Object); ok {
		if stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify")); ok {
			if s, err := stringify(goja.Undefined(), v); err == nil && !goja.IsUndefined(s) {
				return s.String()
			}
		}
	}
	return v.String()
}

type outcome struct {
	value any
	err   error
}

func (r *Runner) run(ctx context.Context, name, src string, convert func(*goja.Runtime, goja.Value) any) (any, error) {
	select {
	case <-r.closed:
		return nil, errors.TornDown(errors.PhaseExecute, name)
	default:
	}

	done := make(chan outcome, 1)
	r.loop.RunOnLoop(func(vm *goja.Runtime) {
		v, err := vm.RunScript(name, src)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		r.await(vm, v, func(v goja.Value, err error) {
			if err != nil {
				done <- outcome{err: err}
				return
			}
			done <- outcome{value: convert(vm, v)}
		})
	})

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.closed:
		return nil, errors.TornDown(errors.PhaseExecute, name)
	}
}

// await calls fn with the settled value of v, or with v itself if it is not
// a promise.
func (r *Runner) await(vm *goja.Runtime, v goja.Value, fn func(goja.Value, error)) {
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		fn(v, nil)
		return
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		fn(p.Result(), nil)
		return
	case goja.PromiseStateRejected:
		fn(nil, rejectionError(p.Result()))
		return
	}

	then, _ := goja.AssertFunction(v.ToObject(vm).Get("then"))
	onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		fn(call.Argument(0), nil)
		return goja.Undefined()
	})
	onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		fn(nil, rejectionError(call.Argument(0)))
		return goja.Undefined()
	})
	if _, err := then(v, onFulfilled, onRejected); err != nil {
		fn(nil, err)
	}
}

// Close tears down the bridge and stops the loop. Promises still pending
// never settle; Run and Eval callers waiting on them return BridgeTornDown.
func (r *Runner) Close() bridge.Teardown {
	r.once.Do(func() {
		td := r.b.Close()
		r.sched.Stop()
		close(r.closed)
		r.loop.Stop()
		r.log.Debug("script runner stopped",
			zap.Int("cancelled", td.Cancelled),
			zap.Int("handles", td.Handles))
	})
	return r.b.Close()
}
