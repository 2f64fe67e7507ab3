package dispatch

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Scheduler runs continuations on the scripting thread. Post returns false
// if the scheduler can no longer run fn; fn is then dropped.
type Scheduler interface {
	Post(fn func()) bool
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(fn func()) bool

func (f SchedulerFunc) Post(fn func()) bool { return f(fn) }

// Inline runs continuations immediately on the completing goroutine. It
// suits single-threaded embedders and tests.
var Inline Scheduler = SchedulerFunc(func(fn func()) bool {
	fn()
	return true
})

// Worker serializes continuations through a single goroutine, for scripting
// runtimes that have no event loop of their own.
type Worker struct {
	log      *zap.Logger
	requests chan workerRequest
	quit     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	stopped  bool
}

type workerRequest struct {
	fn   func()
	done chan error
}

// NewWorker creates a Worker and starts its goroutine. backlog bounds the
// number of queued continuations before Post blocks.
func NewWorker(backlog int, log *zap.Logger) *Worker {
	if backlog <= 0 {
		backlog = 64
	}
	if log == nil {
		log = Logger()
	}
	w := &Worker{
		log:      log,
		requests: make(chan workerRequest, backlog),
		quit:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.exited)
	for {
		select {
		case req := <-w.requests:
			w.run(req)
		case <-w.quit:
			return
		}
	}
}

func (w *Worker) run(req workerRequest) {
	err := w.execute(req.fn)
	if req.done != nil {
		req.done <- err
	} else if err != nil {
		w.log.Error("continuation panicked", zap.Error(err))
	}
}

// enqueue hands req to the worker. It returns false once the worker is
// stopped; a request accepted here is always run.
func (w *Worker) enqueue(req workerRequest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	select {
	case <-w.quit:
		return false
	default:
	}
	select {
	case w.requests <- req:
		return true
	case <-w.quit:
		return false
	}
}

// execute runs fn, recovering from panics.
func (w *Worker) execute(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}

// Post queues fn. It returns false once the worker is stopped.
func (w *Worker) Post(fn func()) bool {
	return w.enqueue(workerRequest{fn: fn})
}

// Do runs fn on the worker goroutine and waits for it. A panic in fn is
// returned as an error.
func (w *Worker) Do(fn func()) error {
	req := workerRequest{fn: fn, done: make(chan error, 1)}
	if !w.enqueue(req) {
		return ErrWorkerStopped
	}
	return <-req.done
}

// Stop shuts the worker down. Continuations queued before Stop still run,
// on the calling goroutine, before Stop returns; later Posts are refused.
// Stop must not be called from a continuation.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		<-w.exited

		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()

		for {
			select {
			case req := <-w.requests:
				w.run(req)
			default:
				return
			}
		}
	})
}

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("worker stopped")
