package jsbridge

import (
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// LoopScheduler delivers continuations on a goja event loop, the only
// goroutine allowed to touch the runtime's values.
type LoopScheduler struct {
	loop    *eventloop.EventLoop
	stopped atomic.Bool
}

func NewLoopScheduler(loop *eventloop.EventLoop) *LoopScheduler {
	return &LoopScheduler{loop: loop}
}

// Post queues fn on the loop. It returns false once Stop was called.
func (s *LoopScheduler) Post(fn func()) bool {
	if s.stopped.Load() {
		return false
	}
	s.loop.RunOnLoop(func(*goja.Runtime) { fn() })
	return true
}

// Stop refuses further continuations.
func (s *LoopScheduler) Stop() {
	s.stopped.Store(true)
}
