package exchange

import (
	"sync"

	"go.uber.org/zap"
)

// Pool is the shared task scheduler: matching attempts and notification
// deliveries run here so that submitting an order returns quickly. The pool
// is unbounded; each task gets its own goroutine and Submit never blocks.
type Pool struct {
	log *zap.SugaredLogger

	mu     sync.Mutex
	idle   *sync.Cond
	active int
	closed bool
}

// NewPool returns a running pool. A nil logger is replaced with a no-op one.
func NewPool(log *zap.SugaredLogger) *Pool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	p := &Pool{log: log}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Submit schedules fn on its own goroutine. It reports false if the pool has
// been shut down, in which case fn is not run. Panics inside fn are recovered
// and logged; they never propagate into the engine.
func (p *Pool) Submit(fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.active++
	p.mu.Unlock()

	go func() {
		defer p.done()
		defer func() {
			if r := recover(); r != nil {
				p.log.Errorw("task_panic", "panic", r)
			}
		}()
		fn()
	}()
	return true
}

func (p *Pool) done() {
	p.mu.Lock()
	p.active--
	if p.active == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

// Quiesce blocks until no task is running. Tasks submitted while waiting
// extend the wait.
func (p *Pool) Quiesce() {
	p.mu.Lock()
	for p.active > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Shutdown stops accepting new tasks and waits for in-flight ones to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	for p.active > 0 {
		p.idle.Wait()
	}
	p.mu.Unlock()
}
