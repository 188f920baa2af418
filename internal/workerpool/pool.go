// Package workerpool runs user-triggered actions with a bounded number in
// flight. Submissions beyond the limit are rejected, not queued.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/gupsammy/MacJarvis/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work. ctx is cancelled when the pool shuts down.
type Task func(ctx context.Context)

// Pool bounds concurrent tasks to a fixed number of slots.
type Pool struct {
	slots     chan struct{}
	wg        sync.WaitGroup
	accepting atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
}

// New creates a pool allowing maxInFlight tasks at once.
func New(maxInFlight int) *Pool {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		slots:  make(chan struct{}, maxInFlight),
		ctx:    ctx,
		cancel: cancel,
	}
	p.accepting.Store(true)
	return p
}

// Submit starts task if a slot is free. Returns false if the pool is
// stopped or every slot is taken.
// wg.Add happens before the goroutine starts so Drain cannot miss it.
func (p *Pool) Submit(task Task) bool {
	if !p.accepting.Load() {
		return false
	}
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}

	p.wg.Add(1)
	go p.run(task)
	return true
}

// Busy reports whether every slot is taken.
func (p *Pool) Busy() bool {
	return len(p.slots) == cap(p.slots)
}

// Context is cancelled once the pool shuts down.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// StopAccepting prevents new tasks from being submitted.
func (p *Pool) StopAccepting() {
	p.accepting.Store(false)
}

// Drain waits for in-flight tasks, respecting the ctx deadline. It stops
// accepting new tasks first.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", "inFlight", len(p.slots))
	}
}

// Shutdown cancels the task context and drains.
func (p *Pool) Shutdown(ctx context.Context) {
	p.stopOnce.Do(p.cancel)
	p.Drain(ctx)
}

func (p *Pool) run(task Task) {
	defer p.wg.Done()
	defer func() { <-p.slots }()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
