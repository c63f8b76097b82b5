package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolClosed is returned when work is submitted after Close
var ErrPoolClosed = errors.New("worker pool closed")

// Task states; a queued task is claimed by exactly one of a worker or its caller
const (
	taskQueued int32 = iota
	taskRunning
	taskAbandoned
)

type task struct {
	ctx   context.Context
	fn    func(context.Context) error
	done  chan error
	state atomic.Int32
}

// start claims the task for a worker
func (t *task) start() bool {
	return t.state.CompareAndSwap(taskQueued, taskRunning)
}

// abandon claims the task for its caller; fn will never run
func (t *task) abandon() bool {
	return t.state.CompareAndSwap(taskQueued, taskAbandoned)
}

// Pool runs CPU and IO heavy audio work on a fixed number of goroutines so a
// single caller cannot starve the others.
type Pool struct {
	workers int
	tasks   chan *task
	quit    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewPool starts a pool with the given number of workers
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}

	p := &Pool{
		workers: workers,
		tasks:   make(chan *task, workers*2),
		quit:    make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// Do runs fn on a pool worker and waits for it to finish. If ctx is cancelled
// or the pool is closed while the task is still queued, Do returns at once and
// fn never runs. Once fn has started, Do always waits for it to return.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case <-p.quit:
		return ErrPoolClosed
	default:
	}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		if t.abandon() {
			return ctx.Err()
		}
	case <-p.quit:
		if t.abandon() {
			return ErrPoolClosed
		}
	}

	return <-t.done
}

// Workers returns the pool size
func (p *Pool) Workers() int {
	return p.workers
}

// Close stops accepting work and waits for running tasks to complete. Tasks
// still queued fail with ErrPoolClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
	})
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case t := <-p.tasks:
			if !t.start() {
				continue
			}
			if err := t.ctx.Err(); err != nil {
				t.done <- err
				continue
			}
			t.done <- t.fn(t.ctx)

		case <-p.quit:
			return
		}
	}
}
