package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/liuran001/MusicPlayer-Go/core"
)

var ErrPoolClosed = errors.New("worker pool closed")

// Pool runs intents and persistence writes with bounded concurrency.
// A pool of size 1 executes tasks in submission order.
type Pool struct {
	tasks    chan func()
	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	closed   bool
	size     int
	logger   core.Logger
}

// New creates a worker pool with the given size. logger may be nil.
func New(size int, logger core.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	queueSize := size * 16
	if queueSize < 16 {
		queueSize = 16
	}

	p := &Pool{
		tasks:    make(chan func(), queueSize),
		shutdown: make(chan struct{}),
		size:     size,
		logger:   logger,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *Pool) execute(task func()) {
	if task == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && p.logger != nil {
			p.logger.Error("worker task panicked", "panic", r)
		}
	}()
	task()
}

// Submit enqueues a task for execution.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case <-p.shutdown:
		return ErrPoolClosed
	case p.tasks <- task:
		return nil
	}
}

// SubmitWait enqueues a task and waits for it to complete.
func (p *Pool) SubmitWait(task func() error) error {
	return p.SubmitWaitContext(context.Background(), task)
}

// SubmitWaitContext enqueues a task and waits for it or for ctx.
// A task abandoned by ctx still runs to completion.
func (p *Pool) SubmitWaitContext(ctx context.Context, task func() error) error {
	if task == nil {
		return nil
	}
	result := make(chan error, 1)
	if err := p.Submit(func() { result <- task() }); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// Shutdown waits for queued and in-flight tasks until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// StopNow closes the pool without waiting for tasks to finish.
func (p *Pool) StopNow() {
	p.close()
}

// close releases blocked submitters first, then closes the task queue once
// no submitter can still be sending.
func (p *Pool) close() {
	p.stopOnce.Do(func() {
		close(p.shutdown)
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}

var _ core.WorkerPool = (*Pool)(nil)
