// ============================================================================
// epiflight Ensemble Pool - concurrent replicate runner
// ============================================================================
//
// Package: internal/ensemble
// File: pool.go
// Function: Manages the Worker goroutines that run replicate simulations
//
// Design:
//   Worker Pool pattern:
//   1. A fixed number of Worker goroutines keep running
//   2. Tasks are distributed through a shared task channel
//   3. Results are collected through a result channel
//
//   ┌─────────────┐
//   │ Replicates  │ --Submit()--> taskCh
//   └─────────────┘
//         ↑
//   ReceiveResult()
//         ↑
//   ┌─────────────┐
//   │   Pool      │
//   │  ┌────────┐ │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  │Worker 3│←── taskCh
//   │  └────────┘ │
//   └─────────────┘
//
// Lifecycle:
//   1. NewPool() - create channels
//   2. Start(n) - launch n Workers
//   3. Submit(task) - enqueue a replicate
//   4. ReceiveResult() - read one finished replicate
//   5. Stop() - close taskCh, cancel running replicates, wait for Workers
//
// Concurrency control:
//   Submit holds the read lock while sending and Stop takes the write lock
//   before closing taskCh, so a send never races with the close.
//
// Every replicate owns its own Simulation and random streams; nothing is
// shared between Workers except the channels.
//
// ============================================================================

package ensemble

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPoolClosed is returned when submitting to or reading from a stopped pool.
	ErrPoolClosed = errors.New("ensemble pool is closed")
	// ErrPoolNotStarted is returned when submitting before Start.
	ErrPoolNotStarted = errors.New("ensemble pool not started")
	// ErrNoWorkers is returned by Start when asked for fewer than one worker.
	ErrNoWorkers = errors.New("ensemble pool needs at least one worker")
)

// Pool runs replicates on a fixed set of workers.
type Pool struct {
	ctx      context.Context
	cancel   context.CancelFunc
	run      RunFunc
	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	mu       sync.RWMutex
}

// NewPool creates a pool whose channels hold bufferSize entries. Every
// replicate runs under a context derived from ctx; Stop cancels it.
func NewPool(ctx context.Context, bufferSize int, run RunFunc) *Pool {
	if bufferSize < 1 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		ctx:      ctx,
		cancel:   cancel,
		run:      run,
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
	}
}

// Start launches workerCount workers.
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}
	if workerCount < 1 {
		return ErrNoWorkers
	}

	for i := 0; i < workerCount; i++ {
		w := newWorker(p.ctx, i, p.run, p.taskCh, p.resultCh)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}

	p.started = true
	return nil
}

// Submit enqueues a task. It blocks while the task buffer is full.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}
	p.taskCh <- task
	return nil
}

// ReceiveResult waits for the next finished replicate.
func (p *Pool) ReceiveResult(ctx context.Context) (Result, error) {
	select {
	case res, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop closes the pool, cancels running replicates and waits for their
// workers to exit. Queued tasks and results not yet received are discarded.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		p.cancel()
		return
	}
	p.stopped = true
	close(p.taskCh)
	p.mu.Unlock()
	p.cancel()

	for range p.taskCh {
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-p.resultCh:
		case <-done:
			close(p.resultCh)
			return
		}
	}
}

// WorkerCount returns the number of started workers.
func (p *Pool) WorkerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// IsStarted reports whether Start succeeded.
func (p *Pool) IsStarted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}
