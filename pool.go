// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool runs subscriber callbacks on a fixed number of workers
//
// Submit never blocks: when the queue is full the task is rejected with
// ErrPoolSaturated so the receive loop keeps draining the socket.
type Pool struct {
	mu      sync.RWMutex
	queue   chan func()
	stopped bool
	done    chan struct{}
	group   errgroup.Group
	logger  Logger
}

// NewPool starts workers goroutines reading from a queue of size tasks
func NewPool(workers, size int, logger Logger) *Pool {
	if workers < 1 {
		workers = DefaultWorkerCount
	}
	if size < 1 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	p := &Pool{
		queue:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

func (p *Pool) work() error {
	for task := range p.queue {
		p.run(task)
	}
	return nil
}

// run executes task, recovering and logging a panic
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error(context.Background(), "Subscriber callback panicked",
				"panic", r)
		}
	}()
	task()
}

// Submit queues task for execution
//
// Returns ErrPoolSaturated when the queue is full and ErrClosed after Stop.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrClosed
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Stop rejects new tasks, lets queued tasks finish and waits for the workers
//
// Safe to call more than once. Must not be called from a task; use
// Shutdown there.
func (p *Pool) Stop() {
	<-p.Shutdown()
}

// Shutdown rejects new tasks and returns at once
//
// Queued tasks still run; the returned channel is closed once every worker
// has exited.
func (p *Pool) Shutdown() <-chan struct{} {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
		go func() {
			_ = p.group.Wait()
			close(p.done)
		}()
	}
	p.mu.Unlock()
	return p.done
}
