// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package deferred

import (
	"context"
	"sync"
)

// Scheduler accepts completion work from a collaborator and runs it
// later on the scheduler's execution context. Collaborators never
// invoke a client callback from inside the request method that
// started the operation unless the scheduler itself runs work inline
// (see [Immediate]).
type Scheduler interface {
	Post(work func())
}

// Immediate is a Scheduler that runs posted work inline, before Post
// returns. Every completion therefore arrives while the request call
// that triggered it is still on the stack.
type Immediate struct{}

// Post runs work synchronously.
func (Immediate) Post(work func()) { work() }

// Queue is a FIFO of pending work drained by a single goroutine.
// Post is safe for concurrent use. Work items run one at a time in
// posting order; work posted while another item runs is appended to
// the queue and runs after it.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Post appends work to the queue.
func (q *Queue) Post(work func()) {
	q.mu.Lock()
	q.pending = append(q.pending, work)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued work items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Step runs the oldest queued work item. Returns false if the queue
// was empty.
func (q *Queue) Step() bool {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return false
	}
	work := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.mu.Unlock()

	work()
	return true
}

// RunPending runs queued work until the queue is empty, including
// work posted by the items it runs. Returns the number of items run.
func (q *Queue) RunPending() int {
	count := 0
	for q.Step() {
		count++
	}
	return count
}

// Run drains the queue until ctx is cancelled. It must be the only
// goroutine draining q.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}
