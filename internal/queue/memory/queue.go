// Package memory provides the in-memory task queue used by the scheduler.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cakehq/cake/internal/crawl"
)

// ErrClosed is returned once the queue has shut down.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO with context-aware operations. Workers enqueue
// discovered children while other workers block on Dequeue; an unbounded
// buffer keeps child fan-out from deadlocking a full worker pool.
type Queue struct {
	in   chan crawl.FetchTask
	out  chan crawl.FetchTask
	done chan struct{}
	once sync.Once
}

// NewQueue constructs a queue and starts its pump goroutine.
func NewQueue() *Queue {
	q := &Queue{
		in:   make(chan crawl.FetchTask),
		out:  make(chan crawl.FetchTask),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// pump shuttles tasks from in to out through an unbounded buffer. Close ends
// the pump even with tasks still buffered: after a cancelled job no consumer
// remains to drain them, and a pump waiting on a send would never exit.
func (q *Queue) pump() {
	defer close(q.out)
	var buf []crawl.FetchTask
	for {
		var (
			out  chan crawl.FetchTask
			next crawl.FetchTask
		)
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}
		select {
		case task := <-q.in:
			buf = append(buf, task)
		case out <- next:
			buf = buf[1:]
		case <-q.done:
			return
		}
	}
}

// Enqueue pushes a task, reports ErrClosed after Close, or returns early if
// the context ends first.
func (q *Queue) Enqueue(ctx context.Context, task crawl.FetchTask) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.in <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. It returns
// ErrClosed once the queue has shut down.
func (q *Queue) Dequeue(ctx context.Context) (crawl.FetchTask, error) {
	select {
	case <-ctx.Done():
		return crawl.FetchTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.out:
		if !ok {
			return crawl.FetchTask{}, ErrClosed
		}
		return task, nil
	}
}

// Close shuts the queue down and releases the pump. Tasks still buffered are
// dropped; Enqueue and Dequeue report ErrClosed from here on. Safe to call
// more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}
