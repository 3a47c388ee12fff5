// Package memory provides the in-process unit queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/parts-catalogue-crawler/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO with delayed re-enqueue and context-aware Dequeue.
type Queue struct {
	mu     sync.Mutex
	items  []crawler.QueueItem
	timers map[*time.Timer]struct{}
	notify chan struct{}
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		timers: make(map[*time.Timer]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends item unless ctx has ended or the queue is closed.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.push(item)
	return nil
}

// EnqueueAfter appends item once delay has elapsed. Delayed items count toward
// Len while they wait; Close drops them.
func (q *Queue) EnqueueAfter(item crawler.QueueItem, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if delay <= 0 {
		q.push(item)
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.timers[timer]; !ok {
			return
		}
		delete(q.timers, timer)
		q.push(item)
	})
	q.timers[timer] = struct{}{}
}

// push must be called with mu held.
func (q *Queue) push(item crawler.QueueItem) {
	q.items = append(q.items, item)
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops the next ready item, blocking until one arrives, ctx ends or
// the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = crawler.QueueItem{}
			q.items = q.items[1:]
			if len(q.items) > 0 && !q.closed {
				q.signal()
			}
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return crawler.QueueItem{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.notify:
		}
	}
}

// Len returns the number of ready and delayed items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + len(q.timers)
}

// Close stops pending timers and wakes blocked consumers. Ready items can
// still be dequeued. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	clear(q.timers)
	close(q.notify)
}
