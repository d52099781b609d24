package command

import "sync"

// Queue is an unbounded FIFO of commands. Push and Drain may be called from
// different goroutines; neither blocks.
type Queue struct {
	notify chan struct{}

	mu    sync.Mutex
	items []Command
}

func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends cmd and wakes a consumer waiting on Notify.
func (q *Queue) Push(cmd Command) {
	q.mu.Lock()
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued command in insertion order.
// It returns nil when the queue is empty.
func (q *Queue) Drain() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	items := q.items
	q.items = nil

	return items
}

// Len reports the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Notify returns a channel that receives a value after a Push. A single
// notification may cover several pushes.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
