package queue

import "errors"

var (
	// ErrQueueClosed indicates an enqueue against a closed queue.
	ErrQueueClosed = errors.New("queue closed")
	// ErrQueueFull indicates the queue rejected an event at capacity.
	ErrQueueFull = errors.New("queue full")
)
