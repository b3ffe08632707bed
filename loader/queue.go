package loader

import (
	"context"
	"time"
)

// Queue is a fixed capacity FIFO shared between the workers producing
// batches and the session consuming them. Push blocks while the queue is full.
type Queue[T any] struct {
	items chan T
}

func NewQueue[T any](capacity int) (*Queue[T], error) {
	if capacity < 1 {
		return nil, invalidConfig("queue capacity must be positive, got %d", capacity)
	}
	return &Queue[T]{items: make(chan T, capacity)}, nil
}

func (q *Queue[T]) Push(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop waits for the next item for at most timeout.
// A zero timeout waits until an item arrives or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case item := <-q.items:
		return item, nil
	case <-expired:
		return zero, ErrTimeoutExceeded
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Discard drops every buffered item without blocking and returns how many were dropped.
func (q *Queue[T]) Discard() int {
	var n int
	for {
		select {
		case <-q.items:
			n++
		default:
			return n
		}
	}
}

func (q *Queue[T]) Len() int { return len(q.items) }

func (q *Queue[T]) Cap() int { return cap(q.items) }
