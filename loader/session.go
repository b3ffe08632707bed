package loader

import (
	"context"
	"io"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

type State int

const (
	StateInitializing State = iota
	StateSubmitting
	StateDraining
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateSubmitting:
		return "submitting"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is a single pass over a dataset. It owns the worker pool and the
// result queue and releases both once every batch has been consumed, on the
// first error, or on Close.
//
// A Session must be consumed from a single goroutine.
type Session[B any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  log.Logger
	metrics *Metrics

	pool    *Pool
	queue   *Queue[result[B]]
	groups  []IndexGroup
	timeout time.Duration

	inOrder bool
	pending map[int]result[B]
	next    int

	yielded int
	state   State
	err     error
}

// NextBatch returns the next materialized batch, or io.EOF once all
// batches have been returned. After a failure the same error is returned
// on every call.
func (s *Session[B]) NextBatch() (Batch[B], error) {
	switch s.state {
	case StateCompleted:
		return Batch[B]{}, io.EOF
	case StateFailed:
		return Batch[B]{}, s.err
	}

	res, err := s.receive()
	if err == nil {
		err = res.err
	}
	if err != nil {
		s.fail(err)
		return Batch[B]{}, err
	}

	s.yielded++
	if s.yielded == len(s.groups) {
		s.complete()
	}
	return Batch[B]{
		Group:   res.group,
		Indices: s.groups[res.group],
		Data:    res.data,
	}, nil
}

// Each calls fn for every remaining batch and closes the session when done.
func (s *Session[B]) Each(fn func(Batch[B]) error) error {
	defer s.Close()
	for {
		batch, err := s.NextBatch()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}

// Close releases the session before all batches were consumed.
// Closing a finished session is a no-op.
func (s *Session[B]) Close() error {
	if s.state == StateCompleted || s.state == StateFailed {
		return nil
	}

	s.state = StateFailed
	s.err = ErrSessionClosed
	s.release()
	s.metrics.sessions.WithLabelValues("closed").Inc()
	level.Debug(s.logger).Log("msg", "load session closed early", "yielded", s.yielded, "batches", len(s.groups))
	return nil
}

func (s *Session[B]) State() State { return s.state }

func (s *Session[B]) Err() error { return s.err }

func (s *Session[B]) NumBatches() int { return len(s.groups) }

// Buffered returns the number of materialized batches waiting to be consumed.
func (s *Session[B]) Buffered() int { return s.queue.Len() }

func (s *Session[B]) receive() (result[B], error) {
	if !s.inOrder {
		return s.pop()
	}

	for {
		if res, ok := s.pending[s.next]; ok {
			delete(s.pending, s.next)
			s.next++
			return res, nil
		}

		res, err := s.pop()
		if err != nil {
			return res, err
		}
		if res.group == s.next {
			s.next++
			return res, nil
		}
		s.pending[res.group] = res
	}
}

func (s *Session[B]) pop() (result[B], error) {
	start := time.Now()
	res, err := s.queue.Pop(s.ctx, s.timeout)
	s.metrics.popWait.Observe(time.Since(start).Seconds())
	s.metrics.queueDepth.Set(float64(s.queue.Len()))
	if err != nil {
		return res, errors.Wrapf(err, "waiting for batch %d of %d", s.yielded+1, len(s.groups))
	}
	return res, nil
}

func (s *Session[B]) complete() {
	s.state = StateCompleted
	s.release()
	s.metrics.sessions.WithLabelValues(StateCompleted.String()).Inc()
	level.Debug(s.logger).Log("msg", "load session completed", "batches", len(s.groups))
}

func (s *Session[B]) fail(err error) {
	s.state = StateFailed
	s.err = err
	s.release()
	s.metrics.sessions.WithLabelValues(StateFailed.String()).Inc()
	level.Error(s.logger).Log("msg", "load session failed", "yielded", s.yielded, "batches", len(s.groups), "err", err)
}

func (s *Session[B]) release() {
	s.pool.Close()
	s.cancel()
	if discarded := s.queue.Discard(); discarded > 0 {
		level.Debug(s.logger).Log("msg", "discarded prefetched batches", "batches", discarded)
	}
	s.pending = nil
	s.metrics.queueDepth.Set(0)
}
