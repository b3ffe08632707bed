package loader

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sync/errgroup"
)

// Task is a unit of work executed by a Pool. The context is cancelled when
// the pool is closed.
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of goroutines.
// Submission never blocks; tasks wait in an unbounded FIFO until a worker is free.
type Pool struct {
	logger     log.Logger
	numWorkers int

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []Task
	closed bool
}

func NewPool(ctx context.Context, numWorkers int, logger log.Logger) (*Pool, error) {
	if numWorkers < 1 {
		return nil, invalidConfig("number of workers must be positive, got %d", numWorkers)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	p := &Pool{
		logger:     logger,
		numWorkers: numWorkers,
	}
	p.cond = sync.NewCond(&p.mu)
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < numWorkers; i++ {
		p.group.Go(p.work)
	}

	// Wake idle workers when the parent context goes away.
	go func() {
		<-p.ctx.Done()
		p.Close()
	}()
	return p, nil
}

func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.tasks = append(p.tasks, task)
	p.cond.Signal()
	return nil
}

// Close stops the pool from accepting tasks, drops tasks that have not
// started and cancels the context of running ones. It does not wait for
// running tasks to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dropped := len(p.tasks)
	p.tasks = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	if dropped > 0 {
		level.Debug(p.logger).Log("msg", "dropped queued tasks", "tasks", dropped)
	}
}

// Wait blocks until all workers have exited. Workers exit only after Close.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}

func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

func (p *Pool) work() error {
	for {
		task, ok := p.next()
		if !ok {
			return nil
		}
		task(p.ctx)
	}
}

func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.tasks) == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.closed {
		return nil, false
	}

	task := p.tasks[0]
	p.tasks[0] = nil
	p.tasks = p.tasks[1:]
	return task, true
}
