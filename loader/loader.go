package loader

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"fpetkovski/parquet-loader/dataset"
)

// CollateFunc turns the elements of one batch into a single value.
// It is called concurrently for different batches.
type CollateFunc[T, B any] func(ctx context.Context, elements []T) (B, error)

// Batch is a materialized group of dataset elements.
type Batch[B any] struct {
	// Group is the position of the batch in the partition.
	Group int
	// Indices are the dataset positions the batch was built from.
	Indices IndexGroup
	Data    B
}

type result[B any] struct {
	group int
	data  B
	err   error
}

type Option func(*options)

type options struct {
	config  Config
	logger  log.Logger
	metrics *Metrics
}

func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

func WithBatchSize(batchSize int) Option {
	return func(o *options) { o.config.BatchSize = batchSize }
}

func WithNumWorkers(numWorkers int) Option {
	return func(o *options) { o.config.NumWorkers = numWorkers }
}

func WithPrefetchFactor(factor int) Option {
	return func(o *options) { o.config.PrefetchFactor = factor }
}

// WithShuffle shuffles dataset positions with the given seed.
func WithShuffle(seed int64) Option {
	return func(o *options) {
		o.config.Shuffle = true
		o.config.Seed = seed
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *options) { o.config.Timeout = timeout }
}

func WithInOrder() Option {
	return func(o *options) { o.config.InOrder = true }
}

func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(metrics *Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// Loader materializes batches of a dataset ahead of consumption.
// A Loader can start any number of independent sessions.
type Loader[T, B any] struct {
	dataset dataset.Dataset[T]
	collate CollateFunc[T, B]
	opts    options
}

func New[T, B any](ds dataset.Dataset[T], collate CollateFunc[T, B], opts ...Option) *Loader[T, B] {
	o := options{config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.NewNopLogger()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	return &Loader[T, B]{
		dataset: ds,
		collate: collate,
		opts:    o,
	}
}

// NewSlices creates a Loader whose batches are the retrieved elements themselves.
func NewSlices[T any](ds dataset.Dataset[T], opts ...Option) *Loader[T, []T] {
	return New[T, []T](ds, func(_ context.Context, elements []T) ([]T, error) {
		return elements, nil
	}, opts...)
}

func (l *Loader[T, B]) Config() Config {
	return l.opts.config
}

// Load partitions the dataset, submits one task per batch and returns a
// session from which batches can be consumed. Batches are yielded in the
// order they finish unless the InOrder option is set.
func (l *Loader[T, B]) Load(ctx context.Context) (*Session[B], error) {
	cfg := l.opts.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l.dataset == nil {
		return nil, invalidConfig("dataset must not be nil")
	}
	if l.collate == nil {
		return nil, invalidConfig("collate function must not be nil")
	}

	numSamples := l.dataset.Len()
	groups, err := Partition(numSamples, cfg.BatchSize, cfg.Shuffle, cfg.Seed)
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue[result[B]](cfg.QueueCapacity())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	pool, err := NewPool(ctx, cfg.NumWorkers, l.opts.logger)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Session[B]{
		ctx:     ctx,
		cancel:  cancel,
		logger:  l.opts.logger,
		metrics: l.opts.metrics,
		pool:    pool,
		queue:   queue,
		groups:  groups,
		timeout: cfg.Timeout,
		inOrder: cfg.InOrder,
		pending: make(map[int]result[B]),
		state:   StateSubmitting,
	}

	level.Debug(l.opts.logger).Log(
		"msg", "starting load session",
		"samples", numSamples,
		"batches", len(groups),
		"workers", cfg.NumWorkers,
		"queue_capacity", queue.Cap(),
		"shuffle", cfg.Shuffle,
	)
	for i, group := range groups {
		if err := pool.Submit(l.task(i, group, queue)); err != nil {
			s.fail(errors.Wrapf(err, "failed submitting batch %d", i))
			return nil, s.err
		}
	}

	s.state = StateDraining
	if len(groups) == 0 {
		s.complete()
	}
	return s, nil
}

func (l *Loader[T, B]) task(group int, indices IndexGroup, queue *Queue[result[B]]) Task {
	return func(ctx context.Context) {
		start := time.Now()
		res := l.materialize(ctx, group, indices)
		if ctx.Err() != nil {
			return
		}
		l.opts.metrics.taskDuration.Observe(time.Since(start).Seconds())
		if res.err != nil {
			l.opts.metrics.batches.WithLabelValues("error").Inc()
		} else {
			l.opts.metrics.batches.WithLabelValues("ok").Inc()
		}

		if err := queue.Push(ctx, res); err != nil {
			return
		}
		l.opts.metrics.queueDepth.Set(float64(queue.Len()))
	}
}

func (l *Loader[T, B]) materialize(ctx context.Context, group int, indices IndexGroup) (res result[B]) {
	res.group = group
	defer func() {
		if r := recover(); r != nil {
			res.err = errors.Wrapf(ErrTaskPanicked, "batch %d: %v", group, r)
		}
	}()

	elements := make([]T, 0, len(indices))
	for _, i := range indices {
		if err := ctx.Err(); err != nil {
			res.err = err
			return res
		}
		element, err := l.dataset.Get(ctx, i)
		if err != nil {
			res.err = errors.Wrapf(err, "batch %d: failed reading element %d", group, i)
			return res
		}
		elements = append(elements, element)
	}

	data, err := l.collate(ctx, elements)
	if err != nil {
		res.err = &CollateError{Group: group, Err: err}
		return res
	}
	res.data = data
	return res
}
