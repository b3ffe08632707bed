package loader

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/exp/slices"

	"fpetkovski/parquet-loader/dataset"
)

func TestLoadScenario(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := NewSlices(dataset.Indices(10), WithBatchSize(3), WithNumWorkers(2))
	session, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, session.NumBatches())

	batches := drain(t, session)
	require.Len(t, batches, 4)

	sizes := make([]int, 0, len(batches))
	byGroup := make(map[int][]int)
	for _, b := range batches {
		sizes = append(sizes, len(b.Data))
		byGroup[b.Group] = b.Data
	}
	slices.Sort(sizes)
	require.Equal(t, []int{1, 3, 3, 3}, sizes)
	require.Equal(t, map[int][]int{
		0: {0, 1, 2},
		1: {3, 4, 5},
		2: {6, 7, 8},
		3: {9},
	}, byGroup)

	_, err = session.NextBatch()
	require.Equal(t, io.EOF, err)
	require.Equal(t, StateCompleted, session.State())
}

func TestLoadCompleteness(t *testing.T) {
	cases := []struct {
		numSamples     int
		batchSize      int
		numWorkers     int
		prefetchFactor int
		shuffle        bool
	}{
		{numSamples: 1, batchSize: 1, numWorkers: 1, prefetchFactor: 1},
		{numSamples: 100, batchSize: 7, numWorkers: 4, prefetchFactor: 2},
		{numSamples: 100, batchSize: 10, numWorkers: 10, prefetchFactor: 4, shuffle: true},
		{numSamples: 1000, batchSize: 3, numWorkers: 8, prefetchFactor: 1, shuffle: true},
		{numSamples: 5, batchSize: 64, numWorkers: 3, prefetchFactor: 4},
	}
	for _, tcase := range cases {
		name := fmt.Sprintf("samples=%d/batch=%d/workers=%d/prefetch=%d/shuffle=%v",
			tcase.numSamples, tcase.batchSize, tcase.numWorkers, tcase.prefetchFactor, tcase.shuffle)
		t.Run(name, func(t *testing.T) {
			opts := []Option{
				WithBatchSize(tcase.batchSize),
				WithNumWorkers(tcase.numWorkers),
				WithPrefetchFactor(tcase.prefetchFactor),
			}
			if tcase.shuffle {
				opts = append(opts, WithShuffle(1))
			}
			session, err := NewSlices(dataset.Indices(tcase.numSamples), opts...).Load(context.Background())
			require.NoError(t, err)

			batches := drain(t, session)
			expectedBatches := (tcase.numSamples + tcase.batchSize - 1) / tcase.batchSize
			require.Len(t, batches, expectedBatches)

			var (
				all          []int
				shortBatches int
			)
			for _, b := range batches {
				require.Equal(t, []int(b.Indices), b.Data)
				if len(b.Data) != tcase.batchSize {
					shortBatches++
					require.Equal(t, tcase.numSamples%tcase.batchSize, len(b.Data))
				}
				all = append(all, b.Data...)
			}
			require.LessOrEqual(t, shortBatches, 1)

			slices.Sort(all)
			require.Len(t, all, tcase.numSamples)
			for i := range all {
				require.Equal(t, i, all[i])
			}
		})
	}
}

func TestLoadShuffleDeterminism(t *testing.T) {
	load := func(seed int64) [][]int {
		session, err := NewSlices(dataset.Indices(50),
			WithBatchSize(5),
			WithNumWorkers(4),
			WithShuffle(seed),
		).Load(context.Background())
		require.NoError(t, err)

		batches := drain(t, session)
		byGroup := make([][]int, len(batches))
		for _, b := range batches {
			byGroup[b.Group] = b.Data
		}
		return byGroup
	}

	first := load(7)
	require.Equal(t, first, load(7))
	require.NotEqual(t, first, load(8))
}

func TestLoadBackpressure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const (
		numWorkers     = 2
		prefetchFactor = 2
		capacity       = numWorkers * prefetchFactor
	)
	var reads int64
	ds := dataset.FromFunc(1000, func(_ context.Context, i int) (int, error) {
		atomic.AddInt64(&reads, 1)
		return i, nil
	})

	session, err := NewSlices(ds,
		WithNumWorkers(numWorkers),
		WithPrefetchFactor(prefetchFactor),
	).Load(context.Background())
	require.NoError(t, err)

	// A full queue plus one finished batch held by every blocked worker.
	maxInFlight := int64(capacity + numWorkers)
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&reads) == maxInFlight
	}, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, maxInFlight, atomic.LoadInt64(&reads))
	require.Equal(t, capacity, session.Buffered())

	for i := 0; i < 10; i++ {
		_, err := session.NextBatch()
		require.NoError(t, err)
		require.LessOrEqual(t, session.Buffered(), capacity)
	}
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&reads) == maxInFlight+10
	}, time.Second, time.Millisecond)

	batches := drain(t, session)
	require.Len(t, batches, 990)
}

func TestLoadTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ds := dataset.FromFunc(10, func(ctx context.Context, i int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	timeout := 100 * time.Millisecond
	session, err := NewSlices(ds, WithNumWorkers(3), WithTimeout(timeout)).Load(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = session.NextBatch()
	elapsed := time.Since(start)

	require.True(t, errors.Is(err, ErrTimeoutExceeded), err)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, timeout+500*time.Millisecond)
	require.Equal(t, StateFailed, session.State())

	_, again := session.NextBatch()
	require.Equal(t, err, again)
	require.NoError(t, session.Close())
}

func TestLoadDatasetError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ds := dataset.FromFunc(10, func(_ context.Context, i int) (int, error) {
		if i == 7 {
			return 0, dataset.CheckIndex(i, 7)
		}
		return i, nil
	})
	session, err := NewSlices(ds, WithBatchSize(2), WithNumWorkers(2)).Load(context.Background())
	require.NoError(t, err)

	var yielded int
	for {
		_, err = session.NextBatch()
		if err != nil {
			break
		}
		yielded++
	}
	require.NotEqual(t, io.EOF, err)
	require.True(t, errors.Is(err, dataset.ErrIndexOutOfRange), err)
	require.Less(t, yielded, session.NumBatches())
	require.Equal(t, StateFailed, session.State())
	require.Equal(t, err, session.Err())
}

func TestLoadCollateError(t *testing.T) {
	errCollate := errors.New("cannot collate")
	l := New[int, int](dataset.Indices(9), func(_ context.Context, elements []int) (int, error) {
		if slices.Contains(elements, 4) {
			return 0, errCollate
		}
		var sum int
		for _, e := range elements {
			sum += e
		}
		return sum, nil
	}, WithBatchSize(3), WithInOrder())

	session, err := l.Load(context.Background())
	require.NoError(t, err)

	batch, err := session.NextBatch()
	require.NoError(t, err)
	require.Equal(t, 0, batch.Group)
	require.Equal(t, 3, batch.Data)

	_, err = session.NextBatch()
	var collateErr *CollateError
	require.True(t, errors.As(err, &collateErr), err)
	require.Equal(t, 1, collateErr.Group)
	require.True(t, errors.Is(err, errCollate))
}

func TestLoadRecoversPanics(t *testing.T) {
	ds := dataset.FromFunc(4, func(_ context.Context, i int) (int, error) {
		if i == 2 {
			panic("broken element")
		}
		return i, nil
	})
	session, err := NewSlices(ds, WithBatchSize(4)).Load(context.Background())
	require.NoError(t, err)

	_, err = session.NextBatch()
	require.True(t, errors.Is(err, ErrTaskPanicked), err)
}

func TestLoadInOrder(t *testing.T) {
	const numSamples = 40
	ds := dataset.FromFunc(numSamples, func(ctx context.Context, i int) (int, error) {
		// Earlier elements take longer so batches finish in reverse.
		select {
		case <-time.After(time.Duration(numSamples-i) * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return i, nil
	})
	session, err := NewSlices(ds,
		WithBatchSize(4),
		WithNumWorkers(10),
		WithInOrder(),
	).Load(context.Background())
	require.NoError(t, err)

	batches := drain(t, session)
	require.Len(t, batches, 10)
	for i, b := range batches {
		require.Equal(t, i, b.Group)
		require.Equal(t, []int(b.Indices), b.Data)
	}
}

func TestSessionCloseReleasesWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ds := dataset.FromFunc(1000, func(ctx context.Context, i int) (int, error) {
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		return i, nil
	})
	session, err := NewSlices(ds, WithNumWorkers(4), WithPrefetchFactor(1)).Load(context.Background())
	require.NoError(t, err)

	_, err = session.NextBatch()
	require.NoError(t, err)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	_, err = session.NextBatch()
	require.True(t, errors.Is(err, ErrSessionClosed), err)
}

func TestSessionEach(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	session, err := NewSlices(dataset.Indices(20), WithBatchSize(5)).Load(context.Background())
	require.NoError(t, err)

	var count int
	require.NoError(t, session.Each(func(b Batch[[]int]) error {
		count += len(b.Data)
		return nil
	}))
	require.Equal(t, 20, count)

	errStop := errors.New("stop")
	session, err = NewSlices(dataset.Indices(20), WithBatchSize(5)).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, errStop, session.Each(func(b Batch[[]int]) error {
		return errStop
	}))
	require.Equal(t, StateFailed, session.State())
}

func TestLoadContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ds := dataset.FromFunc(10, func(ctx context.Context, i int) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	session, err := NewSlices(ds).Load(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = session.NextBatch()
	require.True(t, errors.Is(err, context.Canceled), err)
}

func TestLoadEmptyDataset(t *testing.T) {
	session, err := NewSlices(dataset.Indices(0), WithBatchSize(3)).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, session.State())

	_, err = session.NextBatch()
	require.Equal(t, io.EOF, err)
}

func TestLoadInvalidConfiguration(t *testing.T) {
	cases := []struct {
		name string
		ds   dataset.Dataset[int]
		opts []Option
	}{
		{name: "zero batch size", ds: dataset.Indices(10), opts: []Option{WithBatchSize(0)}},
		{name: "zero workers", ds: dataset.Indices(10), opts: []Option{WithNumWorkers(0)}},
		{name: "negative prefetch factor", ds: dataset.Indices(10), opts: []Option{WithPrefetchFactor(-1)}},
		{name: "negative timeout", ds: dataset.Indices(10), opts: []Option{WithTimeout(-time.Second)}},
		{name: "negative dataset length", ds: dataset.Indices(-1)},
		{name: "nil dataset", ds: nil},
	}
	for _, tcase := range cases {
		t.Run(tcase.name, func(t *testing.T) {
			defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

			_, err := NewSlices(tcase.ds, tcase.opts...).Load(context.Background())
			require.True(t, errors.Is(err, ErrInvalidConfiguration), err)
		})
	}
}

func TestLoadMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	session, err := NewSlices(dataset.Indices(10), WithBatchSize(3), WithMetrics(metrics)).Load(context.Background())
	require.NoError(t, err)
	drain(t, session)

	require.Equal(t, 4.0, testutil.ToFloat64(metrics.batches.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.sessions.WithLabelValues("completed")))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func drain[B any](t *testing.T, session *Session[B]) []Batch[B] {
	t.Helper()
	var batches []Batch[B]
	for {
		batch, err := session.NextBatch()
		if err == io.EOF {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, batch)
	}
}
