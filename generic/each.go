package generic

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelEach runs exec for every item concurrently and returns the first error.
// The context passed to exec is cancelled as soon as one call fails.
func ParallelEach[T any](ctx context.Context, items []T, exec func(ctx context.Context, i int, item T) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			return exec(ctx, i, item)
		})
	}
	return g.Wait()
}
