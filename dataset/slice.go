package dataset

import "context"

// Slice serves elements from memory.
type Slice[T any] []T

func (s Slice[T]) Len() int { return len(s) }

func (s Slice[T]) Get(_ context.Context, i int) (T, error) {
	if err := CheckIndex(i, len(s)); err != nil {
		var zero T
		return zero, err
	}
	return s[i], nil
}

type funcDataset[T any] struct {
	length int
	get    func(ctx context.Context, i int) (T, error)
}

// FromFunc adapts a retrieval function to a Dataset of the given length.
// Indexes are checked before get is called.
func FromFunc[T any](length int, get func(ctx context.Context, i int) (T, error)) Dataset[T] {
	return &funcDataset[T]{length: length, get: get}
}

func (f *funcDataset[T]) Len() int { return f.length }

func (f *funcDataset[T]) Get(ctx context.Context, i int) (T, error) {
	if err := CheckIndex(i, f.length); err != nil {
		var zero T
		return zero, err
	}
	return f.get(ctx, i)
}

// Indices returns a dataset where every element equals its own position.
func Indices(length int) Dataset[int] {
	return FromFunc(length, func(_ context.Context, i int) (int, error) {
		return i, nil
	})
}
