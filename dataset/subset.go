package dataset

import (
	"context"

	"github.com/pkg/errors"
)

// Subset exposes the elements of a base dataset at the given positions.
type Subset[T any] struct {
	base      Dataset[T]
	positions []int
}

func NewSubset[T any](base Dataset[T], positions []int) (*Subset[T], error) {
	length := base.Len()
	for _, pos := range positions {
		if err := CheckIndex(pos, length); err != nil {
			return nil, errors.Wrap(err, "invalid subset position")
		}
	}
	return &Subset[T]{base: base, positions: positions}, nil
}

func (s *Subset[T]) Len() int { return len(s.positions) }

func (s *Subset[T]) Get(ctx context.Context, i int) (T, error) {
	if err := CheckIndex(i, len(s.positions)); err != nil {
		var zero T
		return zero, err
	}
	return s.base.Get(ctx, s.positions[i])
}
