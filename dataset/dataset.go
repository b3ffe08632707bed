package dataset

import (
	"context"

	"github.com/pkg/errors"
)

var ErrIndexOutOfRange = errors.New("index out of range")

// Dataset is a finite collection of elements addressable by position.
// Implementations must allow Get to be called from multiple goroutines and
// must not change their length while a load session is running.
type Dataset[T any] interface {
	Len() int
	Get(ctx context.Context, i int) (T, error)
}

// CheckIndex returns an error wrapping ErrIndexOutOfRange when i is not in [0, length).
func CheckIndex(i, length int) error {
	if i < 0 || i >= length {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, length)
	}
	return nil
}
